package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/gilco1973/videobroker/internal/breaker"
	"github.com/gilco1973/videobroker/internal/job"
	"github.com/gilco1973/videobroker/internal/orchestrator"
	"github.com/gilco1973/videobroker/internal/perf"
	"github.com/gilco1973/videobroker/internal/provider"
	"github.com/gilco1973/videobroker/internal/reconcile"
	"github.com/gilco1973/videobroker/internal/selection"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20 // 1 MiB

// Service is the orchestrator surface the handlers call.
type Service interface {
	Submit(ctx context.Context, req orchestrator.GenerationRequest) (orchestrator.SubmitResult, error)
	Status(ctx context.Context, jobID string) (*job.Job, error)
	Cancel(ctx context.Context, jobID string) (*job.Job, error)
}

// WebhookSink processes authenticated provider callbacks.
type WebhookSink interface {
	Process(ctx context.Context, providerID string, header http.Header, body []byte) (*job.Job, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   Service
	webhooks  WebhookSink
	registry  *provider.Registry
	breakers  *breaker.Set
	tracker   *perf.Tracker
	hub       *reconcile.Hub
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service Service, webhooks WebhookSink, registry *provider.Registry, breakers *breaker.Set, tracker *perf.Tracker, hub *reconcile.Hub, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		webhooks:  webhooks,
		registry:  registry,
		breakers:  breakers,
		tracker:   tracker,
		hub:       hub,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// SubmitVideo handles POST /v1/videos requests.
func (h *Handlers) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	allowFallback := true
	if req.AllowFallback != nil {
		allowFallback = *req.AllowFallback
	}

	result, err := h.service.Submit(r.Context(), orchestrator.GenerationRequest{
		JobID:         req.JobID,
		Script:        req.Script,
		Topic:         req.Topic,
		Duration:      orchestrator.DurationClass(req.Duration),
		Style:         req.Style,
		CustomVoice:   req.CustomVoice,
		VoiceID:       req.VoiceID,
		CustomAvatar:  req.CustomAvatar,
		AvatarID:      req.AvatarID,
		Subtitles:     req.Subtitles,
		Emotion:       req.Emotion,
		EmotionHint:   req.EmotionHint,
		Urgent:        req.Urgent,
		Quality:       provider.QualityTier(req.Quality),
		Preference:    selection.Preference(req.Preference),
		AllowFallback: allowFallback,
		Width:         req.Width,
		Height:        req.Height,
		Format:        req.Format,
		AspectRatio:   req.AspectRatio,
	})
	if err != nil {
		h.writeSubmitError(w, result, err)
		return
	}

	h.logger.Info("video submitted",
		slog.String("job_id", result.JobID),
		slog.String("provider", result.Provider),
	)

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:    result.JobID,
		Provider: result.Provider,
		Status:   string(result.Status),
	})
}

// writeSubmitError maps a submit failure to an HTTP response.
func (h *Handlers) writeSubmitError(w http.ResponseWriter, result orchestrator.SubmitResult, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrScriptRequired),
		errors.Is(err, orchestrator.ErrInvalidDurationClass):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}

	if pe, ok := provider.AsError(err); ok {
		switch pe.Code {
		case provider.CodeInvalidParameters:
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_PARAMETERS")
			return
		case provider.CodeInsufficientCredits, provider.CodeQuotaExceeded:
			writeError(w, http.StatusPaymentRequired, err.Error(), "INSUFFICIENT_CREDITS")
			return
		case provider.CodeUnavailable, provider.CodeRateLimited:
			writeError(w, http.StatusServiceUnavailable, err.Error(), "PROVIDERS_UNAVAILABLE")
			return
		}
	}

	h.logger.Error("submit failed",
		slog.String("job_id", result.JobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusBadGateway, err.Error(), "DISPATCH_FAILED")
}

// GetVideo handles GET /v1/videos/{id} requests.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(found))
}

// CancelVideo handles POST /v1/videos/{id}/cancel requests.
func (h *Handlers) CancelVideo(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(cancelled))
}

// ProviderWebhook handles POST /webhooks/{provider} requests. Signature
// verification happens in the reconciliation layer; a delivery that fails
// authentication is rejected without touching job state.
func (h *Handlers) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "INVALID_BODY")
		return
	}

	if _, err := h.webhooks.Process(r.Context(), providerID, r.Header, body); err != nil {
		if errors.Is(err, job.ErrMappingNotFound) {
			writeError(w, http.StatusNotFound, "no job for delivery", "UNKNOWN_JOB")
			return
		}
		if pe, ok := provider.AsError(err); ok && pe.Code == provider.CodeWebhook {
			writeError(w, http.StatusUnauthorized, pe.Message, "WEBHOOK_REJECTED")
			return
		}
		h.logger.Error("webhook processing failed",
			slog.String("provider", providerID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "webhook processing failed", "WEBHOOK_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}

// Providers handles GET /v1/providers requests: the operational dashboard
// of capabilities, breaker states, and performance statistics.
func (h *Handlers) Providers(w http.ResponseWriter, r *http.Request) {
	resp := ProvidersResponse{
		Aggregate: h.tracker.Dashboard(),
	}
	for _, a := range h.registry.All() {
		snap, _ := h.tracker.Snapshot(a.ID())
		resp.Providers = append(resp.Providers, ProviderInfo{
			ID:           a.ID(),
			Capabilities: a.Capabilities(),
			Breaker:      h.breakers.For(a.ID()).Health(),
			Performance:  snap,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// jobResponse converts a job record to its DTO.
func jobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:           j.ID,
		Provider:     j.Provider,
		Status:       string(j.Status),
		Progress:     j.Progress,
		ResultURL:    j.ResultURL,
		ThumbnailURL: j.ThumbnailURL,
		Error:        j.Error,
		Attempts:     j.Attempts,
		CreatedAt:    j.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:    j.UpdatedAt.UTC().Format(timeLayout),
	}
}

// timeLayout is RFC3339 for all timestamps in responses.
const timeLayout = "2006-01-02T15:04:05Z07:00"

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
