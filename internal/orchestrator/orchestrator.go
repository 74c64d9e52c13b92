// Package orchestrator is the composition root of the video brokering core.
// Submit selects a provider, dispatches the generation, and hands the job to
// the reconciliation layer; Status reads the canonical record; Cancel stops
// tracking and makes a best-effort attempt to abort provider-side work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gilco1973/videobroker/internal/artifact"
	"github.com/gilco1973/videobroker/internal/job"
	"github.com/gilco1973/videobroker/internal/job/id"
	"github.com/gilco1973/videobroker/internal/provider"
	"github.com/gilco1973/videobroker/internal/reconcile"
	"github.com/gilco1973/videobroker/internal/recovery"
	"github.com/gilco1973/videobroker/internal/script"
	"github.com/gilco1973/videobroker/internal/selection"
)

// Static validation errors.
var (
	// ErrScriptRequired is returned when a request carries neither a
	// script nor a topic to generate one from.
	ErrScriptRequired = errors.New("orchestrator: script or topic is required")
	// ErrInvalidDurationClass is returned for an unknown duration class.
	ErrInvalidDurationClass = errors.New("orchestrator: invalid duration class")
)

// DurationClass buckets requests by target length.
type DurationClass string

// Duration classes and their target lengths in seconds.
const (
	DurationShort  DurationClass = "short"  // ~30s
	DurationMedium DurationClass = "medium" // ~60s
	DurationLong   DurationClass = "long"   // ~180s
)

// Seconds returns the target duration for the class.
func (d DurationClass) Seconds() (int, error) {
	switch d {
	case DurationShort, "":
		return 30, nil
	case DurationMedium:
		return 60, nil
	case DurationLong:
		return 180, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationClass, d)
	}
}

// lazyWatchFactor slows the safety-net poll behind webhook-capable
// providers; their webhook normally lands long before the first poll.
const lazyWatchFactor = 5

// GenerationRequest is the immutable input to Submit. Created once at
// submission and never mutated.
type GenerationRequest struct {
	// JobID is the caller-supplied idempotency key. Generated when empty.
	JobID string
	// Script is the text the video is generated from. When empty, Topic
	// is handed to the script generation collaborator.
	Script string
	// Topic seeds script generation when Script is empty.
	Topic string
	// Duration selects a target length bucket.
	Duration DurationClass
	// Style is a free-form rendering hint.
	Style string

	// Feature flags, with their optional asset selectors.
	CustomVoice  bool
	VoiceID      string
	CustomAvatar bool
	AvatarID     string
	Subtitles    bool
	Emotion      bool
	EmotionHint  string

	// Urgent requests shift selection toward faster providers.
	Urgent bool
	// Quality is the requested output tier.
	Quality provider.QualityTier
	// Preference selects the scoring mix.
	Preference selection.Preference
	// AllowFallback permits failover to another provider after a failed
	// dispatch. The HTTP layer defaults it to true.
	AllowFallback bool

	// Optional explicit output constraints. Zero values fall back to the
	// quality tier's defaults.
	Width       int
	Height      int
	Format      string
	AspectRatio string
}

// requirements derives the hard provider constraints from the request.
func (r GenerationRequest) requirements() (provider.Requirements, error) {
	sec, err := r.Duration.Seconds()
	if err != nil {
		return provider.Requirements{}, err
	}

	width, height := r.Width, r.Height
	if width == 0 || height == 0 {
		if r.Quality == provider.TierBasic {
			width, height = 1280, 720
		} else {
			width, height = 1920, 1080
		}
	}

	return provider.Requirements{
		DurationSec:    sec,
		Width:          width,
		Height:         height,
		Format:         r.Format,
		AspectRatio:    r.AspectRatio,
		VoiceCloning:   r.CustomVoice,
		CustomAvatar:   r.CustomAvatar,
		Subtitles:      r.Subtitles,
		EmotionControl: r.Emotion,
		Quality:        r.Quality,
	}, nil
}

// SubmitResult is the synchronous answer to a submit: the job is placed
// (or terminally failed), not finished.
type SubmitResult struct {
	JobID    string     `json:"job_id"`
	Provider string     `json:"provider,omitempty"`
	Status   job.Status `json:"status"`
}

// Orchestrator wires selection, recovery, and reconciliation together.
type Orchestrator struct {
	store    job.Store
	runner   *recovery.Runner
	rec      *reconcile.Reconciler
	poller   *reconcile.Poller
	registry *provider.Registry
	logger   *slog.Logger

	scripts     script.Generator
	artifacts   artifact.Store
	mirrorHTTP  *http.Client
	webhookBase string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScriptGenerator wires the external script generation collaborator.
// Without one, requests must carry their script.
func WithScriptGenerator(g script.Generator) Option {
	return func(o *Orchestrator) {
		o.scripts = g
	}
}

// WithArtifactStore enables result mirroring: completed results are copied
// into the store and the job record is repointed at the durable URL.
func WithArtifactStore(s artifact.Store, client *http.Client) Option {
	return func(o *Orchestrator) {
		o.artifacts = s
		o.mirrorHTTP = client
	}
}

// WithWebhookBaseURL sets the public base URL providers deliver callbacks
// to, e.g. "https://api.example.com". Empty disables callback registration.
func WithWebhookBaseURL(base string) Option {
	return func(o *Orchestrator) {
		o.webhookBase = base
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator.
func New(store job.Store, runner *recovery.Runner, rec *reconcile.Reconciler, poller *reconcile.Poller, registry *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		runner:   runner,
		rec:      rec,
		poller:   poller,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit places one generation request with a provider. It returns once the
// dispatch succeeded or recovery is exhausted; it never waits for the video.
// Re-submitting a job id that already has a live or completed job returns
// that job's current state instead of dispatching again.
func (o *Orchestrator) Submit(ctx context.Context, req GenerationRequest) (SubmitResult, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = id.Generate()
	}

	if existing, err := o.store.Get(ctx, jobID); err == nil {
		if existing.Status != job.StatusFailed {
			return SubmitResult{JobID: existing.ID, Provider: existing.Provider, Status: existing.Status}, nil
		}
		// A failed job may be resubmitted under the same id.
	} else if !errors.Is(err, job.ErrJobNotFound) {
		return SubmitResult{}, fmt.Errorf("orchestrator: check existing job: %w", err)
	}

	text := req.Script
	if text == "" && o.scripts != nil && req.Topic != "" {
		generated, err := o.scripts.GenerateScript(ctx, script.Brief{
			Topic:       req.Topic,
			Style:       req.Style,
			DurationSec: durationOrZero(req.Duration),
		})
		if err != nil {
			return SubmitResult{}, fmt.Errorf("orchestrator: generate script: %w", err)
		}
		text = generated
	}
	if text == "" {
		return SubmitResult{}, ErrScriptRequired
	}

	reqs, err := req.requirements()
	if err != nil {
		return SubmitResult{}, err
	}

	in := provider.DispatchInput{
		JobID:        jobID,
		Script:       text,
		Style:        req.Style,
		AvatarID:     req.AvatarID,
		VoiceID:      req.VoiceID,
		Emotion:      req.EmotionHint,
		Requirements: reqs,
		WebhookURL:   o.webhookBase,
	}
	crit := selection.Criteria{
		Requirements: reqs,
		Preference:   req.Preference,
		Urgent:       req.Urgent,
	}

	var dispatchOpts []recovery.DispatchOption
	if !req.AllowFallback {
		dispatchOpts = append(dispatchOpts, recovery.WithoutFailover())
	}

	result, err := o.runner.Dispatch(ctx, in, crit, dispatchOpts...)
	if err != nil {
		// Record the terminal failure so Status always has an answer.
		o.recordFailedSubmit(ctx, jobID, result.Attempt, err)
		return SubmitResult{JobID: jobID, Status: job.StatusFailed}, err
	}

	providerID := result.Adapter.ID()
	j := job.New(jobID, providerID, result.Dispatch.ExternalID)
	j.Attempts = result.Attempt.Count
	if result.Dispatch.Status == provider.StatusProcessing {
		j.Status = job.StatusProcessing
		j.Progress = provider.DefaultProgress(provider.StatusProcessing)
	}

	if err := o.store.Save(ctx, j); err != nil {
		return SubmitResult{}, fmt.Errorf("orchestrator: persist job: %w", err)
	}
	if err := o.store.SaveMapping(ctx, providerID, result.Dispatch.ExternalID, jobID); err != nil {
		return SubmitResult{}, fmt.Errorf("orchestrator: persist external mapping: %w", err)
	}

	o.watch(result.Adapter, j)

	o.logger.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("provider", providerID),
		slog.String("external_id", result.Dispatch.ExternalID),
		slog.Int("attempts", result.Attempt.Count),
	)

	return SubmitResult{JobID: jobID, Provider: providerID, Status: j.Status}, nil
}

// watch starts the polling watcher for a freshly dispatched job. Providers
// that push webhooks still get a lazy safety-net watcher: a lost webhook
// must not strand the job, and the idempotent apply path makes the overlap
// harmless.
func (o *Orchestrator) watch(adapter provider.Adapter, j *job.Job) {
	if wa, ok := adapter.(provider.WebhookAdapter); ok && wa.WebhookSecret() != "" && o.webhookBase != "" {
		o.poller.Watch(j.ID, j.Provider, j.ExternalID,
			reconcile.WithInitialInterval(lazyWatchFactor*reconcile.DefaultPollInitial))
		return
	}
	o.poller.Watch(j.ID, j.Provider, j.ExternalID)
}

// recordFailedSubmit persists a failed job record after recovery exhaustion.
func (o *Orchestrator) recordFailedSubmit(ctx context.Context, jobID string, attempt recovery.Attempt, cause error) {
	now := time.Now()
	j := &job.Job{
		ID:          jobID,
		Status:      job.StatusFailed,
		Error:       cause.Error(),
		Attempts:    attempt.Count,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: now,
	}
	if n := len(attempt.Tried); n > 0 {
		j.Provider = attempt.Tried[n-1]
	}
	if err := o.store.Save(ctx, j); err != nil {
		o.logger.Error("persist failed job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// Status returns the canonical record for a job. Read-only.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*job.Job, error) {
	return o.store.Get(ctx, jobID)
}

// List returns all known jobs.
func (o *Orchestrator) List(ctx context.Context) ([]*job.Job, error) {
	return o.store.List(ctx)
}

// Cancel marks a job cancelled, stops its watcher, and makes a best-effort
// attempt to abort the provider-side work. Provider-side cancellation is
// not guaranteed: billing may continue.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := o.rec.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	o.poller.Stop(jobID)

	if j.Status != job.StatusCancelled {
		// Already terminal before the cancel landed.
		return j, nil
	}

	if adapter, err := o.registry.Get(j.Provider); err == nil {
		if c, ok := adapter.(provider.Canceler); ok {
			go func(externalID string) {
				cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				if err := c.CancelJob(cctx, externalID); err != nil {
					o.logger.Warn("provider-side cancel failed",
						slog.String("job_id", jobID),
						slog.String("provider", j.Provider),
						slog.String("error", err.Error()),
					)
				}
			}(j.ExternalID)
		}
	}
	return j, nil
}

// HandleCompletion mirrors a completed job's result into durable artifact
// storage and repoints the record at the mirrored URL. Wired as the
// reconciler's completion hook when an artifact store is configured; a
// mirror failure leaves the provider URL in place.
func (o *Orchestrator) HandleCompletion(j job.Job) {
	if o.artifacts == nil || j.ResultURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	key := fmt.Sprintf("jobs/%s/result.mp4", j.ID)
	url, err := artifact.Mirror(ctx, o.mirrorHTTP, o.artifacts, j.ResultURL, key)
	if err != nil {
		o.logger.Warn("result mirroring failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	// The job is terminal, so its status no longer changes; only the
	// result location is rewritten.
	stored, err := o.store.Get(ctx, j.ID)
	if err != nil {
		o.logger.Error("load job for mirror update", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		return
	}
	stored.ResultURL = url
	stored.UpdatedAt = time.Now()
	if err := o.store.Save(ctx, stored); err != nil {
		o.logger.Error("save mirrored result", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		return
	}

	o.logger.Info("result mirrored",
		slog.String("job_id", j.ID),
		slog.String("url", url),
	)
}

// durationOrZero is Seconds without the error, for the script brief.
func durationOrZero(d DurationClass) int {
	sec, err := d.Seconds()
	if err != nil {
		return 0
	}
	return sec
}
