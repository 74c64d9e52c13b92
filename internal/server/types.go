// Package server provides the HTTP surface of the video broker: submit,
// status and cancel endpoints, provider webhook ingress, a websocket event
// stream, and an operational provider dashboard. DTOs are separated from
// domain types.
package server

import (
	"github.com/gilco1973/videobroker/internal/breaker"
	"github.com/gilco1973/videobroker/internal/perf"
	"github.com/gilco1973/videobroker/internal/provider"
)

// SubmitRequest is the HTTP request body for submitting a generation.
type SubmitRequest struct {
	// JobID is an optional caller-supplied idempotency key.
	JobID string `json:"job_id" validate:"omitempty,max=128"`
	// Script is the text to generate from. Either Script or Topic must be set.
	Script string `json:"script" validate:"required_without=Topic,max=20000"`
	// Topic seeds external script generation when Script is empty.
	Topic string `json:"topic" validate:"omitempty,max=500"`
	// Duration is the target length bucket.
	Duration string `json:"duration" validate:"omitempty,oneof=short medium long"`
	// Style is a free-form rendering hint.
	Style string `json:"style" validate:"omitempty,max=200"`

	// Feature flags and their optional asset selectors.
	CustomVoice  bool   `json:"custom_voice"`
	VoiceID      string `json:"voice_id" validate:"omitempty,max=128"`
	CustomAvatar bool   `json:"custom_avatar"`
	AvatarID     string `json:"avatar_id" validate:"omitempty,max=128"`
	Subtitles    bool   `json:"subtitles"`
	Emotion      bool   `json:"emotion"`
	EmotionHint  string `json:"emotion_hint" validate:"omitempty,max=64"`

	// Urgent shifts selection toward faster providers.
	Urgent bool `json:"urgent"`
	// Quality is the requested output tier.
	Quality string `json:"quality" validate:"omitempty,oneof=basic standard premium"`
	// Preference selects the scoring mix.
	Preference string `json:"preference" validate:"omitempty,oneof=speed quality cost"`
	// AllowFallback permits failover to another provider. Defaults to true.
	AllowFallback *bool `json:"allow_fallback"`

	// Optional explicit output constraints.
	Width       int    `json:"width" validate:"omitempty,min=16,max=7680"`
	Height      int    `json:"height" validate:"omitempty,min=16,max=4320"`
	Format      string `json:"format" validate:"omitempty,max=16"`
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,max=16"`
}

// SubmitResponse is the HTTP response after a successful submit.
type SubmitResponse struct {
	JobID    string `json:"job_id"`
	Provider string `json:"provider"`
	Status   string `json:"status"`
}

// JobResponse is the HTTP response for job status reads.
type JobResponse struct {
	ID           string `json:"id"`
	Provider     string `json:"provider,omitempty"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	ResultURL    string `json:"result_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Error        string `json:"error,omitempty"`
	Attempts     int    `json:"attempts"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// WebhookResponse acknowledges an accepted provider callback.
type WebhookResponse struct {
	Received bool `json:"received"`
}

// ProviderInfo is one entry in the provider dashboard.
type ProviderInfo struct {
	ID           string                `json:"id"`
	Capabilities provider.Capabilities `json:"capabilities"`
	Breaker      breaker.Health        `json:"breaker"`
	Performance  perf.Snapshot         `json:"performance"`
}

// ProvidersResponse is the provider dashboard payload.
type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
	Aggregate perf.Dashboard `json:"aggregate"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
