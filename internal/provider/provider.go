// Package provider defines the common contract for video generation
// providers. Each adapter wraps one external API, declares its capabilities,
// and maps the provider's status vocabulary into the canonical Status used
// by the rest of the system.
package provider

import (
	"context"
	"time"
)

// Status is the canonical status vocabulary all provider-specific statuses
// are mapped into.
type Status string

// Canonical job statuses across providers.
const (
	StatusQueued     Status = "queued"     // Accepted by the provider, not yet running
	StatusProcessing Status = "processing" // Generation in progress
	StatusCompleted  Status = "completed"  // Finished successfully, result available
	StatusFailed     Status = "failed"     // Failed on the provider side
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// QualityTier is the declared output quality class of a provider.
type QualityTier string

// Quality tiers in ascending order.
const (
	TierBasic    QualityTier = "basic"
	TierStandard QualityTier = "standard"
	TierPremium  QualityTier = "premium"
)

// Rank returns the numeric rank of the tier for scoring. Unknown tiers
// rank as standard.
func (t QualityTier) Rank() int {
	switch t {
	case TierBasic:
		return 0
	case TierPremium:
		return 2
	default:
		return 1
	}
}

// Capabilities is the static declaration of what an adapter can do.
// Loaded at adapter construction and never mutated.
type Capabilities struct {
	// MaxDurationSec is the longest video the provider will generate.
	MaxDurationSec int
	// MaxWidth and MaxHeight bound the output resolution.
	MaxWidth  int
	MaxHeight int
	// Formats lists supported container formats (e.g. "mp4").
	Formats []string
	// AspectRatios lists supported aspect ratios (e.g. "16:9").
	AspectRatios []string
	// Feature flags.
	VoiceCloning     bool
	CustomAvatars    bool
	RealtimeCallback bool
	Subtitles        bool
	EmotionControl   bool
	// CostPerRequest is the estimated base cost of one generation.
	CostPerRequest float64
	// Quality is the declared output quality tier.
	Quality QualityTier
	// Priority breaks scoring ties; lower wins.
	Priority int
}

// Requirements captures what a single request needs from a provider.
// Derived once from the generation request and treated as immutable.
type Requirements struct {
	DurationSec    int
	Width          int
	Height         int
	Format         string
	AspectRatio    string
	VoiceCloning   bool
	CustomAvatar   bool
	Subtitles      bool
	EmotionControl bool
	Quality        QualityTier
}

// Supports reports whether the declared capabilities satisfy the
// requirements. Pure; used both for pre-selection filtering and for
// defensive re-validation before dispatch.
func (c Capabilities) Supports(req Requirements) bool {
	if req.DurationSec > c.MaxDurationSec {
		return false
	}
	if req.Width > c.MaxWidth || req.Height > c.MaxHeight {
		return false
	}
	if req.Format != "" && !contains(c.Formats, req.Format) {
		return false
	}
	if req.AspectRatio != "" && !contains(c.AspectRatios, req.AspectRatio) {
		return false
	}
	if req.VoiceCloning && !c.VoiceCloning {
		return false
	}
	if req.CustomAvatar && !c.CustomAvatars {
		return false
	}
	if req.Subtitles && !c.Subtitles {
		return false
	}
	if req.EmotionControl && !c.EmotionControl {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// DispatchInput contains everything an adapter needs to start a generation.
type DispatchInput struct {
	// JobID is the canonical job identifier, echoed back so webhook
	// payloads can be correlated even before the external mapping exists.
	JobID string
	// Script is the final text the video is generated from.
	Script string
	// Style is a free-form rendering hint.
	Style string
	// AvatarID and VoiceID select custom assets when the matching
	// feature flags are set in Requirements.
	AvatarID string
	VoiceID  string
	// Emotion is a voice emotion hint, honored by providers with
	// emotion control.
	Emotion string
	// Requirements carries the derived constraints for re-validation.
	Requirements Requirements
	// WebhookURL is where the provider should deliver callbacks, when
	// the adapter supports them. Empty disables callback registration.
	WebhookURL string
}

// Dispatch is the result of a successful dispatch call.
type Dispatch struct {
	// ExternalID is the provider-assigned identifier for the job.
	ExternalID string
	// Status is the initial canonical status reported by the provider.
	Status Status
}

// StatusUpdate is one observation of a job's state on the provider side,
// produced by both the polling path and the webhook path.
type StatusUpdate struct {
	Status       Status
	Progress     int // 0-100
	ResultURL    string
	ThumbnailURL string
	// Err carries the provider-reported failure reason when Status is failed.
	Err string
}

// DefaultProgress derives a coarse progress value for providers that do not
// report one.
func DefaultProgress(s Status) int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 50
	case StatusCompleted:
		return 100
	default:
		return 0
	}
}

// billingBlocks returns how many whole billing blocks a duration spans,
// with a minimum of one.
func billingBlocks(durationSec, blockSec int) int {
	if durationSec <= 0 {
		return 1
	}
	return (durationSec + blockSec - 1) / blockSec
}

// WebhookEvent is a parsed inbound callback from a provider.
type WebhookEvent struct {
	// ExternalID identifies the provider-side job the event refers to.
	ExternalID string
	// Update is the state carried by the event.
	Update StatusUpdate
	// ReceivedAt is when the event was parsed.
	ReceivedAt time.Time
}

// Adapter is the mandatory method set every provider implements.
// Add new providers by adding an implementation, never by branching on
// provider ids inside shared logic.
type Adapter interface {
	// ID returns the stable provider identifier (e.g. "heygen").
	ID() string

	// Capabilities returns the static capability declaration.
	Capabilities() Capabilities

	// CanHandle reports whether the provider can serve the requirements.
	// Pure function, no I/O.
	CanHandle(req Requirements) bool

	// EstimateCost estimates the cost of serving the requirements.
	EstimateCost(req Requirements) float64

	// Dispatch starts a generation on the provider.
	Dispatch(ctx context.Context, in DispatchInput) (Dispatch, error)

	// CheckStatus polls the provider for the current state of a job.
	CheckStatus(ctx context.Context, externalID string) (StatusUpdate, error)
}

// WebhookAdapter is implemented by adapters whose provider pushes status
// callbacks. ParseWebhook never performs I/O; signature verification
// happens before it is called.
type WebhookAdapter interface {
	Adapter

	// ParseWebhook decodes a raw callback payload into a WebhookEvent.
	ParseWebhook(payload []byte) (WebhookEvent, error)

	// WebhookSecret returns the shared secret used to verify callback
	// signatures for this provider.
	WebhookSecret() string
}

// Canceler is implemented by adapters that can abort a job on the
// provider side. Cancellation is best-effort; providers may keep billing.
type Canceler interface {
	CancelJob(ctx context.Context, externalID string) error
}
