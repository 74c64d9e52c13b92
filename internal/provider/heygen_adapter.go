package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gilco1973/videobroker/internal/heygen"
)

// ProviderHeyGen is the registry id of the HeyGen adapter.
const ProviderHeyGen = "heygen"

// defaultHeyGenCapabilities reflects the HeyGen avatar video API.
// HeyGen pushes webhook callbacks, so polling is only a safety net.
var defaultHeyGenCapabilities = Capabilities{
	MaxDurationSec:   300,
	MaxWidth:         3840,
	MaxHeight:        2160,
	Formats:          []string{"mp4", "webm"},
	AspectRatios:     []string{"16:9", "9:16", "1:1"},
	VoiceCloning:     true,
	CustomAvatars:    true,
	RealtimeCallback: true,
	Subtitles:        true,
	EmotionControl:   true,
	CostPerRequest:   0.50,
	Quality:          TierPremium,
	Priority:         1,
}

// HeyGenAdapter adapts the HeyGen client to the Adapter interface.
type HeyGenAdapter struct {
	client        heygen.Client
	caps          Capabilities
	webhookSecret string
	defaultAvatar string
	defaultVoice  string
}

// HeyGenOption configures a HeyGenAdapter.
type HeyGenOption func(*HeyGenAdapter)

// WithHeyGenCapabilities overrides the default capability declaration.
func WithHeyGenCapabilities(caps Capabilities) HeyGenOption {
	return func(a *HeyGenAdapter) {
		a.caps = caps
	}
}

// WithHeyGenWebhookSecret sets the shared secret used to verify inbound
// webhook signatures.
func WithHeyGenWebhookSecret(secret string) HeyGenOption {
	return func(a *HeyGenAdapter) {
		a.webhookSecret = secret
	}
}

// WithHeyGenDefaults sets the avatar and voice used when a request does not
// name its own.
func WithHeyGenDefaults(avatarID, voiceID string) HeyGenOption {
	return func(a *HeyGenAdapter) {
		a.defaultAvatar = avatarID
		a.defaultVoice = voiceID
	}
}

// NewHeyGenAdapter creates a new HeyGen provider adapter.
func NewHeyGenAdapter(client heygen.Client, opts ...HeyGenOption) *HeyGenAdapter {
	a := &HeyGenAdapter{
		client:        client,
		caps:          defaultHeyGenCapabilities,
		defaultAvatar: "Daisy-inskirt-20220818",
		defaultVoice:  "2d5b0e6cf36f460aa7fc47e3eee4ba54",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the stable provider identifier.
func (a *HeyGenAdapter) ID() string { return ProviderHeyGen }

// Capabilities returns the static capability declaration.
func (a *HeyGenAdapter) Capabilities() Capabilities { return a.caps }

// CanHandle reports whether HeyGen can serve the requirements.
func (a *HeyGenAdapter) CanHandle(req Requirements) bool { return a.caps.Supports(req) }

// EstimateCost estimates the cost of serving the requirements.
// HeyGen bills per 30-second block.
func (a *HeyGenAdapter) EstimateCost(req Requirements) float64 {
	return a.caps.CostPerRequest * float64(billingBlocks(req.DurationSec, 30))
}

// Dispatch starts an avatar video generation on HeyGen.
func (a *HeyGenAdapter) Dispatch(ctx context.Context, in DispatchInput) (Dispatch, error) {
	if !a.caps.Supports(in.Requirements) {
		return Dispatch{}, NewError(ProviderHeyGen, CodeInvalidParameters, "requirements exceed declared capabilities", nil)
	}

	avatarID := in.AvatarID
	if avatarID == "" {
		avatarID = a.defaultAvatar
	}
	voiceID := in.VoiceID
	if voiceID == "" {
		voiceID = a.defaultVoice
	}

	videoID, err := a.client.CreateVideo(ctx, heygen.CreateVideoInput{
		Title:      in.JobID,
		Script:     in.Script,
		AvatarID:   avatarID,
		VoiceID:    voiceID,
		Emotion:    in.Emotion,
		Width:      in.Requirements.Width,
		Height:     in.Requirements.Height,
		CallbackID: in.JobID,
		Caption:    in.Requirements.Subtitles,
	})
	if err != nil {
		return Dispatch{}, a.translateErr(err)
	}

	return Dispatch{ExternalID: videoID, Status: StatusQueued}, nil
}

// CheckStatus polls HeyGen for the current state of a video.
func (a *HeyGenAdapter) CheckStatus(ctx context.Context, externalID string) (StatusUpdate, error) {
	vs, err := a.client.GetVideoStatus(ctx, externalID)
	if err != nil {
		return StatusUpdate{}, a.translateErr(err)
	}

	update := StatusUpdate{
		Status:       mapHeyGenStatus(vs.Status),
		ResultURL:    vs.VideoURL,
		ThumbnailURL: vs.ThumbnailURL,
		Err:          vs.Error,
	}
	update.Progress = DefaultProgress(update.Status)
	return update, nil
}

// ParseWebhook decodes a raw HeyGen callback payload.
func (a *HeyGenAdapter) ParseWebhook(payload []byte) (WebhookEvent, error) {
	var wp heygen.WebhookPayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return WebhookEvent{}, NewError(ProviderHeyGen, CodeWebhook, "malformed webhook payload", err)
	}
	if wp.EventData.VideoID == "" {
		return WebhookEvent{}, NewError(ProviderHeyGen, CodeWebhook, "webhook payload missing video id", nil)
	}

	event := WebhookEvent{
		ExternalID: wp.EventData.VideoID,
		ReceivedAt: time.Now(),
	}

	switch wp.EventType {
	case heygen.EventVideoSuccess:
		event.Update = StatusUpdate{
			Status:    StatusCompleted,
			Progress:  100,
			ResultURL: wp.EventData.URL,
		}
	case heygen.EventVideoFail:
		event.Update = StatusUpdate{
			Status: StatusFailed,
			Err:    wp.EventData.Msg,
		}
	default:
		return WebhookEvent{}, NewError(ProviderHeyGen, CodeWebhook, fmt.Sprintf("unknown event type %q", wp.EventType), nil)
	}

	return event, nil
}

// WebhookSecret returns the shared secret for signature verification.
func (a *HeyGenAdapter) WebhookSecret() string { return a.webhookSecret }

// mapHeyGenStatus maps HeyGen's status vocabulary to the canonical one.
func mapHeyGenStatus(s heygen.Status) Status {
	switch s {
	case heygen.StatusPending, heygen.StatusWaiting:
		return StatusQueued
	case heygen.StatusProcessing:
		return StatusProcessing
	case heygen.StatusCompleted:
		return StatusCompleted
	case heygen.StatusFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// translateErr maps HeyGen client sentinel errors to the shared taxonomy.
func (a *HeyGenAdapter) translateErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ProviderHeyGen, CodeTimeout, "request timed out", err)
	case errors.Is(err, heygen.ErrUnauthorized):
		return NewError(ProviderHeyGen, CodeAuthentication, "invalid API key", err)
	case errors.Is(err, heygen.ErrRateLimited):
		return NewError(ProviderHeyGen, CodeRateLimited, "rate limited", err)
	case errors.Is(err, heygen.ErrInsufficientCredits):
		return NewError(ProviderHeyGen, CodeInsufficientCredits, "insufficient credits", err)
	case errors.Is(err, heygen.ErrServerError):
		return NewError(ProviderHeyGen, CodeUnavailable, "server error", err)
	case errors.Is(err, heygen.ErrRequestFailed),
		errors.Is(err, heygen.ErrNoVideoIDReturned),
		errors.Is(err, heygen.ErrVideoIDRequired):
		return NewError(ProviderHeyGen, CodeInvalidParameters, err.Error(), err)
	default:
		return NewError(ProviderHeyGen, CodeNetwork, "request failed", err)
	}
}

// Compile-time checks that HeyGenAdapter implements the contracts.
var (
	_ Adapter        = (*HeyGenAdapter)(nil)
	_ WebhookAdapter = (*HeyGenAdapter)(nil)
)
