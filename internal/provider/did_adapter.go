package provider

import (
	"context"
	"errors"

	"github.com/gilco1973/videobroker/internal/did"
)

// ProviderDID is the registry id of the D-ID adapter.
const ProviderDID = "did"

// defaultDIDCapabilities reflects the D-ID talks API. D-ID has no webhook
// callbacks; jobs are tracked by polling only.
var defaultDIDCapabilities = Capabilities{
	MaxDurationSec:   180,
	MaxWidth:         1920,
	MaxHeight:        1080,
	Formats:          []string{"mp4"},
	AspectRatios:     []string{"16:9", "1:1"},
	VoiceCloning:     false,
	CustomAvatars:    true,
	RealtimeCallback: false,
	Subtitles:        true,
	EmotionControl:   false,
	CostPerRequest:   0.30,
	Quality:          TierStandard,
	Priority:         2,
}

// DIDAdapter adapts the D-ID client to the Adapter interface.
type DIDAdapter struct {
	client did.Client
	caps   Capabilities
}

// DIDOption configures a DIDAdapter.
type DIDOption func(*DIDAdapter)

// WithDIDCapabilities overrides the default capability declaration.
func WithDIDCapabilities(caps Capabilities) DIDOption {
	return func(a *DIDAdapter) {
		a.caps = caps
	}
}

// NewDIDAdapter creates a new D-ID provider adapter.
func NewDIDAdapter(client did.Client, opts ...DIDOption) *DIDAdapter {
	a := &DIDAdapter{
		client: client,
		caps:   defaultDIDCapabilities,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the stable provider identifier.
func (a *DIDAdapter) ID() string { return ProviderDID }

// Capabilities returns the static capability declaration.
func (a *DIDAdapter) Capabilities() Capabilities { return a.caps }

// CanHandle reports whether D-ID can serve the requirements.
func (a *DIDAdapter) CanHandle(req Requirements) bool { return a.caps.Supports(req) }

// EstimateCost estimates the cost of serving the requirements.
// D-ID bills per 15-second block.
func (a *DIDAdapter) EstimateCost(req Requirements) float64 {
	return a.caps.CostPerRequest * float64(billingBlocks(req.DurationSec, 15))
}

// Dispatch starts a talk generation on D-ID.
func (a *DIDAdapter) Dispatch(ctx context.Context, in DispatchInput) (Dispatch, error) {
	if !a.caps.Supports(in.Requirements) {
		return Dispatch{}, NewError(ProviderDID, CodeInvalidParameters, "requirements exceed declared capabilities", nil)
	}

	talkID, err := a.client.CreateTalk(ctx, did.CreateTalkInput{
		Script:       in.Script,
		SourceURL:    in.AvatarID, // custom presenter image; client applies a default when empty
		VoiceID:      in.VoiceID,
		ResultFormat: in.Requirements.Format,
		Subtitles:    in.Requirements.Subtitles,
	})
	if err != nil {
		return Dispatch{}, a.translateErr(err)
	}

	return Dispatch{ExternalID: talkID, Status: StatusQueued}, nil
}

// CheckStatus polls D-ID for the current state of a talk.
func (a *DIDAdapter) CheckStatus(ctx context.Context, externalID string) (StatusUpdate, error) {
	talk, err := a.client.GetTalk(ctx, externalID)
	if err != nil {
		return StatusUpdate{}, a.translateErr(err)
	}

	update := StatusUpdate{
		Status:    mapDIDStatus(talk.Status),
		ResultURL: talk.ResultURL,
		Err:       talk.Error,
	}
	update.Progress = DefaultProgress(update.Status)
	return update, nil
}

// CancelJob deletes the talk on D-ID, aborting it if still running.
// Best-effort; D-ID may have already billed the generation.
func (a *DIDAdapter) CancelJob(ctx context.Context, externalID string) error {
	if err := a.client.DeleteTalk(ctx, externalID); err != nil {
		return a.translateErr(err)
	}
	return nil
}

// mapDIDStatus maps D-ID's status vocabulary to the canonical one.
func mapDIDStatus(s did.Status) Status {
	switch s {
	case did.StatusCreated:
		return StatusQueued
	case did.StatusStarted:
		return StatusProcessing
	case did.StatusDone:
		return StatusCompleted
	case did.StatusError, did.StatusRejected:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// translateErr maps D-ID client sentinel errors to the shared taxonomy.
func (a *DIDAdapter) translateErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ProviderDID, CodeTimeout, "request timed out", err)
	case errors.Is(err, did.ErrUnauthorized):
		return NewError(ProviderDID, CodeAuthentication, "invalid credentials", err)
	case errors.Is(err, did.ErrRateLimited):
		return NewError(ProviderDID, CodeRateLimited, "rate limited", err)
	case errors.Is(err, did.ErrInsufficientCredits):
		return NewError(ProviderDID, CodeInsufficientCredits, "insufficient credits", err)
	case errors.Is(err, did.ErrServerError):
		return NewError(ProviderDID, CodeUnavailable, "server error", err)
	case errors.Is(err, did.ErrRequestFailed),
		errors.Is(err, did.ErrNoTalkIDReturned),
		errors.Is(err, did.ErrTalkIDRequired):
		return NewError(ProviderDID, CodeInvalidParameters, err.Error(), err)
	default:
		return NewError(ProviderDID, CodeNetwork, "request failed", err)
	}
}

// Compile-time checks that DIDAdapter implements the contracts.
var (
	_ Adapter  = (*DIDAdapter)(nil)
	_ Canceler = (*DIDAdapter)(nil)
)
