package provider

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gilco1973/videobroker/internal/kling"
)

// ProviderKling is the registry id of the Kling adapter.
const ProviderKling = "kling"

// defaultKlingCapabilities reflects the Kling text-to-video API. Kling has
// no avatar or voice features; it renders free-form clips from a prompt and
// is tracked by polling only.
var defaultKlingCapabilities = Capabilities{
	MaxDurationSec:   60,
	MaxWidth:         1920,
	MaxHeight:        1080,
	Formats:          []string{"mp4"},
	AspectRatios:     []string{"16:9", "9:16", "1:1"},
	VoiceCloning:     false,
	CustomAvatars:    false,
	RealtimeCallback: false,
	Subtitles:        false,
	EmotionControl:   false,
	CostPerRequest:   0.20,
	Quality:          TierBasic,
	Priority:         3,
}

// KlingAdapter adapts the Kling client to the Adapter interface.
type KlingAdapter struct {
	client kling.Client
	caps   Capabilities
	mode   string
}

// KlingOption configures a KlingAdapter.
type KlingOption func(*KlingAdapter)

// WithKlingCapabilities overrides the default capability declaration.
func WithKlingCapabilities(caps Capabilities) KlingOption {
	return func(a *KlingAdapter) {
		a.caps = caps
	}
}

// WithKlingMode sets the generation mode ("std" or "pro").
func WithKlingMode(mode string) KlingOption {
	return func(a *KlingAdapter) {
		a.mode = mode
	}
}

// NewKlingAdapter creates a new Kling provider adapter.
func NewKlingAdapter(client kling.Client, opts ...KlingOption) *KlingAdapter {
	a := &KlingAdapter{
		client: client,
		caps:   defaultKlingCapabilities,
		mode:   "std",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the stable provider identifier.
func (a *KlingAdapter) ID() string { return ProviderKling }

// Capabilities returns the static capability declaration.
func (a *KlingAdapter) Capabilities() Capabilities { return a.caps }

// CanHandle reports whether Kling can serve the requirements.
func (a *KlingAdapter) CanHandle(req Requirements) bool { return a.caps.Supports(req) }

// EstimateCost estimates the cost of serving the requirements.
// Kling bills per 10-second block.
func (a *KlingAdapter) EstimateCost(req Requirements) float64 {
	return a.caps.CostPerRequest * float64(billingBlocks(req.DurationSec, 10))
}

// Dispatch starts a text-to-video generation on Kling.
func (a *KlingAdapter) Dispatch(ctx context.Context, in DispatchInput) (Dispatch, error) {
	if !a.caps.Supports(in.Requirements) {
		return Dispatch{}, NewError(ProviderKling, CodeInvalidParameters, "requirements exceed declared capabilities", nil)
	}

	prompt := in.Script
	if in.Style != "" {
		prompt = prompt + ", " + in.Style + " style"
	}

	taskID, err := a.client.CreateTask(ctx, kling.CreateTaskInput{
		Prompt:      prompt,
		Mode:        a.mode,
		Duration:    strconv.Itoa(in.Requirements.DurationSec),
		AspectRatio: in.Requirements.AspectRatio,
		ExternalRef: in.JobID,
	})
	if err != nil {
		return Dispatch{}, a.translateErr(err)
	}

	return Dispatch{ExternalID: taskID, Status: StatusQueued}, nil
}

// CheckStatus polls Kling for the current state of a task.
func (a *KlingAdapter) CheckStatus(ctx context.Context, externalID string) (StatusUpdate, error) {
	task, err := a.client.QueryTask(ctx, externalID)
	if err != nil {
		return StatusUpdate{}, a.translateErr(err)
	}

	update := StatusUpdate{
		Status:    mapKlingStatus(task.Status),
		ResultURL: task.VideoURL,
	}
	if update.Status == StatusFailed {
		update.Err = task.StatusMsg
	}
	update.Progress = DefaultProgress(update.Status)
	return update, nil
}

// mapKlingStatus maps Kling's status vocabulary to the canonical one.
func mapKlingStatus(s kling.TaskStatus) Status {
	switch s {
	case kling.StatusSubmitted:
		return StatusQueued
	case kling.StatusProcessing:
		return StatusProcessing
	case kling.StatusSucceed:
		return StatusCompleted
	case kling.StatusFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// translateErr maps Kling client sentinel errors to the shared taxonomy.
// Content-policy rejections come back through the generic API error and are
// not retryable.
func (a *KlingAdapter) translateErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ProviderKling, CodeTimeout, "request timed out", err)
	case errors.Is(err, kling.ErrUnauthorized):
		return NewError(ProviderKling, CodeAuthentication, "invalid access key pair", err)
	case errors.Is(err, kling.ErrRateLimited):
		return NewError(ProviderKling, CodeRateLimited, "rate limited", err)
	case errors.Is(err, kling.ErrInsufficientCredits):
		return NewError(ProviderKling, CodeInsufficientCredits, "insufficient credits", err)
	case errors.Is(err, kling.ErrServerError):
		return NewError(ProviderKling, CodeUnavailable, "server error", err)
	case errors.Is(err, kling.ErrAPIError),
		errors.Is(err, kling.ErrRequestFailed),
		errors.Is(err, kling.ErrNoTaskIDReturned),
		errors.Is(err, kling.ErrTaskIDRequired):
		return NewError(ProviderKling, CodeInvalidParameters, strings.TrimPrefix(err.Error(), "kling: "), err)
	default:
		return NewError(ProviderKling, CodeNetwork, "request failed", err)
	}
}

// Compile-time check that KlingAdapter implements Adapter.
var _ Adapter = (*KlingAdapter)(nil)
