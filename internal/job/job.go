// Package job provides the canonical Job record for video generation jobs.
// One Job exists per successfully dispatched request; both the webhook and
// polling reconciliation paths converge on it. The package also defines the
// Store port for persistence and the external-id mapping used to resolve
// provider callbacks back to the canonical job.
package job

import (
	"errors"
	"time"
)

// Status represents the current state of a Job. Provider-specific statuses
// are mapped into this vocabulary before they reach the record.
type Status string

const (
	// StatusQueued indicates the job was accepted by a provider and is waiting to run.
	StatusQueued Status = "queued"
	// StatusProcessing indicates the provider is generating the video.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job failed on the provider side or exhausted recovery.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the job was cancelled by the caller.
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the status is a final state. Terminal statuses
// are never overwritten by later updates.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Rank orders statuses for monotonicity checks: a job never moves to a
// lower-ranked status, so a stale poll result cannot roll back a newer
// webhook update.
func (s Status) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 2
	default:
		return 0
	}
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// Terminal states allow none.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the canonical record for one generation request. The externally
// visible ID stays stable across provider failover; only Provider and
// ExternalID change when a different provider ends up servicing the job.
//
// Job carries no lock of its own: all mutations go through the
// reconciliation layer, which serializes updates per job id.
type Job struct {
	// ID is the caller-visible job identifier.
	ID string `json:"id"`
	// Provider is the id of the provider servicing the job.
	Provider string `json:"provider"`
	// ExternalID is the provider-assigned identifier.
	ExternalID string `json:"external_id"`
	// Status is the current canonical state.
	Status Status `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// ResultURL points at the generated video once completed.
	ResultURL string `json:"result_url,omitempty"`
	// ThumbnailURL points at a preview image, when the provider supplies one.
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	// Error contains the failure description if the job failed.
	Error string `json:"error,omitempty"`
	// Attempts is how many dispatch attempts it took to place the job.
	Attempts int `json:"attempts"`
	// CreatedAt is when the job was dispatched successfully.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// New creates a Job in queued state for a successful dispatch.
func New(id, provider, externalID string) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		Provider:   provider,
		ExternalID: externalID,
		Status:     StatusQueued,
		Attempts:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed. The caller
// is responsible for serializing transitions for one job id.
func (j *Job) TransitionTo(status Status) error {
	if !CanTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()
	if status.IsTerminal() {
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
