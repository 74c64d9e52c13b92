package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// ErrMappingNotFound is returned when no job is mapped to an external ID.
var ErrMappingNotFound = errors.New("external id mapping not found")

// Store defines the interface for job persistence. It acts as a port:
// the canonical record lives in an external document store keyed by job id,
// and this core reads/writes it without owning the storage engine.
type Store interface {
	// Save persists a job. If the job already exists, it is replaced.
	Save(ctx context.Context, job *Job) error

	// Get retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns all known jobs.
	List(ctx context.Context) ([]*Job, error)

	// SaveMapping records which canonical job an external (provider-side)
	// id belongs to, so inbound webhooks and poll results can resolve back
	// to the job they describe.
	SaveMapping(ctx context.Context, provider, externalID, jobID string) error

	// ResolveExternal returns the job id mapped to a provider's external id.
	// Returns ErrMappingNotFound if no mapping exists.
	ResolveExternal(ctx context.Context, provider, externalID string) (string, error)
}
