package job

import (
	"context"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses maps with an RWMutex for thread-safe access.
// Suitable for development and testing; swap for RedisStore in production.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	mappings map[string]string
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*Job),
		mappings: make(map[string]string),
	}
}

// Save persists a job to the in-memory storage.
// Stores a clone to avoid external mutations.
func (s *MemoryStore) Save(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns all jobs in the store.
// Returns clones to prevent external mutations.
func (s *MemoryStore) List(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		result = append(result, job.Clone())
	}
	return result, nil
}

// SaveMapping records an external id → job id mapping.
func (s *MemoryStore) SaveMapping(_ context.Context, provider, externalID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[mappingKey(provider, externalID)] = jobID
	return nil
}

// ResolveExternal returns the job id mapped to a provider's external id.
func (s *MemoryStore) ResolveExternal(_ context.Context, provider, externalID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobID, ok := s.mappings[mappingKey(provider, externalID)]
	if !ok {
		return "", ErrMappingNotFound
	}
	return jobID, nil
}

// mappingKey namespaces external ids per provider; two providers may hand
// out the same external id.
func mappingKey(provider, externalID string) string {
	return provider + ":" + externalID
}
