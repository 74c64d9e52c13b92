package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// Redis key prefixes. Jobs are stored as one JSON document per id; the
// external-id mapping is a plain string key per provider+external id.
const (
	jobKeyPrefix     = "job:"
	mappingKeyPrefix = "extmap:"
)

// RedisStore is a Redis-backed implementation of Store. Each job is one
// JSON document under job:<id>; external-id mappings live under
// extmap:<provider>:<externalID>.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption is a function that configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets an expiry on job documents and mappings. Zero keeps them
// forever.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = d
	}
}

// NewRedisStore creates a Redis-backed job store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists a job as a JSON document.
func (s *RedisStore) Save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("job: marshal: %w", err)
	}
	if err := s.client.Set(ctx, jobKeyPrefix+job.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("job: save %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves a job document by id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := s.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("job: get %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("job: unmarshal %s: %w", id, err)
	}
	return &job, nil
}

// List scans all job documents. Intended for operational endpoints, not
// hot paths.
func (s *RedisStore) List(ctx context.Context) ([]*Job, error) {
	var jobs []*Job
	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("job: list: %w", err)
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("job: unmarshal %s: %w", iter.Val(), err)
		}
		jobs = append(jobs, &job)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("job: scan: %w", err)
	}
	return jobs, nil
}

// SaveMapping records an external id → job id mapping.
func (s *RedisStore) SaveMapping(ctx context.Context, provider, externalID, jobID string) error {
	key := mappingKeyPrefix + provider + ":" + externalID
	if err := s.client.Set(ctx, key, jobID, s.ttl).Err(); err != nil {
		return fmt.Errorf("job: save mapping %s: %w", key, err)
	}
	return nil
}

// ResolveExternal returns the job id mapped to a provider's external id.
func (s *RedisStore) ResolveExternal(ctx context.Context, provider, externalID string) (string, error) {
	key := mappingKeyPrefix + provider + ":" + externalID
	jobID, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMappingNotFound
		}
		return "", fmt.Errorf("job: resolve %s: %w", key, err)
	}
	return jobID, nil
}
