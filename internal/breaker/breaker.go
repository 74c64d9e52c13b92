// Package breaker implements a per-provider circuit breaker. After a run of
// consecutive failures the breaker opens and rejects traffic immediately,
// bounding the cost of a provider outage; after a cooldown a single trial
// request probes whether the provider recovered.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed lets requests flow normally.
	StateClosed State = "closed"
	// StateOpen rejects requests without dispatching.
	StateOpen State = "open"
	// StateHalfOpen permits a single trial request after the cooldown.
	StateHalfOpen State = "half_open"
)

// Default breaker configuration.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// Config holds the breaker tuning knobs.
type Config struct {
	// FailureThreshold is how many consecutive failures trip the breaker.
	FailureThreshold int
	// ResetTimeout is the cooldown after the last failure before a trial
	// request is permitted.
	ResetTimeout time.Duration
}

// DefaultConfig returns the standard breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		ResetTimeout:     DefaultResetTimeout,
	}
}

// withDefaults fills zero values with defaults.
func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	return c
}

// Health is a read-only view of one breaker's state.
type Health struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// Breaker guards one provider. Safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	failures    int
	lastFailure time.Time
	// trialInFlight marks that the half-open trial slot is taken. The
	// slot is released by the next RecordSuccess or RecordFailure.
	trialInFlight bool
}

// NewBreaker creates a breaker with the given configuration.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// Allow reports whether a request may proceed. In the half-open state it
// consumes the single trial slot, so exactly one caller gets true until the
// trial's outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count unconditionally, closing the
// breaker from any state.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	b.lastFailure = time.Time{}
}

// RecordFailure counts one failure. At the threshold the breaker opens;
// a failed half-open trial re-opens it and resets the cooldown clock.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	b.trialInFlight = false
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// IsOpen reports whether the breaker currently rejects traffic.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Health returns a read-only view of the breaker.
func (b *Breaker) Health() Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Health{
		State:       b.stateLocked(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// stateLocked computes the state. Callers must hold b.mu.
func (b *Breaker) stateLocked() State {
	if b.failures < b.cfg.FailureThreshold {
		return StateClosed
	}
	if b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return StateOpen
}

// Set holds one breaker per provider id. Each provider has its own breaker
// and lock, so traffic to one provider never blocks another.
type Set struct {
	mu       sync.RWMutex // guards the map, not the breakers
	cfg      Config
	now      func() time.Time
	breakers map[string]*Breaker
}

// SetOption configures a Set.
type SetOption func(*Set)

// WithClock injects a clock, used by tests to step through cooldowns.
func WithClock(now func() time.Time) SetOption {
	return func(s *Set) {
		s.now = now
	}
}

// NewSet creates a breaker set with the given per-breaker configuration.
func NewSet(cfg Config, opts ...SetOption) *Set {
	s := &Set{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// For returns the breaker for a provider, creating it on first use.
func (s *Set) For(provider string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[provider]; ok {
		return b
	}
	b = &Breaker{cfg: s.cfg, now: s.now}
	s.breakers[provider] = b
	return b
}

// Allow reports whether a request to the provider may proceed.
func (s *Set) Allow(provider string) bool {
	return s.For(provider).Allow()
}

// RecordSuccess records a success for the provider.
func (s *Set) RecordSuccess(provider string) {
	s.For(provider).RecordSuccess()
}

// RecordFailure records a failure for the provider.
func (s *Set) RecordFailure(provider string) {
	s.For(provider).RecordFailure()
}

// State returns the provider's breaker state. Providers never seen are
// closed.
func (s *Set) State(provider string) State {
	return s.For(provider).State()
}

// Snapshot returns the health of every breaker in the set.
func (s *Set) Snapshot() map[string]Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Health, len(s.breakers))
	for id, b := range s.breakers {
		out[id] = b.Health()
	}
	return out
}
