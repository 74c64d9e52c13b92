// Package recovery drives dispatch attempts across providers. A failed
// dispatch either retries the same provider after a backoff (rate limits),
// fails over to the next-ranked provider (other retryable failures), or
// terminates immediately (non-retryable failures). Every attempt is recorded
// so a terminal failure carries the full trail of what was tried and why it
// failed.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/gilco1973/videobroker/internal/provider"
	"github.com/gilco1973/videobroker/internal/selection"
)

// Default recovery configuration.
const (
	DefaultMaxAttempts     = 3
	DefaultDispatchTimeout = 60 * time.Second
	DefaultBackoffBase     = 500 * time.Millisecond
	DefaultBackoffCap      = 10 * time.Second
)

// Config holds the recovery tuning knobs.
type Config struct {
	// MaxAttempts caps total dispatch attempts per submit, including the
	// first.
	MaxAttempts int
	// DispatchTimeout is the hard network timeout applied to each
	// dispatch call.
	DispatchTimeout time.Duration
	// BackoffBase and BackoffCap bound the exponential delay before a
	// same-provider retry. Failover to a different provider is never
	// delayed.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultConfig returns the standard recovery configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     DefaultMaxAttempts,
		DispatchTimeout: DefaultDispatchTimeout,
		BackoffBase:     DefaultBackoffBase,
		BackoffCap:      DefaultBackoffCap,
	}
}

// withDefaults fills zero values with defaults.
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	return c
}

// Record is one failed attempt in the audit trail.
type Record struct {
	Provider  string             `json:"provider"`
	Code      provider.ErrorCode `json:"code"`
	Message   string             `json:"message"`
	Retryable bool               `json:"retryable"`
}

// Attempt is the ephemeral state of one submit call's recovery loop.
// It is never persisted: a crash mid-recovery loses the in-flight attempt
// and the caller may retry idempotently with the same job id.
type Attempt struct {
	// Count is how many dispatches were made, including the first.
	Count int `json:"count"`
	// Tried lists every provider dispatched to, in order.
	Tried []string `json:"tried"`
	// Chain is the accumulated failure trail.
	Chain []Record `json:"chain,omitempty"`
}

// Trail renders the failure chain as a single line for logs and terminal
// errors.
func (a *Attempt) Trail() string {
	if len(a.Chain) == 0 {
		return "no providers tried"
	}
	parts := make([]string, 0, len(a.Chain))
	for _, r := range a.Chain {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", r.Provider, r.Message, r.Code))
	}
	return strings.Join(parts, "; ")
}

// Result is a successful dispatch.
type Result struct {
	// Adapter is the provider that accepted the job.
	Adapter provider.Adapter
	// Dispatch carries the external id and initial status.
	Dispatch provider.Dispatch
	// Attempt is the recovery trail, kept for the job record and logs.
	Attempt Attempt
}

// Selector picks a provider for a set of criteria. Satisfied by
// *selection.Engine.
type Selector interface {
	Select(c selection.Criteria) (selection.Decision, error)
}

// Breakers is the circuit breaker surface the runner drives. Satisfied by
// *breaker.Set.
type Breakers interface {
	Allow(providerID string) bool
	RecordSuccess(providerID string)
	RecordFailure(providerID string)
}

// Recorder accumulates dispatch outcomes. Satisfied by *perf.Tracker.
type Recorder interface {
	Record(providerID string, success bool, latency time.Duration)
}

// Runner executes the recovery loop for one dispatch. Safe for concurrent
// use; each Dispatch call carries its own Attempt state.
type Runner struct {
	selector Selector
	breakers Breakers
	perf     Recorder
	cfg      Config
	logger   *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfig overrides the default recovery configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runner) {
		r.cfg = cfg.withDefaults()
	}
}

// WithLogger sets the logger used to record the reasoning chain.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a recovery runner.
func NewRunner(selector Selector, breakers Breakers, perf Recorder, opts ...Option) *Runner {
	r := &Runner{
		selector: selector,
		breakers: breakers,
		perf:     perf,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DispatchOption tunes a single dispatch loop.
type DispatchOption func(*dispatchOpts)

type dispatchOpts struct {
	noFailover bool
}

// WithoutFailover restricts the loop to the first selected provider: rate
// limits still earn a delayed same-provider retry, but any failure that
// would normally fail over terminates instead.
func WithoutFailover() DispatchOption {
	return func(o *dispatchOpts) {
		o.noFailover = true
	}
}

// Dispatch runs the full select-dispatch-recover loop for one request.
// At most MaxAttempts dispatches are made. The criteria's exclusion list is
// extended as providers fail over; rate-limited providers stay eligible for
// a delayed same-provider retry since the limit targets this caller, not the
// provider's health.
func (r *Runner) Dispatch(ctx context.Context, in provider.DispatchInput, crit selection.Criteria, opts ...DispatchOption) (Result, error) {
	var do dispatchOpts
	for _, opt := range opts {
		opt(&do)
	}

	var attempt Attempt
	excluded := append([]string(nil), crit.Exclude...)
	var lastErr error

	for attempt.Count < r.cfg.MaxAttempts {
		crit.Exclude = excluded
		crit.Retry = attempt.Count > 0

		decision, err := r.selector.Select(crit)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return Result{Attempt: attempt}, fmt.Errorf("recovery: no provider available after %d attempts [%s]: %w",
				attempt.Count, attempt.Trail(), lastErr)
		}

		adapter := decision.Adapter
		id := adapter.ID()

		// The selection gate only observes breaker state; consuming the
		// half-open trial slot happens here, where the dispatch is
		// actually made. Losing the race for the slot does not burn an
		// attempt.
		if !r.breakers.Allow(id) {
			excluded = append(excluded, id)
			attempt.Chain = append(attempt.Chain, Record{
				Provider: id,
				Code:     provider.CodeUnavailable,
				Message:  "circuit breaker open",
			})
			continue
		}

		attempt.Count++
		attempt.Tried = append(attempt.Tried, id)

		dctx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
		start := time.Now()
		dispatch, err := adapter.Dispatch(dctx, in)
		latency := time.Since(start)
		cancel()

		r.perf.Record(id, err == nil, latency)

		if err == nil {
			r.breakers.RecordSuccess(id)
			r.logger.Info("dispatch succeeded",
				slog.String("job_id", in.JobID),
				slog.String("provider", id),
				slog.String("external_id", dispatch.ExternalID),
				slog.Int("attempt", attempt.Count),
				slog.Duration("latency", latency),
			)
			return Result{Adapter: adapter, Dispatch: dispatch, Attempt: attempt}, nil
		}

		r.breakers.RecordFailure(id)
		lastErr = err

		rec := Record{Provider: id, Message: err.Error(), Retryable: provider.IsRetryable(err)}
		if pe, ok := provider.AsError(err); ok {
			rec.Code = pe.Code
			rec.Message = pe.Message
		}
		attempt.Chain = append(attempt.Chain, rec)

		r.logger.Warn("dispatch failed",
			slog.String("job_id", in.JobID),
			slog.String("provider", id),
			slog.String("code", string(rec.Code)),
			slog.Bool("retryable", rec.Retryable),
			slog.Int("attempt", attempt.Count),
			slog.String("error", err.Error()),
		)

		if ctx.Err() != nil {
			return Result{Attempt: attempt}, fmt.Errorf("recovery: cancelled after %d attempts [%s]: %w",
				attempt.Count, attempt.Trail(), ctx.Err())
		}
		if !rec.Retryable {
			return Result{Attempt: attempt}, fmt.Errorf("recovery: terminal failure after %d attempts [%s]: %w",
				attempt.Count, attempt.Trail(), err)
		}
		if attempt.Count >= r.cfg.MaxAttempts {
			break
		}

		if rec.Code == provider.CodeRateLimited {
			// Same-provider retry: the provider is healthy, we are just
			// over our quota window. Back off before asking again.
			if err := r.sleep(ctx, r.backoff(attempt.Count)); err != nil {
				return Result{Attempt: attempt}, fmt.Errorf("recovery: cancelled during backoff [%s]: %w",
					attempt.Trail(), err)
			}
			continue
		}

		if do.noFailover {
			return Result{Attempt: attempt}, fmt.Errorf("recovery: failover disabled, not retrying elsewhere [%s]: %w",
				attempt.Trail(), err)
		}

		// Failover targets different infrastructure, so no delay.
		excluded = append(excluded, id)
	}

	return Result{Attempt: attempt}, fmt.Errorf("recovery: exhausted %d attempts [%s]: %w",
		attempt.Count, attempt.Trail(), lastErr)
}

// backoff computes the delay before retry number n (1-based), exponential
// with a cap and ±20% jitter.
func (r *Runner) backoff(n int) time.Duration {
	d := r.cfg.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= r.cfg.BackoffCap {
			d = r.cfg.BackoffCap
			break
		}
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
