package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilco1973/videobroker/internal/provider"
	"github.com/gilco1973/videobroker/internal/selection"
)

// stubAdapter is a scriptable provider for recovery tests.
type stubAdapter struct {
	id       string
	dispatch func(ctx context.Context, in provider.DispatchInput) (provider.Dispatch, error)
	calls    int
}

func (a *stubAdapter) ID() string                         { return a.id }
func (a *stubAdapter) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (a *stubAdapter) CanHandle(provider.Requirements) bool { return true }
func (a *stubAdapter) EstimateCost(provider.Requirements) float64 { return 1 }
func (a *stubAdapter) Dispatch(ctx context.Context, in provider.DispatchInput) (provider.Dispatch, error) {
	a.calls++
	return a.dispatch(ctx, in)
}
func (a *stubAdapter) CheckStatus(context.Context, string) (provider.StatusUpdate, error) {
	return provider.StatusUpdate{}, nil
}

// stubSelector returns adapters in order, skipping excluded ids.
type stubSelector struct {
	adapters []*stubAdapter
	selects  []selection.Criteria
}

func (s *stubSelector) Select(c selection.Criteria) (selection.Decision, error) {
	s.selects = append(s.selects, c)
	excluded := make(map[string]bool, len(c.Exclude))
	for _, id := range c.Exclude {
		excluded[id] = true
	}
	for _, a := range s.adapters {
		if !excluded[a.id] {
			return selection.Decision{Adapter: a}, nil
		}
	}
	return selection.Decision{}, provider.NewError("selection", provider.CodeUnavailable, "no provider can serve this request", nil)
}

// stubBreakers records breaker traffic and optionally denies providers.
type stubBreakers struct {
	denied    map[string]bool
	successes []string
	failures  []string
}

func (b *stubBreakers) Allow(id string) bool {
	return !b.denied[id]
}
func (b *stubBreakers) RecordSuccess(id string) { b.successes = append(b.successes, id) }
func (b *stubBreakers) RecordFailure(id string) { b.failures = append(b.failures, id) }

// stubRecorder captures perf observations.
type stubRecorder struct {
	records []struct {
		provider string
		success  bool
	}
}

func (r *stubRecorder) Record(id string, success bool, _ time.Duration) {
	r.records = append(r.records, struct {
		provider string
		success  bool
	}{id, success})
}

func newTestRunner(sel Selector, br Breakers, rec Recorder) *Runner {
	r := NewRunner(sel, br, rec, WithConfig(Config{
		MaxAttempts:     3,
		DispatchTimeout: time.Second,
		BackoffBase:     time.Millisecond,
		BackoffCap:      time.Millisecond,
	}))
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRunner_FirstAttemptSucceeds(t *testing.T) {
	a := &stubAdapter{id: "heygen", dispatch: func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{ExternalID: "ext-1", Status: provider.StatusQueued}, nil
	}}
	sel := &stubSelector{adapters: []*stubAdapter{a}}
	br := &stubBreakers{}
	rec := &stubRecorder{}

	result, err := newTestRunner(sel, br, rec).Dispatch(context.Background(), provider.DispatchInput{JobID: "job-1"}, selection.Criteria{})

	require.NoError(t, err)
	assert.Equal(t, "heygen", result.Adapter.ID())
	assert.Equal(t, "ext-1", result.Dispatch.ExternalID)
	assert.Equal(t, 1, result.Attempt.Count)
	assert.Equal(t, []string{"heygen"}, result.Attempt.Tried)
	assert.Empty(t, result.Attempt.Chain)
	assert.Equal(t, []string{"heygen"}, br.successes)
}

func TestRunner_FailsOverToNextProvider(t *testing.T) {
	a := &stubAdapter{id: "heygen", dispatch: func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{}, provider.NewError("heygen", provider.CodeUnavailable, "server error", nil)
	}}
	b := &stubAdapter{id: "did", dispatch: func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{ExternalID: "talk-1", Status: provider.StatusQueued}, nil
	}}
	sel := &stubSelector{adapters: []*stubAdapter{a, b}}
	br := &stubBreakers{}
	rec := &stubRecorder{}

	result, err := newTestRunner(sel, br, rec).Dispatch(context.Background(), provider.DispatchInput{JobID: "job-1"}, selection.Criteria{})

	require.NoError(t, err)
	assert.Equal(t, "did", result.Adapter.ID())
	assert.Equal(t, 2, result.Attempt.Count)
	assert.Equal(t, []string{"heygen", "did"}, result.Attempt.Tried)

	// The audit trail carries the first provider's failure.
	require.Len(t, result.Attempt.Chain, 1)
	assert.Equal(t, "heygen", result.Attempt.Chain[0].Provider)
	assert.Equal(t, provider.CodeUnavailable, result.Attempt.Chain[0].Code)

	// The failed provider was excluded from the second selection.
	require.Len(t, sel.selects, 2)
	assert.Contains(t, sel.selects[1].Exclude, "heygen")
	assert.True(t, sel.selects[1].Retry)

	assert.Equal(t, []string{"heygen"}, br.failures)
	assert.Equal(t, []string{"did"}, br.successes)
}

func TestRunner_RateLimitRetriesSameProvider(t *testing.T) {
	calls := 0
	a := &stubAdapter{id: "heygen"}
	a.dispatch = func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		calls++
		if calls == 1 {
			return provider.Dispatch{}, provider.NewError("heygen", provider.CodeRateLimited, "rate limited", nil)
		}
		return provider.Dispatch{ExternalID: "v-1", Status: provider.StatusQueued}, nil
	}
	sel := &stubSelector{adapters: []*stubAdapter{a}}

	slept := 0
	r := newTestRunner(sel, &stubBreakers{}, &stubRecorder{})
	r.sleep = func(context.Context, time.Duration) error {
		slept++
		return nil
	}

	result, err := r.Dispatch(context.Background(), provider.DispatchInput{JobID: "job-1"}, selection.Criteria{})

	require.NoError(t, err)
	assert.Equal(t, "heygen", result.Adapter.ID())
	assert.Equal(t, []string{"heygen", "heygen"}, result.Attempt.Tried)
	assert.Equal(t, 1, slept, "rate-limited retry must back off")

	// Rate limiting does not exclude the provider from re-selection.
	require.Len(t, sel.selects, 2)
	assert.NotContains(t, sel.selects[1].Exclude, "heygen")
}

func TestRunner_NonRetryableTerminatesImmediately(t *testing.T) {
	a := &stubAdapter{id: "heygen", dispatch: func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{}, provider.NewError("heygen", provider.CodeInvalidParameters, "bad script", nil)
	}}
	b := &stubAdapter{id: "did", dispatch: func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		t.Fatal("second provider must not be tried after a non-retryable failure")
		return provider.Dispatch{}, nil
	}}
	sel := &stubSelector{adapters: []*stubAdapter{a, b}}

	result, err := newTestRunner(sel, &stubBreakers{}, &stubRecorder{}).
		Dispatch(context.Background(), provider.DispatchInput{JobID: "job-1"}, selection.Criteria{})

	require.Error(t, err)
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, provider.CodeInvalidParameters, pe.Code)
	assert.Equal(t, 1, result.Attempt.Count)
	assert.Contains(t, err.Error(), "heygen")
}

func TestRunner_AtMostMaxAttempts(t *testing.T) {
	a := &stubAdapter{id: "heygen", dispatch: func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{}, provider.NewError("heygen", provider.CodeRateLimited, "rate limited", nil)
	}}
	sel := &stubSelector{adapters: []*stubAdapter{a}}

	result, err := newTestRunner(sel, &stubBreakers{}, &stubRecorder{}).
		Dispatch(context.Background(), provider.DispatchInput{JobID: "job-1"}, selection.Criteria{})

	require.Error(t, err)
	assert.Equal(t, 3, result.Attempt.Count)
	assert.Equal(t, 3, a.calls)
	assert.Len(t, result.Attempt.Chain, 3)
}

func TestRunner_NoProviderAvailable(t *testing.T) {
	sel := &stubSelector{}

	result, err := newTestRunner(sel, &stubBreakers{}, &stubRecorder{}).
		Dispatch(context.Background(), provider.DispatchInput{JobID: "job-1"}, selection.Criteria{})

	require.Error(t, err)
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, provider.CodeUnavailable, pe.Code)
	assert.Zero(t, result.Attempt.Count)
}

func TestRunner_BreakerDenialDoesNotBurnAttempt(t *testing.T) {
	a := &stubAdapter{id: "heygen", dispatch: func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		t.Fatal("denied provider must not be dispatched to")
		return provider.Dispatch{}, nil
	}}
	b := &stubAdapter{id: "did", dispatch: func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{ExternalID: "talk-1", Status: provider.StatusQueued}, nil
	}}
	sel := &stubSelector{adapters: []*stubAdapter{a, b}}
	br := &stubBreakers{denied: map[string]bool{"heygen": true}}

	result, err := newTestRunner(sel, br, &stubRecorder{}).
		Dispatch(context.Background(), provider.DispatchInput{JobID: "job-1"}, selection.Criteria{})

	require.NoError(t, err)
	assert.Equal(t, "did", result.Adapter.ID())
	assert.Equal(t, 1, result.Attempt.Count)
	assert.Equal(t, []string{"did"}, result.Attempt.Tried)
}

func TestRunner_ContextCancelledDuringBackoff(t *testing.T) {
	a := &stubAdapter{id: "heygen", dispatch: func(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{}, provider.NewError("heygen", provider.CodeRateLimited, "rate limited", nil)
	}}
	sel := &stubSelector{adapters: []*stubAdapter{a}}

	r := newTestRunner(sel, &stubBreakers{}, &stubRecorder{})
	r.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	_, err := r.Dispatch(context.Background(), provider.DispatchInput{JobID: "job-1"}, selection.Criteria{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, a.calls)
}

func TestRunner_BackoffGrowsAndCaps(t *testing.T) {
	r := NewRunner(nil, nil, nil, WithConfig(Config{
		MaxAttempts:     5,
		DispatchTimeout: time.Second,
		BackoffBase:     100 * time.Millisecond,
		BackoffCap:      300 * time.Millisecond,
	}))

	first := r.backoff(1)
	assert.GreaterOrEqual(t, first, 80*time.Millisecond)
	assert.LessOrEqual(t, first, 120*time.Millisecond)

	capped := r.backoff(4)
	assert.LessOrEqual(t, capped, 360*time.Millisecond)
}
