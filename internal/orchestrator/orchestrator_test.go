package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilco1973/videobroker/internal/breaker"
	"github.com/gilco1973/videobroker/internal/job"
	"github.com/gilco1973/videobroker/internal/perf"
	"github.com/gilco1973/videobroker/internal/provider"
	"github.com/gilco1973/videobroker/internal/reconcile"
	"github.com/gilco1973/videobroker/internal/recovery"
	"github.com/gilco1973/videobroker/internal/script"
	"github.com/gilco1973/videobroker/internal/selection"
)

// fakeAdapter is a scriptable provider covering the full adapter surface.
type fakeAdapter struct {
	id   string
	caps provider.Capabilities

	mu        sync.Mutex
	dispatch  func(in provider.DispatchInput) (provider.Dispatch, error)
	check     func(externalID string) (provider.StatusUpdate, error)
	dispatches int
	cancels    []string
}

func (a *fakeAdapter) ID() string                          { return a.id }
func (a *fakeAdapter) Capabilities() provider.Capabilities  { return a.caps }
func (a *fakeAdapter) CanHandle(r provider.Requirements) bool { return a.caps.Supports(r) }
func (a *fakeAdapter) EstimateCost(provider.Requirements) float64 { return a.caps.CostPerRequest }

func (a *fakeAdapter) Dispatch(_ context.Context, in provider.DispatchInput) (provider.Dispatch, error) {
	a.mu.Lock()
	a.dispatches++
	fn := a.dispatch
	a.mu.Unlock()
	if fn == nil {
		return provider.Dispatch{ExternalID: "ext-" + in.JobID, Status: provider.StatusQueued}, nil
	}
	return fn(in)
}

func (a *fakeAdapter) CheckStatus(_ context.Context, externalID string) (provider.StatusUpdate, error) {
	a.mu.Lock()
	fn := a.check
	a.mu.Unlock()
	if fn == nil {
		return provider.StatusUpdate{Status: provider.StatusProcessing, Progress: 50}, nil
	}
	return fn(externalID)
}

func (a *fakeAdapter) CancelJob(_ context.Context, externalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels = append(a.cancels, externalID)
	return nil
}

func (a *fakeAdapter) dispatchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dispatches
}

func defaultCaps(priority int, cost float64) provider.Capabilities {
	return provider.Capabilities{
		MaxDurationSec: 600,
		MaxWidth:       3840,
		MaxHeight:      2160,
		Formats:        []string{"mp4"},
		AspectRatios:   []string{"16:9"},
		VoiceCloning:   true,
		CustomAvatars:  true,
		Subtitles:      true,
		EmotionControl: true,
		CostPerRequest: cost,
		Quality:        provider.TierStandard,
		Priority:       priority,
	}
}

type fixture struct {
	store    *job.MemoryStore
	orch     *Orchestrator
	poller   *reconcile.Poller
	rec      *reconcile.Reconciler
	breakers *breaker.Set
}

func newFixture(t *testing.T, adapters []provider.Adapter, opts ...Option) *fixture {
	t.Helper()

	registry, err := provider.NewRegistry(adapters...)
	require.NoError(t, err)

	store := job.NewMemoryStore()
	tracker := perf.NewTracker()
	breakers := breaker.NewSet(breaker.DefaultConfig())
	engine := selection.NewEngine(registry, tracker, func(id string) bool {
		return !breakers.For(id).IsOpen()
	}, selection.DefaultWeights())
	runner := recovery.NewRunner(engine, breakers, tracker, recovery.WithConfig(recovery.Config{
		MaxAttempts:     3,
		DispatchTimeout: time.Second,
		BackoffBase:     time.Millisecond,
		BackoffCap:      time.Millisecond,
	}))

	rec := reconcile.NewReconciler(store, reconcile.NewHub())
	poller := reconcile.NewPoller(rec, registry, tracker, reconcile.WithPollConfig(reconcile.PollConfig{
		Initial:      time.Millisecond,
		Max:          2 * time.Millisecond,
		MaxPolls:     100,
		CheckTimeout: time.Second,
	}))
	t.Cleanup(func() { poller.Shutdown(context.Background()) })

	orch := New(store, runner, rec, poller, registry, opts...)
	return &fixture{store: store, orch: orch, poller: poller, rec: rec, breakers: breakers}
}

func TestSubmit_DispatchesAndTracks(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	f := newFixture(t, []provider.Adapter{a})

	result, err := f.orch.Submit(ctx, GenerationRequest{
		JobID:         "job-1",
		Script:        "hello world",
		Duration:      DurationShort,
		AllowFallback: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, "heygen", result.Provider)
	assert.Equal(t, job.StatusQueued, result.Status)

	j, err := f.store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-job-1", j.ExternalID)
	assert.Equal(t, 1, j.Attempts)

	// The external mapping resolves webhooks back to this job.
	mapped, err := f.store.ResolveExternal(ctx, "heygen", "ext-job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", mapped)

	// A watcher is polling the job.
	assert.True(t, f.poller.Watching("job-1"))
}

func TestSubmit_GeneratesJobIDWhenEmpty(t *testing.T) {
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	f := newFixture(t, []provider.Adapter{a})

	result, err := f.orch.Submit(context.Background(), GenerationRequest{
		Script:        "hello",
		AllowFallback: true,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, result.JobID)
}

func TestSubmit_IdempotentResubmission(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	f := newFixture(t, []provider.Adapter{a})

	req := GenerationRequest{JobID: "job-1", Script: "hello", AllowFallback: true}
	_, err := f.orch.Submit(ctx, req)
	require.NoError(t, err)

	result, err := f.orch.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, 1, a.dispatchCount(), "resubmission must not dispatch again")
}

func TestSubmit_FailsOverAndRecordsTrail(t *testing.T) {
	ctx := context.Background()
	// Provider a wins selection via priority but rejects the dispatch.
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	a.dispatch = func(provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{}, provider.NewError("heygen", provider.CodeUnavailable, "server error", nil)
	}
	b := &fakeAdapter{id: "did", caps: defaultCaps(2, 0.3)}
	f := newFixture(t, []provider.Adapter{a, b})

	result, err := f.orch.Submit(ctx, GenerationRequest{
		JobID:         "job-1",
		Script:        "hello",
		AllowFallback: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "did", result.Provider)
	assert.Equal(t, job.StatusQueued, result.Status)

	j, err := f.store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "did", j.Provider)
	assert.Equal(t, 2, j.Attempts)
}

func TestSubmit_CapabilityFilteringPicksTheRightProvider(t *testing.T) {
	ctx := context.Background()
	// Provider a cannot do 4K.
	small := defaultCaps(1, 0.2)
	small.MaxWidth, small.MaxHeight = 1920, 1080
	a := &fakeAdapter{id: "did", caps: small}
	b := &fakeAdapter{id: "heygen", caps: defaultCaps(2, 0.9)}
	f := newFixture(t, []provider.Adapter{a, b})

	result, err := f.orch.Submit(ctx, GenerationRequest{
		JobID:         "job-1",
		Script:        "hello",
		Width:         3840,
		Height:        2160,
		AllowFallback: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "heygen", result.Provider)
	assert.Zero(t, a.dispatchCount())
}

func TestSubmit_ExhaustionPersistsFailedJob(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	a.dispatch = func(provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{}, provider.NewError("heygen", provider.CodeInsufficientCredits, "out of credits", nil)
	}
	f := newFixture(t, []provider.Adapter{a})

	result, err := f.orch.Submit(ctx, GenerationRequest{
		JobID:         "job-1",
		Script:        "hello",
		AllowFallback: true,
	})

	require.Error(t, err)
	assert.Equal(t, job.StatusFailed, result.Status)

	// Status still answers for the failed job.
	j, err := f.orch.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Contains(t, j.Error, "out of credits")
}

func TestSubmit_NoFallbackStopsAfterFirstProvider(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	a.dispatch = func(provider.DispatchInput) (provider.Dispatch, error) {
		return provider.Dispatch{}, provider.NewError("heygen", provider.CodeUnavailable, "server error", nil)
	}
	b := &fakeAdapter{id: "did", caps: defaultCaps(2, 0.3)}
	f := newFixture(t, []provider.Adapter{a, b})

	_, err := f.orch.Submit(ctx, GenerationRequest{
		JobID:  "job-1",
		Script: "hello",
		// AllowFallback deliberately false.
	})

	require.Error(t, err)
	assert.Zero(t, b.dispatchCount(), "fallback provider must not be tried")
}

func TestSubmit_ScriptGeneration(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	var gotScript string
	a.dispatch = func(in provider.DispatchInput) (provider.Dispatch, error) {
		gotScript = in.Script
		return provider.Dispatch{ExternalID: "ext-1", Status: provider.StatusQueued}, nil
	}

	gen := script.GeneratorFunc(func(_ context.Context, brief script.Brief) (string, error) {
		return "a script about " + brief.Topic, nil
	})
	f := newFixture(t, []provider.Adapter{a}, WithScriptGenerator(gen))

	_, err := f.orch.Submit(ctx, GenerationRequest{
		JobID:         "job-1",
		Topic:         "goats",
		AllowFallback: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "a script about goats", gotScript)
}

func TestSubmit_ScriptRequired(t *testing.T) {
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	f := newFixture(t, []provider.Adapter{a})

	_, err := f.orch.Submit(context.Background(), GenerationRequest{JobID: "job-1", AllowFallback: true})
	assert.ErrorIs(t, err, ErrScriptRequired)
}

func TestSubmit_InvalidDurationClass(t *testing.T) {
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	f := newFixture(t, []provider.Adapter{a})

	_, err := f.orch.Submit(context.Background(), GenerationRequest{
		JobID:         "job-1",
		Script:        "hello",
		Duration:      "epic",
		AllowFallback: true,
	})
	assert.ErrorIs(t, err, ErrInvalidDurationClass)
}

func TestCancel_StopsWatcherAndNotifiesProvider(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdapter{id: "heygen", caps: defaultCaps(1, 0.5)}
	f := newFixture(t, []provider.Adapter{a})

	_, err := f.orch.Submit(ctx, GenerationRequest{JobID: "job-1", Script: "hello", AllowFallback: true})
	require.NoError(t, err)

	j, err := f.orch.Cancel(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, j.Status)

	// Provider-side cancel is async and best-effort.
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.cancels) == 1
	}, time.Second, 5*time.Millisecond)

	// A completion webhook arriving after the cancel is ignored.
	got, err := f.rec.Apply(ctx, "job-1", provider.StatusUpdate{Status: provider.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, got.Status)
}

func TestPollingDrivesJobToCompletion(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdapter{id: "did", caps: defaultCaps(1, 0.5)}
	var checks int
	a.check = func(string) (provider.StatusUpdate, error) {
		checks++
		if checks < 3 {
			return provider.StatusUpdate{Status: provider.StatusProcessing, Progress: checks * 30}, nil
		}
		return provider.StatusUpdate{Status: provider.StatusCompleted, ResultURL: "https://cdn/v.mp4"}, nil
	}
	f := newFixture(t, []provider.Adapter{a})

	_, err := f.orch.Submit(ctx, GenerationRequest{JobID: "job-1", Script: "hello", AllowFallback: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := f.orch.Status(ctx, "job-1")
		return err == nil && j.Status == job.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	j, err := f.orch.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/v.mp4", j.ResultURL)
	assert.Equal(t, 100, j.Progress)
}
