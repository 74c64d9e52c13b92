package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gilco1973/videobroker/internal/provider"
)

// Default polling schedule. The interval starts small while most jobs are
// queued, then backs off as long-running generations settle in.
const (
	DefaultPollInitial  = 2 * time.Second
	DefaultPollMax      = 15 * time.Second
	DefaultMaxPolls     = 180
	DefaultCheckTimeout = 30 * time.Second

	pollGrowth = 1.5
	pollJitter = 0.2
)

// PollConfig holds the polling schedule knobs.
type PollConfig struct {
	// Initial is the delay before the first status check.
	Initial time.Duration
	// Max caps the backed-off interval.
	Max time.Duration
	// MaxPolls bounds the number of status checks before the job is
	// marked failed with a timeout error.
	MaxPolls int
	// CheckTimeout is the network timeout on each status check.
	CheckTimeout time.Duration
}

// DefaultPollConfig returns the standard polling schedule.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Initial:      DefaultPollInitial,
		Max:          DefaultPollMax,
		MaxPolls:     DefaultMaxPolls,
		CheckTimeout: DefaultCheckTimeout,
	}
}

// withDefaults fills zero values with defaults.
func (c PollConfig) withDefaults() PollConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultPollInitial
	}
	if c.Max <= 0 {
		c.Max = DefaultPollMax
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = DefaultMaxPolls
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	return c
}

// Recorder accumulates status-check outcomes. Satisfied by *perf.Tracker.
type Recorder interface {
	Record(providerID string, success bool, latency time.Duration)
}

// Poller is the pull half of reconciliation: one timer-driven watcher per
// job polls the provider until the job reaches a terminal status or the
// poll budget runs out. Providers with webhook callbacks get a lazier
// safety-net watcher, since their webhooks normally land first and a
// terminal Apply stops the watcher early.
type Poller struct {
	rec      *Reconciler
	registry *provider.Registry
	perf     Recorder
	cfg      PollConfig
	logger   *slog.Logger

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
	root     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollConfig overrides the default schedule.
func WithPollConfig(cfg PollConfig) PollerOption {
	return func(p *Poller) {
		p.cfg = cfg.withDefaults()
	}
}

// WithPollerLogger sets the logger.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// NewPoller creates a poller. Watchers live until their job terminates or
// Shutdown is called. A nil perf recorder disables stat collection.
func NewPoller(rec *Reconciler, registry *provider.Registry, perf Recorder, opts ...PollerOption) *Poller {
	root, cancel := context.WithCancel(context.Background())
	p := &Poller{
		rec:      rec,
		registry: registry,
		perf:     perf,
		cfg:      DefaultPollConfig(),
		logger:   slog.Default(),
		watchers: make(map[string]context.CancelFunc),
		root:     root,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WatchOption tunes a single watcher.
type WatchOption func(*PollConfig)

// WithInitialInterval overrides the first poll delay for one watcher.
// Used for the safety-net watch behind webhook-capable providers.
func WithInitialInterval(d time.Duration) WatchOption {
	return func(c *PollConfig) {
		if d > 0 {
			c.Initial = d
		}
	}
}

// Watch starts polling one job. Idempotent: a second Watch for the same
// job id is a no-op while the first watcher is alive.
func (p *Poller) Watch(jobID, providerID, externalID string, opts ...WatchOption) {
	cfg := p.cfg
	for _, opt := range opts {
		opt(&cfg)
	}

	p.mu.Lock()
	if _, live := p.watchers[jobID]; live {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(p.root)
	p.watchers[jobID] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.stopWatcher(jobID)
		p.run(ctx, cfg, jobID, providerID, externalID)
	}()
}

// Stop cancels the watcher for one job, if any. The job record is not
// touched; callers that want a terminal record use Reconciler.Cancel.
func (p *Poller) Stop(jobID string) {
	p.mu.Lock()
	cancel, ok := p.watchers[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Watching reports whether a watcher is live for the job id.
func (p *Poller) Watching(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watchers[jobID]
	return ok
}

// Shutdown cancels all watchers and waits for them to drain, or until the
// context expires.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reconcile: poller shutdown: %w", ctx.Err())
	}
}

// stopWatcher removes a finished watcher's registration.
func (p *Poller) stopWatcher(jobID string) {
	p.mu.Lock()
	if cancel, ok := p.watchers[jobID]; ok {
		delete(p.watchers, jobID)
		cancel()
	}
	p.mu.Unlock()
}

// run is one watcher's poll loop.
func (p *Poller) run(ctx context.Context, cfg PollConfig, jobID, providerID, externalID string) {
	adapter, err := p.registry.Get(providerID)
	if err != nil {
		p.logger.Error("watcher for unknown provider",
			slog.String("job_id", jobID),
			slog.String("provider", providerID),
		)
		return
	}

	interval := cfg.Initial
	for polls := 0; polls < cfg.MaxPolls; polls++ {
		timer := time.NewTimer(jittered(interval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		cctx, cancel := context.WithTimeout(ctx, cfg.CheckTimeout)
		start := time.Now()
		update, err := adapter.CheckStatus(cctx, externalID)
		latency := time.Since(start)
		cancel()

		if p.perf != nil {
			p.perf.Record(providerID, err == nil, latency)
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("status check failed",
				slog.String("job_id", jobID),
				slog.String("provider", providerID),
				slog.Int("polls", polls+1),
				slog.String("error", err.Error()),
			)
			if !provider.IsRetryable(err) {
				// The provider will never answer for this job
				// (bad credentials, unknown id). Leaving it
				// processing forever helps nobody.
				if _, err := p.rec.Fail(ctx, jobID, fmt.Sprintf("status check failed: %v", err)); err != nil {
					p.logger.Error("mark job failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
				}
				return
			}
		} else {
			j, err := p.rec.Apply(ctx, jobID, update)
			if err != nil {
				p.logger.Error("apply poll result",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			} else if j.IsTerminal() {
				return
			}
		}

		interval = time.Duration(float64(interval) * pollGrowth)
		if interval > cfg.Max {
			interval = cfg.Max
		}
	}

	p.logger.Warn("poll budget exhausted",
		slog.String("job_id", jobID),
		slog.String("provider", providerID),
		slog.Int("max_polls", cfg.MaxPolls),
	)
	if _, err := p.rec.Fail(ctx, jobID,
		fmt.Sprintf("timed out waiting for provider %s after %d status checks", providerID, cfg.MaxPolls)); err != nil {
		p.logger.Error("mark job failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}

// jittered spreads an interval by ±20% so many watchers do not align.
func jittered(d time.Duration) time.Duration {
	f := 1 - pollJitter + 2*pollJitter*rand.Float64()
	return time.Duration(float64(d) * f)
}
