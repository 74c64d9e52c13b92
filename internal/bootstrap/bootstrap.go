// Package bootstrap provides dependency initialization for the video broker.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gilco1973/videobroker/internal/artifact"
	"github.com/gilco1973/videobroker/internal/breaker"
	"github.com/gilco1973/videobroker/internal/config"
	"github.com/gilco1973/videobroker/internal/did"
	"github.com/gilco1973/videobroker/internal/heygen"
	"github.com/gilco1973/videobroker/internal/job"
	"github.com/gilco1973/videobroker/internal/kling"
	"github.com/gilco1973/videobroker/internal/orchestrator"
	"github.com/gilco1973/videobroker/internal/perf"
	"github.com/gilco1973/videobroker/internal/provider"
	"github.com/gilco1973/videobroker/internal/reconcile"
	"github.com/gilco1973/videobroker/internal/recovery"
	"github.com/gilco1973/videobroker/internal/selection"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Webhooks     *reconcile.WebhookProcessor
	Registry     *provider.Registry
	Breakers     *breaker.Set
	Tracker      *perf.Tracker
	Hub          *reconcile.Hub
	Poller       *reconcile.Poller

	redisClient *redis.Client
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	store, err := initStore(cfg, logger, deps)
	if err != nil {
		return nil, err
	}

	registry, err := initRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	tracker := perf.NewTracker()
	breakers := breaker.NewSet(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
	})

	engine := selection.NewEngine(registry, tracker,
		func(id string) bool { return !breakers.For(id).IsOpen() },
		selection.Weights{
			Quality:     cfg.WeightQuality,
			Reliability: cfg.WeightReliability,
			Latency:     cfg.WeightLatency,
			Cost:        cfg.WeightCost,
		},
	)

	recoveryCfg := recovery.DefaultConfig()
	recoveryCfg.MaxAttempts = cfg.MaxRetryAttempts
	recoveryCfg.DispatchTimeout = cfg.DispatchTimeout
	runner := recovery.NewRunner(engine, breakers, tracker,
		recovery.WithConfig(recoveryCfg),
		recovery.WithLogger(logger),
	)

	hub := reconcile.NewHub()

	// The completion hook and the orchestrator reference each other, so
	// the hook closes over a pointer that is assigned below. Completions
	// can only fire after a submit, by which time it is set.
	var orch *orchestrator.Orchestrator
	reconcilerOpts := []reconcile.ReconcilerOption{
		reconcile.WithReconcilerLogger(logger),
	}
	if cfg.MirrorResults {
		reconcilerOpts = append(reconcilerOpts,
			reconcile.WithOnComplete(func(j job.Job) { orch.HandleCompletion(j) }))
	}
	reconciler := reconcile.NewReconciler(store, hub, reconcilerOpts...)

	pollCfg := reconcile.DefaultPollConfig()
	pollCfg.Initial = cfg.PollInitialInterval
	pollCfg.Max = cfg.PollMaxInterval
	pollCfg.MaxPolls = cfg.PollMaxCount
	poller := reconcile.NewPoller(reconciler, registry, tracker,
		reconcile.WithPollConfig(pollCfg),
		reconcile.WithPollerLogger(logger),
	)

	webhooks := reconcile.NewWebhookProcessor(registry, store, reconciler,
		reconcile.WithSignatureTolerance(cfg.WebhookTolerance),
		reconcile.WithWebhookLogger(logger),
	)

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
	}
	if cfg.WebhookBaseURL != "" {
		orchOpts = append(orchOpts, orchestrator.WithWebhookBaseURL(cfg.WebhookBaseURL))
	}
	if cfg.MirrorResults {
		artifacts, err := artifact.NewS3Store(artifact.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create artifact store: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithArtifactStore(artifacts, &http.Client{
			Timeout: 5 * time.Minute,
		}))
		logger.Info("result mirroring enabled",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
	}

	orch = orchestrator.New(store, runner, reconciler, poller, registry, orchOpts...)

	deps.Orchestrator = orch
	deps.Webhooks = webhooks
	deps.Registry = registry
	deps.Breakers = breakers
	deps.Tracker = tracker
	deps.Hub = hub
	deps.Poller = poller
	return deps, nil
}

// Shutdown drains the pollers and releases external connections.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	if err := d.Poller.Shutdown(ctx); err != nil {
		return fmt.Errorf("drain pollers: %w", err)
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}

// initStore creates the job store backend based on configuration.
func initStore(cfg *config.Config, logger *slog.Logger, deps *Dependencies) (job.Store, error) {
	if cfg.RedisEnabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.redisClient = client
		logger.Info("redis job store configured",
			slog.String("addr", cfg.RedisAddr),
			slog.Duration("ttl", cfg.JobTTL),
		)
		return job.NewRedisStore(client, job.WithTTL(cfg.JobTTL)), nil
	}
	logger.Info("in-memory job store configured")
	return job.NewMemoryStore(), nil
}

// initRegistry builds a provider adapter for each configured credential set.
func initRegistry(cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	var adapters []provider.Adapter

	if cfg.HeyGenEnabled() {
		client, err := heygen.NewClient(cfg.HeyGenAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create HeyGen client: %w", err)
		}
		var opts []provider.HeyGenOption
		if cfg.HeyGenWebhookSecret != "" {
			opts = append(opts, provider.WithHeyGenWebhookSecret(cfg.HeyGenWebhookSecret))
		}
		adapters = append(adapters, provider.NewHeyGenAdapter(client, opts...))
		logger.Info("provider registered", slog.String("provider", "heygen"))
	}

	if cfg.DIDEnabled() {
		client, err := did.NewClient(cfg.DIDAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create D-ID client: %w", err)
		}
		adapters = append(adapters, provider.NewDIDAdapter(client))
		logger.Info("provider registered", slog.String("provider", "did"))
	}

	if cfg.KlingEnabled() {
		client, err := kling.NewClient(cfg.KlingAccessKey, cfg.KlingSecretKey)
		if err != nil {
			return nil, fmt.Errorf("create Kling client: %w", err)
		}
		adapters = append(adapters, provider.NewKlingAdapter(client))
		logger.Info("provider registered", slog.String("provider", "kling"))
	}

	return provider.NewRegistry(adapters...)
}
