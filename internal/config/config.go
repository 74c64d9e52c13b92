// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrNoProviderConfigured is returned when no provider has credentials.
	ErrNoProviderConfigured = errors.New("config: at least one provider must be configured")
	// ErrKlingKeyPairIncomplete is returned when only one half of the
	// Kling access/secret key pair is set.
	ErrKlingKeyPairIncomplete = errors.New("config: KLING_ACCESS_KEY and KLING_SECRET_KEY must be set together")
	// ErrS3ConfigIncomplete is returned when result mirroring is enabled
	// without a bucket and region.
	ErrS3ConfigIncomplete = errors.New("config: MIRROR_RESULTS requires S3_BUCKET and S3_REGION")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Provider credentials. A provider without credentials is simply not
	// registered; at least one must be present.
	HeyGenAPIKey        string `env:"HEYGEN_API_KEY" json:"-"`        // Masked in JSON
	HeyGenWebhookSecret string `env:"HEYGEN_WEBHOOK_SECRET" json:"-"` // Masked in JSON
	DIDAPIKey           string `env:"DID_API_KEY" json:"-"`           // Masked in JSON
	KlingAccessKey      string `env:"KLING_ACCESS_KEY" json:"-"`      // Masked in JSON
	KlingSecretKey      string `env:"KLING_SECRET_KEY" json:"-"`      // Masked in JSON

	// WebhookBaseURL is the public base URL providers deliver callbacks
	// to. Empty disables callback registration; affected providers fall
	// back to polling alone.
	WebhookBaseURL string `env:"WEBHOOK_BASE_URL" json:"webhook_base_url,omitempty"`

	// Recovery settings
	MaxRetryAttempts int           `env:"MAX_RETRY_ATTEMPTS, default=3" json:"max_retry_attempts"`
	DispatchTimeout  time.Duration `env:"DISPATCH_TIMEOUT, default=60s" json:"dispatch_timeout"`

	// Circuit breaker settings
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD, default=5" json:"breaker_failure_threshold"`
	BreakerResetTimeout     time.Duration `env:"BREAKER_RESET_TIMEOUT, default=60s" json:"breaker_reset_timeout"`

	// Polling settings
	PollInitialInterval time.Duration `env:"POLL_INITIAL_INTERVAL, default=2s" json:"poll_initial_interval"`
	PollMaxInterval     time.Duration `env:"POLL_MAX_INTERVAL, default=15s" json:"poll_max_interval"`
	PollMaxCount        int           `env:"POLL_MAX_COUNT, default=180" json:"poll_max_count"`

	// Webhook signature settings
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE, default=300s" json:"webhook_tolerance"`

	// Selection scoring weights. They must be positive; relative size is
	// what matters, not the sum.
	WeightQuality     float64 `env:"WEIGHT_QUALITY, default=0.30" json:"weight_quality"`
	WeightReliability float64 `env:"WEIGHT_RELIABILITY, default=0.35" json:"weight_reliability"`
	WeightLatency     float64 `env:"WEIGHT_LATENCY, default=0.20" json:"weight_latency"`
	WeightCost        float64 `env:"WEIGHT_COST, default=0.15" json:"weight_cost"`

	// Job store settings. Without a Redis address jobs live in memory.
	RedisAddr     string        `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisPassword string        `env:"REDIS_PASSWORD" json:"-"` // Masked in JSON
	RedisDB       int           `env:"REDIS_DB, default=0" json:"redis_db"`
	JobTTL        time.Duration `env:"JOB_TTL, default=168h" json:"job_ttl"`

	// Result mirroring settings
	MirrorResults      bool   `env:"MIRROR_RESULTS, default=false" json:"mirror_results"`
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// HeyGenEnabled returns true if HeyGen credentials are configured.
func (c *Config) HeyGenEnabled() bool {
	return c.HeyGenAPIKey != ""
}

// DIDEnabled returns true if D-ID credentials are configured.
func (c *Config) DIDEnabled() bool {
	return c.DIDAPIKey != ""
}

// KlingEnabled returns true if the Kling key pair is configured.
func (c *Config) KlingEnabled() bool {
	return c.KlingAccessKey != "" && c.KlingSecretKey != ""
}

// RedisEnabled returns true if a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.KlingAccessKey != "" || c.KlingSecretKey != "" {
		if !c.KlingEnabled() {
			return ErrKlingKeyPairIncomplete
		}
	}
	if !c.HeyGenEnabled() && !c.DIDEnabled() && !c.KlingEnabled() {
		return ErrNoProviderConfigured
	}
	if c.MirrorResults && (c.S3Bucket == "" || c.S3Region == "") {
		return ErrS3ConfigIncomplete
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, HeyGen: %t, DID: %t, Kling: %t, WebhookBaseURL: %s, MaxRetryAttempts: %d, Redis: %t, MirrorResults: %t, S3Bucket: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.HeyGenEnabled(),
		c.DIDEnabled(),
		c.KlingEnabled(),
		c.WebhookBaseURL,
		c.MaxRetryAttempts,
		c.RedisEnabled(),
		c.MirrorResults,
		c.S3Bucket,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
