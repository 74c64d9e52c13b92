package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gilco1973/videobroker/internal/job"
	"github.com/gilco1973/videobroker/internal/provider"
)

// Webhook authentication headers. The signature is an HMAC-SHA256 over
// "<timestamp>.<raw body>" keyed with the provider's shared secret, hex
// encoded; the timestamp is unix seconds and bounds the replay window.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
)

// DefaultSignatureTolerance is how far a webhook timestamp may drift from
// the server clock before the delivery is rejected as a replay.
const DefaultSignatureTolerance = 300 * time.Second

// WebhookProcessor authenticates inbound provider callbacks and applies
// them to job state. Deliveries that fail authentication are rejected
// before any job lookup, so a forged payload can never touch a record.
type WebhookProcessor struct {
	registry  *provider.Registry
	store     job.Store
	rec       *Reconciler
	tolerance time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// WebhookOption configures a WebhookProcessor.
type WebhookOption func(*WebhookProcessor)

// WithSignatureTolerance overrides the replay window.
func WithSignatureTolerance(d time.Duration) WebhookOption {
	return func(p *WebhookProcessor) {
		if d > 0 {
			p.tolerance = d
		}
	}
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(p *WebhookProcessor) {
		p.logger = logger
	}
}

// NewWebhookProcessor creates a webhook processor.
func NewWebhookProcessor(registry *provider.Registry, store job.Store, rec *Reconciler, opts ...WebhookOption) *WebhookProcessor {
	p := &WebhookProcessor{
		registry:  registry,
		store:     store,
		rec:       rec,
		tolerance: DefaultSignatureTolerance,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process authenticates and applies one webhook delivery. The returned
// error is a provider.Error with code webhook for any authentication or
// parse failure; job state is only touched after the signature and
// timestamp check out.
func (p *WebhookProcessor) Process(ctx context.Context, providerID string, header http.Header, body []byte) (*job.Job, error) {
	adapter, err := p.registry.Get(providerID)
	if err != nil {
		return nil, provider.NewError(providerID, provider.CodeWebhook, "unknown provider", err)
	}
	wa, ok := adapter.(provider.WebhookAdapter)
	if !ok {
		return nil, provider.NewError(providerID, provider.CodeWebhook, "provider does not deliver webhooks", nil)
	}
	secret := wa.WebhookSecret()
	if secret == "" {
		return nil, provider.NewError(providerID, provider.CodeWebhook, "webhook secret not configured", nil)
	}

	if err := p.verify(secret, header, body); err != nil {
		p.logger.Warn("webhook rejected",
			slog.String("provider", providerID),
			slog.String("error", err.Error()),
		)
		return nil, provider.NewError(providerID, provider.CodeWebhook, err.Error(), err)
	}

	event, err := wa.ParseWebhook(body)
	if err != nil {
		return nil, err
	}

	jobID, err := p.store.ResolveExternal(ctx, providerID, event.ExternalID)
	if err != nil {
		if errors.Is(err, job.ErrMappingNotFound) {
			return nil, provider.NewError(providerID, provider.CodeWebhook,
				fmt.Sprintf("no job mapped to external id %s", event.ExternalID), err)
		}
		return nil, fmt.Errorf("reconcile: resolve external id: %w", err)
	}

	p.logger.Info("webhook received",
		slog.String("provider", providerID),
		slog.String("job_id", jobID),
		slog.String("external_id", event.ExternalID),
		slog.String("status", string(event.Update.Status)),
	)

	return p.rec.Apply(ctx, jobID, event.Update)
}

// verify checks the delivery signature and replay window.
func (p *WebhookProcessor) verify(secret string, header http.Header, body []byte) error {
	ts := header.Get(TimestampHeader)
	if ts == "" {
		return errors.New("missing timestamp header")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("malformed timestamp header")
	}
	drift := p.now().Sub(time.Unix(unix, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > p.tolerance {
		return errors.New("timestamp outside tolerance window")
	}

	sig := header.Get(SignatureHeader)
	if sig == "" {
		return errors.New("missing signature header")
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return errors.New("malformed signature header")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// Sign computes the signature value for a timestamp and body. Exported for
// tests and for local tooling that replays captured deliveries.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
