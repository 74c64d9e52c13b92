package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilco1973/videobroker/internal/job"
	"github.com/gilco1973/videobroker/internal/provider"
)

// fakeWebhookAdapter is a minimal webhook-capable provider for processor
// tests. Payloads are {"external_id": ..., "status": ..., "url": ...}.
type fakeWebhookAdapter struct {
	id     string
	secret string
}

func (a *fakeWebhookAdapter) ID() string                          { return a.id }
func (a *fakeWebhookAdapter) Capabilities() provider.Capabilities  { return provider.Capabilities{} }
func (a *fakeWebhookAdapter) CanHandle(provider.Requirements) bool { return true }
func (a *fakeWebhookAdapter) EstimateCost(provider.Requirements) float64 { return 0 }
func (a *fakeWebhookAdapter) Dispatch(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
	return provider.Dispatch{}, nil
}
func (a *fakeWebhookAdapter) CheckStatus(context.Context, string) (provider.StatusUpdate, error) {
	return provider.StatusUpdate{}, nil
}
func (a *fakeWebhookAdapter) WebhookSecret() string { return a.secret }
func (a *fakeWebhookAdapter) ParseWebhook(payload []byte) (provider.WebhookEvent, error) {
	var body struct {
		ExternalID string `json:"external_id"`
		Status     string `json:"status"`
		URL        string `json:"url"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return provider.WebhookEvent{}, provider.NewError(a.id, provider.CodeWebhook, "malformed payload", err)
	}
	return provider.WebhookEvent{
		ExternalID: body.ExternalID,
		Update: provider.StatusUpdate{
			Status:    provider.Status(body.Status),
			Progress:  provider.DefaultProgress(provider.Status(body.Status)),
			ResultURL: body.URL,
		},
		ReceivedAt: time.Now(),
	}, nil
}

// pollOnlyAdapter has no webhook support at all.
type pollOnlyAdapter struct{ id string }

func (a *pollOnlyAdapter) ID() string                          { return a.id }
func (a *pollOnlyAdapter) Capabilities() provider.Capabilities  { return provider.Capabilities{} }
func (a *pollOnlyAdapter) CanHandle(provider.Requirements) bool { return true }
func (a *pollOnlyAdapter) EstimateCost(provider.Requirements) float64 { return 0 }
func (a *pollOnlyAdapter) Dispatch(context.Context, provider.DispatchInput) (provider.Dispatch, error) {
	return provider.Dispatch{}, nil
}
func (a *pollOnlyAdapter) CheckStatus(context.Context, string) (provider.StatusUpdate, error) {
	return provider.StatusUpdate{}, nil
}

func newWebhookFixture(t *testing.T) (*WebhookProcessor, job.Store) {
	t.Helper()
	adapter := &fakeWebhookAdapter{id: "heygen", secret: "topsecret"}
	registry, err := provider.NewRegistry(adapter)
	require.NoError(t, err)

	store := job.NewMemoryStore()
	rec := NewReconciler(store, nil)
	return NewWebhookProcessor(registry, store, rec), store
}

// signedHeaders builds valid signature headers for a payload.
func signedHeaders(secret string, at time.Time, body []byte) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	h := http.Header{}
	h.Set(TimestampHeader, ts)
	h.Set(SignatureHeader, Sign(secret, ts, body))
	return h
}

func TestWebhookProcessor_AppliesSignedDelivery(t *testing.T) {
	ctx := context.Background()
	p, store := newWebhookFixture(t)
	seedJob(t, store, "job-1")
	require.NoError(t, store.SaveMapping(ctx, "heygen", "ext-job-1", "job-1"))

	body := []byte(`{"external_id":"ext-job-1","status":"completed","url":"https://cdn/v.mp4"}`)
	j, err := p.Process(ctx, "heygen", signedHeaders("topsecret", time.Now(), body), body)

	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.Equal(t, "https://cdn/v.mp4", j.ResultURL)
}

func TestWebhookProcessor_InvalidSignatureLeavesJobUntouched(t *testing.T) {
	ctx := context.Background()
	p, store := newWebhookFixture(t)
	seedJob(t, store, "job-1")
	require.NoError(t, store.SaveMapping(ctx, "heygen", "ext-job-1", "job-1"))

	body := []byte(`{"external_id":"ext-job-1","status":"completed","url":"https://cdn/v.mp4"}`)
	headers := signedHeaders("wrong-secret", time.Now(), body)

	_, err := p.Process(ctx, "heygen", headers, body)
	require.Error(t, err)
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, provider.CodeWebhook, pe.Code)

	// Job state must be exactly as seeded.
	j, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)
	assert.Empty(t, j.ResultURL)
}

func TestWebhookProcessor_RejectsStaleTimestamp(t *testing.T) {
	ctx := context.Background()
	p, store := newWebhookFixture(t)
	seedJob(t, store, "job-1")
	require.NoError(t, store.SaveMapping(ctx, "heygen", "ext-job-1", "job-1"))

	body := []byte(`{"external_id":"ext-job-1","status":"completed"}`)
	headers := signedHeaders("topsecret", time.Now().Add(-10*time.Minute), body)

	_, err := p.Process(ctx, "heygen", headers, body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tolerance")
}

func TestWebhookProcessor_MissingHeaders(t *testing.T) {
	ctx := context.Background()
	p, store := newWebhookFixture(t)
	seedJob(t, store, "job-1")

	body := []byte(`{"external_id":"ext-job-1","status":"completed"}`)

	cases := []struct {
		name    string
		headers http.Header
	}{
		{"no headers", http.Header{}},
		{"timestamp only", func() http.Header {
			h := http.Header{}
			h.Set(TimestampHeader, fmt.Sprint(time.Now().Unix()))
			return h
		}()},
		{"garbage timestamp", func() http.Header {
			h := signedHeaders("topsecret", time.Now(), body)
			h.Set(TimestampHeader, "yesterday")
			return h
		}()},
		{"garbage signature", func() http.Header {
			h := signedHeaders("topsecret", time.Now(), body)
			h.Set(SignatureHeader, "zz-not-hex")
			return h
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Process(ctx, "heygen", tc.headers, body)
			require.Error(t, err)
			pe, ok := provider.AsError(err)
			require.True(t, ok)
			assert.Equal(t, provider.CodeWebhook, pe.Code)
		})
	}
}

func TestWebhookProcessor_PollOnlyProvider(t *testing.T) {
	registry, err := provider.NewRegistry(&pollOnlyAdapter{id: "did"})
	require.NoError(t, err)
	store := job.NewMemoryStore()
	p := NewWebhookProcessor(registry, store, NewReconciler(store, nil))

	_, err = p.Process(context.Background(), "did", http.Header{}, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not deliver webhooks")
}

func TestWebhookProcessor_UnknownProvider(t *testing.T) {
	p, _ := newWebhookFixture(t)

	_, err := p.Process(context.Background(), "nosuch", http.Header{}, []byte(`{}`))
	require.Error(t, err)
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, provider.CodeWebhook, pe.Code)
}

func TestWebhookProcessor_UnmappedExternalID(t *testing.T) {
	ctx := context.Background()
	p, _ := newWebhookFixture(t)

	body := []byte(`{"external_id":"never-seen","status":"completed"}`)
	_, err := p.Process(ctx, "heygen", signedHeaders("topsecret", time.Now(), body), body)

	require.Error(t, err)
	assert.ErrorIs(t, err, job.ErrMappingNotFound)
}
