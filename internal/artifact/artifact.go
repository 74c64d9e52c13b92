// Package artifact stores final media artifacts durably. Provider result
// URLs are often short-lived signed links; mirroring copies the result into
// object storage this system controls so the job record can carry a URL
// that outlives the provider's retention window.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrEmptySource is returned when a mirror is requested for an empty URL.
var ErrEmptySource = errors.New("artifact: empty source url")

// Store persists one artifact and returns its durable URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}

// Mirror downloads a provider-hosted result and re-hosts it in the store.
// The returned URL replaces the provider's link on the job record.
func Mirror(ctx context.Context, client *http.Client, store Store, sourceURL, key string) (string, error) {
	if sourceURL == "" {
		return "", ErrEmptySource
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("artifact: build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("artifact: download result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artifact: download result: unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}

	url, err := store.Put(ctx, key, contentType, resp.Body)
	if err != nil {
		return "", fmt.Errorf("artifact: store result: %w", err)
	}
	return url, nil
}
