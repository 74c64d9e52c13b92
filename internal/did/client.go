package did

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Static errors for D-ID client operations.
var (
	// ErrCredentialsRequired is returned when no API credentials are provided.
	ErrCredentialsRequired = errors.New("did: API credentials are required")
	// ErrTalkIDRequired is returned when the talk ID is not provided.
	ErrTalkIDRequired = errors.New("did: talk ID is required")
	// ErrNoTalkIDReturned is returned when the create response contains no talk ID.
	ErrNoTalkIDReturned = errors.New("did: create failed: no talk ID returned")
	// ErrUnauthorized is returned when the server rejects the credentials.
	ErrUnauthorized = errors.New("did: unauthorized")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("did: rate limited")
	// ErrInsufficientCredits is returned when the account has no credits left.
	ErrInsufficientCredits = errors.New("did: insufficient credits")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("did: server error")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("did: request failed")
)

const defaultSourceURL = "https://create-images-results.d-id.com/DefaultPresenters/Noelle_f/image.jpeg"

// Client defines the interface for interacting with the D-ID API.
type Client interface {
	// CreateTalk starts a talk generation and returns the talk ID.
	CreateTalk(ctx context.Context, in CreateTalkInput) (talkID string, err error)

	// GetTalk fetches the current state of a talk.
	GetTalk(ctx context.Context, talkID string) (Talk, error)

	// DeleteTalk removes a talk, aborting it if still running.
	DeleteTalk(ctx context.Context, talkID string) error
}

// HTTPClient is the HTTP implementation of the D-ID Client interface.
type HTTPClient struct {
	authHeader string
	baseURL    string
	httpClient *http.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the D-ID API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = url
	}
}

// NewClient creates a new D-ID HTTP client. The credentials string is the
// "username:password" pair from the D-ID dashboard, sent as Basic auth.
func NewClient(credentials string, opts ...ClientOption) (*HTTPClient, error) {
	if credentials == "" {
		return nil, ErrCredentialsRequired
	}

	c := &HTTPClient{
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials)),
		baseURL:    "https://api.d-id.com",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// CreateTalk starts a talk generation and returns the talk ID.
func (c *HTTPClient) CreateTalk(ctx context.Context, in CreateTalkInput) (string, error) {
	if in.SourceURL == "" {
		in.SourceURL = defaultSourceURL
	}
	if in.VoiceID == "" {
		in.VoiceID = "en-US-JennyNeural"
	}
	if in.ResultFormat == "" {
		in.ResultFormat = "mp4"
	}

	reqBody := createRequest{
		Script: talkScript{
			Type:     "text",
			Input:    in.Script,
			Provider: &ttsProvider{Type: "microsoft", VoiceID: in.VoiceID},
		},
		SourceURL: in.SourceURL,
		Config:    &talkConfig{ResultFormat: in.ResultFormat},
	}
	if in.Subtitles {
		reqBody.Script.Subtitle = &talkSubtitle{Enabled: true}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("did: marshal request: %w", err)
	}

	var resp talkResponse
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/talks", bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		return "", ErrNoTalkIDReturned
	}

	return resp.ID, nil
}

// GetTalk fetches the current state of a talk.
func (c *HTTPClient) GetTalk(ctx context.Context, talkID string) (Talk, error) {
	if talkID == "" {
		return Talk{}, ErrTalkIDRequired
	}

	var resp talkResponse
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/talks/"+talkID, nil, &resp); err != nil {
		return Talk{}, err
	}

	talk := Talk{
		ID:        resp.ID,
		Status:    Status(resp.Status),
		ResultURL: resp.ResultURL,
		Duration:  resp.Duration,
	}
	if resp.Error != nil {
		talk.Error = resp.Error.Description
		if talk.Error == "" {
			talk.Error = resp.Error.Kind
		}
	}

	return talk, nil
}

// DeleteTalk removes a talk, aborting it if still running.
func (c *HTTPClient) DeleteTalk(ctx context.Context, talkID string) error {
	if talkID == "" {
		return ErrTalkIDRequired
	}

	return c.doRequest(ctx, http.MethodDelete, c.baseURL+"/talks/"+talkID, nil, nil)
}

// doRequest performs a single HTTP request. Retry policy lives with the
// caller.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("did: create request: %w", err)
	}

	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("did: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("did: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrUnauthorized, string(respBody))
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))
		case resp.StatusCode == http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s", ErrInsufficientCredits, string(respBody))
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))
		default:
			return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("did: unmarshal response: %w", err)
		}
	}

	return nil
}
