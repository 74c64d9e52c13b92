package heygen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Static errors for HeyGen client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is provided.
	ErrAPIKeyRequired = errors.New("heygen: API key is required")
	// ErrVideoIDRequired is returned when the video ID is not provided.
	ErrVideoIDRequired = errors.New("heygen: video ID is required")
	// ErrNoVideoIDReturned is returned when the generate response contains no video ID.
	ErrNoVideoIDReturned = errors.New("heygen: generate failed: no video ID returned")
	// ErrUnauthorized is returned when the server rejects the API key.
	ErrUnauthorized = errors.New("heygen: unauthorized")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("heygen: rate limited")
	// ErrInsufficientCredits is returned when the account has no credits left.
	ErrInsufficientCredits = errors.New("heygen: insufficient credits")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("heygen: server error")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("heygen: request failed")
)

// Client defines the interface for interacting with the HeyGen API.
type Client interface {
	// CreateVideo starts an avatar video generation and returns the video ID.
	CreateVideo(ctx context.Context, in CreateVideoInput) (videoID string, err error)

	// GetVideoStatus fetches the current state of a video.
	GetVideoStatus(ctx context.Context, videoID string) (VideoStatus, error)
}

// HTTPClient is the HTTP implementation of the HeyGen Client interface.
type HTTPClient struct {
	apiKey     string
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

// WithBaseURL sets a custom base URL for the HeyGen API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = url
	}
}

// NewClient creates a new HeyGen HTTP client. The API key is mandatory;
// HeyGen authenticates every call with the X-Api-Key header.
func NewClient(apiKey string, opts ...ClientOption) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &HTTPClient{
		apiKey:     apiKey,
		baseURL:    "https://api.heygen.com",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// CreateVideo starts an avatar video generation and returns the video ID.
func (c *HTTPClient) CreateVideo(ctx context.Context, in CreateVideoInput) (string, error) {
	if in.AvatarStyle == "" {
		in.AvatarStyle = "normal"
	}

	reqBody := generateRequest{
		Title:      in.Title,
		CallbackID: in.CallbackID,
		Caption:    in.Caption,
		Dimension:  dimension{Width: in.Width, Height: in.Height},
		VideoInputs: []videoInput{
			{
				Character: character{
					Type:        "avatar",
					AvatarID:    in.AvatarID,
					AvatarStyle: in.AvatarStyle,
				},
				Voice: voice{
					Type:      "text",
					InputText: in.Script,
					VoiceID:   in.VoiceID,
					Emotion:   in.Emotion,
				},
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("heygen: marshal request: %w", err)
	}

	var resp generateResponse
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/v2/video/generate", bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.Error != nil {
		return "", fmt.Errorf("%w: %s: %s", ErrRequestFailed, resp.Error.Code, resp.Error.Message)
	}
	if resp.Data.VideoID == "" {
		return "", ErrNoVideoIDReturned
	}

	return resp.Data.VideoID, nil
}

// GetVideoStatus fetches the current state of a video.
func (c *HTTPClient) GetVideoStatus(ctx context.Context, videoID string) (VideoStatus, error) {
	if videoID == "" {
		return VideoStatus{}, ErrVideoIDRequired
	}

	endpoint := fmt.Sprintf("%s/v1/video_status.get?video_id=%s", c.baseURL, url.QueryEscape(videoID))

	var resp statusResponse
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return VideoStatus{}, err
	}

	result := VideoStatus{
		ID:           resp.Data.ID,
		Status:       Status(resp.Data.Status),
		VideoURL:     resp.Data.VideoURL,
		ThumbnailURL: resp.Data.ThumbnailURL,
		Duration:     resp.Data.Duration,
	}
	if resp.Data.Error != nil {
		result.Error = resp.Data.Error.Message
		if result.Error == "" {
			result.Error = resp.Data.Error.Detail
		}
	}

	return result, nil
}

// doRequest performs a single HTTP request. Transient failures are not
// retried here; retry policy lives with the caller so attempts stay
// accountable in one place.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("heygen: create request: %w", err)
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("heygen: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("heygen: read response: %w", err)
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
			return fmt.Errorf("heygen: unmarshal response: %w", err)
		}
	}

	return nil
}
