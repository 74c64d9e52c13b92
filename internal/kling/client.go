package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Static errors for Kling client operations.
var (
	// ErrAccessKeyRequired is returned when no access key is provided.
	ErrAccessKeyRequired = errors.New("kling: access key is required")
	// ErrSecretKeyRequired is returned when no secret key is provided.
	ErrSecretKeyRequired = errors.New("kling: secret key is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("kling: task ID is required")
	// ErrNoTaskIDReturned is returned when the create response contains no task ID.
	ErrNoTaskIDReturned = errors.New("kling: create failed: no task ID returned")
	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("kling: unauthorized")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("kling: rate limited")
	// ErrInsufficientCredits is returned when the account balance is exhausted.
	ErrInsufficientCredits = errors.New("kling: insufficient credits")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("kling: server error")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("kling: request failed")
	// ErrAPIError is returned when the response envelope carries a non-zero code.
	ErrAPIError = errors.New("kling: api error")
)

// Kling envelope codes that map to specific failures.
const (
	codeOK                  = 0
	codeAuthFailed          = 1000
	codeAccountArrears      = 1102
	codeResourcePackEmpty   = 1103
	codeRateLimitRPM        = 1302
	codeRateLimitConcurrent = 1303
)

// Client defines the interface for interacting with the Kling API.
type Client interface {
	// CreateTask starts a text-to-video generation and returns the task ID.
	CreateTask(ctx context.Context, in CreateTaskInput) (taskID string, err error)

	// QueryTask fetches the current state of a task.
	QueryTask(ctx context.Context, taskID string) (Task, error)
}

// HTTPClient is the HTTP implementation of the Kling Client interface.
type HTTPClient struct {
	tokens     *tokenSource
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

// WithBaseURL sets a custom base URL for the Kling API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = url
	}
}

// NewClient creates a new Kling HTTP client. Kling authenticates every call
// with a short-lived JWT minted from the access/secret key pair.
func NewClient(accessKey, secretKey string, opts ...ClientOption) (*HTTPClient, error) {
	if accessKey == "" {
		return nil, ErrAccessKeyRequired
	}
	if secretKey == "" {
		return nil, ErrSecretKeyRequired
	}

	c := &HTTPClient{
		tokens:     newTokenSource(accessKey, secretKey),
		baseURL:    "https://api.klingai.com",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// CreateTask starts a text-to-video generation and returns the task ID.
func (c *HTTPClient) CreateTask(ctx context.Context, in CreateTaskInput) (string, error) {
	if in.ModelName == "" {
		in.ModelName = "kling-v1"
	}
	if in.Mode == "" {
		in.Mode = "std"
	}
	if in.Duration == "" {
		in.Duration = "5"
	}
	if in.AspectRatio == "" {
		in.AspectRatio = "16:9"
	}

	reqBody := createTaskRequest{
		ModelName:      in.ModelName,
		Prompt:         in.Prompt,
		Mode:           in.Mode,
		Duration:       in.Duration,
		AspectRatio:    in.AspectRatio,
		ExternalTaskID: in.ExternalRef,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("kling: marshal request: %w", err)
	}

	var resp apiResponse
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/v1/videos/text2video", bodyBytes, &resp); err != nil {
		return "", err
	}

	if err := envelopeError(resp); err != nil {
		return "", err
	}
	if resp.Data.TaskID == "" {
		return "", ErrNoTaskIDReturned
	}

	return resp.Data.TaskID, nil
}

// QueryTask fetches the current state of a task.
func (c *HTTPClient) QueryTask(ctx context.Context, taskID string) (Task, error) {
	if taskID == "" {
		return Task{}, ErrTaskIDRequired
	}

	var resp apiResponse
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/v1/videos/text2video/"+taskID, nil, &resp); err != nil {
		return Task{}, err
	}

	if err := envelopeError(resp); err != nil {
		return Task{}, err
	}

	task := Task{
		ID:        resp.Data.TaskID,
		Status:    TaskStatus(resp.Data.TaskStatus),
		StatusMsg: resp.Data.TaskStatusMsg,
	}
	if resp.Data.TaskResult != nil && len(resp.Data.TaskResult.Videos) > 0 {
		task.VideoURL = resp.Data.TaskResult.Videos[0].URL
		task.Duration = resp.Data.TaskResult.Videos[0].Duration
	}

	return task, nil
}

// envelopeError maps non-zero Kling envelope codes to sentinel errors.
// Kling reports most API failures inside a 200 response.
func envelopeError(resp apiResponse) error {
	switch resp.Code {
	case codeOK:
		return nil
	case codeAuthFailed:
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Message)
	case codeAccountArrears, codeResourcePackEmpty:
		return fmt.Errorf("%w: %s", ErrInsufficientCredits, resp.Message)
	case codeRateLimitRPM, codeRateLimitConcurrent:
		return fmt.Errorf("%w: %s", ErrRateLimited, resp.Message)
	default:
		return fmt.Errorf("%w %d: %s", ErrAPIError, resp.Code, resp.Message)
	}
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
		return fmt.Errorf("kling: create request: %w", err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kling: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kling: read response: %w", err)
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
			return fmt.Errorf("kling: unmarshal response: %w", err)
		}
	}

	return nil
}
