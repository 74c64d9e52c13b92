package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies provider failures into a small vocabulary shared
// across all adapters. The recovery engine keys retry decisions off the
// code's Retryable flag, never off provider-specific errors.
type ErrorCode string

// Error codes across providers.
const (
	CodeAuthentication      ErrorCode = "authentication"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeInvalidParameters   ErrorCode = "invalid_parameters"
	CodeInsufficientCredits ErrorCode = "insufficient_credits"
	CodeProcessing          ErrorCode = "processing_error"
	CodeTimeout             ErrorCode = "timeout"
	CodeNetwork             ErrorCode = "network"
	CodeWebhook             ErrorCode = "webhook"
	CodeUnavailable         ErrorCode = "provider_unavailable"
	CodeQuotaExceeded       ErrorCode = "quota_exceeded"
	CodeUnknown             ErrorCode = "unknown"
)

// retryableCodes marks which classes of failure are worth retrying on the
// same provider. Everything else either fails fast (bad request, exhausted
// credits) or fails over to a different provider.
var retryableCodes = map[ErrorCode]bool{
	CodeRateLimited: true,
	CodeTimeout:     true,
	CodeNetwork:     true,
	CodeUnavailable: true,
	CodeProcessing:  true,
}

// Retryable reports whether failures with this code may succeed on retry.
func (c ErrorCode) Retryable() bool {
	return retryableCodes[c]
}

// Error is the normalized provider failure. Adapters translate their
// client's sentinel errors into this type at the boundary so nothing
// upstream needs to know which provider produced the failure.
type Error struct {
	// Provider is the adapter id that produced the failure.
	Provider string
	// Code is the normalized classification.
	Code ErrorCode
	// Message is a human-readable description.
	Message string
	// StatusCode is the HTTP status from the provider, when one exists.
	StatusCode int
	// Cause is the underlying error, preserved for errors.Is/As.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (%s, status %d)", e.Provider, e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure may succeed on retry.
func (e *Error) Retryable() bool {
	return e.Code.Retryable()
}

// NewError builds a normalized provider error.
func NewError(providerID string, code ErrorCode, message string, cause error) *Error {
	return &Error{
		Provider: providerID,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// AsError extracts a normalized provider error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable provider error.
// Unknown errors are treated as non-retryable so a misclassified failure
// cannot burn the retry budget.
func IsRetryable(err error) bool {
	if pe, ok := AsError(err); ok {
		return pe.Retryable()
	}
	return false
}

// CodeFromHTTPStatus maps an HTTP response status to an error code.
// Used by adapters when a client surfaces a status code without a more
// specific sentinel.
func CodeFromHTTPStatus(status int) ErrorCode {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuthentication
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusPaymentRequired:
		return CodeInsufficientCredits
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return CodeInvalidParameters
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeTimeout
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return CodeUnavailable
	case status >= 500:
		return CodeProcessing
	default:
		return CodeUnknown
	}
}
