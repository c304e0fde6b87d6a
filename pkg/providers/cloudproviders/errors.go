package cloudproviders

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the cross-provider failure taxonomy. Every adapter translates
// its provider-specific failures into exactly one of these kinds before
// returning, so callers never branch on provider-native error shapes.
type ErrorKind string

const (
	ErrorKindAuth                ErrorKind = "AuthError"
	ErrorKindRateLimited         ErrorKind = "RateLimited"
	ErrorKindTimeout             ErrorKind = "Timeout"
	ErrorKindInvalidRequest      ErrorKind = "InvalidRequest"
	ErrorKindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	// ErrorKindValidationFailed is set by the normalizer when an entire
	// response is unusable, never by adapters.
	ErrorKindValidationFailed ErrorKind = "ValidationFailed"
	// ErrorKindInternal covers failures in our own collaborators
	// (persistence, credential store), not the upstream provider.
	ErrorKindInternal ErrorKind = "InternalError"
)

// APIError is a classified provider failure.
type APIError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Message  string
	Err      error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (%s, status %d)", e.Provider, e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying: rate limits,
// timeouts, and upstream unavailability. Auth and invalid-request failures
// are deterministic and fail fast.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case ErrorKindRateLimited, ErrorKindTimeout, ErrorKindUpstreamUnavailable:
		return true
	}
	return false
}

// KindOf extracts the ErrorKind from err, defaulting to UpstreamUnavailable
// for unclassified errors.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ErrorKindUpstreamUnavailable
}

// IsRetryable reports whether err should be retried by the resilience layer.
// Network-level errors without a classification are treated as retryable.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// MapStatus turns an HTTP response status into a classified APIError.
// Callers pass the provider key and a short message (typically a trimmed
// response body excerpt).
func MapStatus(provider string, status int, message string) *APIError {
	kind := ErrorKindInvalidRequest
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrorKindAuth
	case status == http.StatusTooManyRequests:
		kind = ErrorKindRateLimited
	case status >= 500:
		kind = ErrorKindUpstreamUnavailable
	}
	return &APIError{Provider: provider, Kind: kind, Status: status, Message: message}
}

// WrapTransport classifies a transport-level error (DNS failure, connection
// reset, timeout) from an HTTP round trip.
func WrapTransport(provider string, err error) *APIError {
	kind := ErrorKindUpstreamUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = ErrorKindTimeout
	}
	return &APIError{Provider: provider, Kind: kind, Message: "request failed", Err: err}
}
