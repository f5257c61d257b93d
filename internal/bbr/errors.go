// Package bbr provides an HTTP client for the BBR building registry REST
// service on Datafordeler, with error classification into sentinel errors.
// The client performs exactly one attempt per call; retry policy belongs to
// the sync engine, which needs to count failures across page boundaries.
package bbr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, bbr.ErrThrottled) to check.
var (
	ErrTimeout      = errors.New("bbr: request timed out")
	ErrConnection   = errors.New("bbr: connection failed")
	ErrThrottled    = errors.New("bbr: throttled")
	ErrServerError  = errors.New("bbr: server error")
	ErrBadRequest   = errors.New("bbr: bad request")
	ErrUnauthorized = errors.New("bbr: unauthorized")
	ErrForbidden    = errors.New("bbr: forbidden")
	ErrNotFound     = errors.New("bbr: not found")
)

// APIError wraps a sentinel error with the HTTP status code and response
// body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bbr: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestTimeout:
		return ErrTimeout
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// classifyTransport maps a transport-level error (no HTTP response) to a
// sentinel error. Deadline expiry and net timeouts become ErrTimeout;
// everything else is a connection failure.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	return ErrConnection
}

// IsRetryable reports whether the error is a transient failure the sync
// engine should retry with backoff. Auth and client errors are not
// retryable: repeating them cannot succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrThrottled) ||
		errors.Is(err, ErrServerError)
}
