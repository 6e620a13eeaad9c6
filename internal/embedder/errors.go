package embedder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-success response from an embedding service.
type APIError struct {
	// Provider names the backend that returned the error (openai, ollama, ...).
	Provider string
	// StatusCode is the HTTP status (or the equivalent code for SDK backends).
	StatusCode int
	// Message is the service-supplied error message, if any.
	Message string
	// RetryAfter is the server-requested wait, zero when absent.
	RetryAfter time.Duration
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s embedder: HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether the status is worth retrying: rate limiting or a
// server-side failure.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ConnectionError is a transport-level failure reaching the service.
type ConnectionError struct {
	// Provider names the backend.
	Provider string
	// Err is the underlying transport error.
	Err error
}

// Error implements error.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s embedder: connection failed: %v", e.Provider, e.Err)
}

// Unwrap returns the transport error.
func (e *ConnectionError) Unwrap() error { return e.Err }

// RetryExhaustedError is returned when every attempt failed with a retryable
// error.
type RetryExhaustedError struct {
	// Attempts is the number of calls made.
	Attempts int
	// Err is the last error observed.
	Err error
}

// Error implements error.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("embedder: giving up after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last error.
func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// GroupFailure is the error for one embedding group that yielded no vectors.
type GroupFailure struct {
	// Group is the zero-based group number.
	Group int
	// Start and End delimit the group's input positions, End exclusive.
	Start, End int
	// Err is the cause.
	Err error
}

// Error implements error.
func (e *GroupFailure) Error() string {
	return fmt.Sprintf("embedder: group %d (texts %d-%d): %v", e.Group, e.Start, e.End-1, e.Err)
}

// Unwrap returns the cause.
func (e *GroupFailure) Unwrap() error { return e.Err }

// GroupError aggregates every failed group of one Batcher.Embed call.
type GroupError struct {
	// Failures lists failed groups in group order.
	Failures []*GroupFailure
}

// Error implements error.
func (e *GroupError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("embedder: %d group(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes each failure to errors.Is and errors.As.
func (e *GroupError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Class is the retry classification of an error.
type Class int

const (
	// Fatal errors are returned immediately.
	Fatal Class = iota
	// Retryable errors are retried with backoff.
	Retryable
)

// String implements fmt.Stringer.
func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Classify decides whether err is worth retrying. Rate limiting, 5xx
// responses, connection failures and network timeouts are retryable. Context
// cancellation and everything else is fatal.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return Retryable
		}
		return Fatal
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	return Fatal
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Unparseable values yield zero.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
