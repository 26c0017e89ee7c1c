package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetriesExhausted is returned when all retry attempts are exhausted.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during
	// pacing or retry backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassAPI represents an explicit rejection by the remote service
	// (an "error" field in a 2xx response body). Never retried.
	ErrorClassAPI ErrorClass = "api"

	// ErrorClassHTTP represents a non-2xx HTTP status.
	ErrorClassHTTP ErrorClass = "http"

	// ErrorClassTransport represents network-level failures
	// (DNS, connection refused, timeout).
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassMalformed represents a 2xx response whose body is not JSON.
	ErrorClassMalformed ErrorClass = "malformed"
)

// APIError is an explicit rejection from the CRM API, carried in the
// "error" / "error_description" fields of an otherwise successful response.
type APIError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("api error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("api error %s", e.Code)
}

// TransportError is a network-level failure: DNS resolution, connection
// refused, or timeout. Always retryable up to the configured bound.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx HTTP status from the remote endpoint.
type HTTPError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: %s", e.Status)
}

// MalformedResponseError is a 2xx response whose body could not be parsed
// as JSON. Sample holds a truncated copy of the raw body for diagnostics.
type MalformedResponseError struct {
	StatusCode int
	Sample     string
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response (status %d): %q", e.StatusCode, e.Sample)
}

// retryableStatuses are the HTTP statuses worth another attempt.
// Other 4xx/5xx statuses are terminal.
var retryableStatuses = map[int]bool{
	500: true,
	502: true,
	503: true,
	504: true,
}

// classify maps a request failure to its error class.
func classify(err error) ErrorClass {
	var apiErr *APIError
	var httpErr *HTTPError
	var transportErr *TransportError
	var malformedErr *MalformedResponseError

	switch {
	case errors.As(err, &apiErr):
		return ErrorClassAPI
	case errors.As(err, &httpErr):
		return ErrorClassHTTP
	case errors.As(err, &transportErr):
		return ErrorClassTransport
	case errors.As(err, &malformedErr):
		return ErrorClassMalformed
	default:
		return ErrorClassTransport
	}
}

// shouldRetry reports whether another attempt could change the outcome.
// API rejections are never retried: the service understood the request
// and refused it. Same for malformed bodies and non-5xx statuses.
func shouldRetry(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatuses[httpErr.StatusCode]
	}

	return false
}
