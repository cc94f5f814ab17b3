package api

import (
	"errors"
	"fmt"
)

// Error is a structured failure from a collector request. StatusCode is zero
// for network-level failures (timeout, connection refused). Retryable tells
// callers whether the requester gave up on a retryable class of error or hit
// one that is never worth retrying.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Code       string
	Message    string
	Body       string
	Retryable  bool

	cause error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("api: %s %s: %v", e.Method, e.URL, e.cause)
	}
	if e.Code != "" {
		return fmt.Sprintf("api: %s %s: %s (%d): %s", e.Method, e.URL, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// IsRetryable reports whether err is an *Error the requester classified as
// retryable (it may still have exhausted its attempts).
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == 404
}

// IsUnauthorized reports whether err is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == 401
}

// IsInvalidAction reports whether err is the backend's 409 invalid_action
// response, returned when finishing an already-finished record. Callers
// treat it as an idempotent success.
func IsInvalidAction(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == 409 && e.Code == "invalid_action"
}
