package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrRunInProgress indicates a sync run is already running for the scope
	ErrRunInProgress = errors.New("sync run already in progress")

	// ErrRetryExhausted indicates the retry budget was spent without success
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")
)

// RemoteErrorKind is the taxonomy of remote API failures.
type RemoteErrorKind string

const (
	// RemoteErrTransient covers transient network failures and 5xx responses.
	RemoteErrTransient RemoteErrorKind = "transient"

	// RemoteErrRateLimit is a rate-limit rejection, optionally carrying a
	// server-suggested retry delay.
	RemoteErrRateLimit RemoteErrorKind = "rate_limit"

	// RemoteErrValidation is a rejected payload. Never retried.
	RemoteErrValidation RemoteErrorKind = "validation"

	// RemoteErrNotFound is a missing remote entity. Never retried.
	RemoteErrNotFound RemoteErrorKind = "not_found"

	// RemoteErrDependency marks records that fail because something they
	// depend on (group, header item) failed. Cascades without retry.
	RemoteErrDependency RemoteErrorKind = "dependency"
)

// RemoteError is a structured remote API failure. Message is always
// human-readable; raw payloads are distilled before they reach a record's
// last_error column.
type RemoteError struct {
	Kind       RemoteErrorKind
	Message    string
	StatusCode int

	// RetryAfter is the server-suggested delay for rate-limit errors,
	// zero when the server gave none.
	RetryAfter time.Duration
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the error is worth retrying.
func (e *RemoteError) Retryable() bool {
	return e.Kind == RemoteErrTransient || e.Kind == RemoteErrRateLimit
}

// NewTransientError wraps a transient network/server failure.
func NewTransientError(statusCode int, msg string) *RemoteError {
	return &RemoteError{Kind: RemoteErrTransient, StatusCode: statusCode, Message: msg}
}

// NewRateLimitError wraps a rate-limit rejection. retryAfter may be zero.
func NewRateLimitError(msg string, retryAfter time.Duration) *RemoteError {
	return &RemoteError{Kind: RemoteErrRateLimit, StatusCode: 429, Message: msg, RetryAfter: retryAfter}
}

// NewValidationError wraps a non-retryable payload rejection.
func NewValidationError(msg string) *RemoteError {
	return &RemoteError{Kind: RemoteErrValidation, Message: msg}
}

// NewDependencyError marks a cascade failure from a failed dependency.
func NewDependencyError(dependency, reason string) *RemoteError {
	return &RemoteError{
		Kind:    RemoteErrDependency,
		Message: fmt.Sprintf("%s failed: %s", dependency, reason),
	}
}

// IsRetryable reports whether err should be retried. Only classified remote
// errors and timeouts are retryable; context cancellation and unknown errors
// are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetryExhausted) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}

// RetryAfterHint extracts the server-suggested delay from err, or zero.
func RetryAfterHint(err error) time.Duration {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

// ReasonString distills an error into a human-readable message suitable for
// a record's last_error column.
func ReasonString(err error) string {
	if err == nil {
		return ""
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}
