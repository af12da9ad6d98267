package requestopt

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType is the closed error taxonomy used across the optimizer boundary.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeOffline    ErrorType = "offline"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state.
	ErrCircuitOpen = errors.New("requestopt: circuit open")

	// ErrRateLimited is returned when a request is denied due to rate limiting.
	ErrRateLimited = errors.New("requestopt: rate limited")

	// ErrRetryBudgetExceeded is returned when the retry budget is exhausted.
	ErrRetryBudgetExceeded = errors.New("requestopt: retry budget exceeded")

	// ErrOptimizerClosed is returned for work rejected by Cleanup.
	ErrOptimizerClosed = errors.New("requestopt: optimizer shutting down")
)

// Error is the typed error crossing every optimizer/client boundary. Raw
// failures never escape unclassified; see Classifier.
type Error struct {
	Type    ErrorType
	Message string
	// Code is the backend error code, when one was exposed.
	Code string
	// Retryable reports whether a retry may succeed. It defaults per Type
	// (see defaultRetryable) and may be overridden per instance.
	Retryable bool
	// RetryAfter is an explicit wait hint (rate limits, open breaker).
	RetryAfter time.Duration
	// Meta carries optional diagnostic context.
	Meta  map[string]any
	Cause error

	// Attempt/MaxRetries describe the retry position at surfacing time.
	Attempt    int
	MaxRetries int
}

// defaultRetryable derives retryability from the error type.
func defaultRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeServer, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// newError builds an *Error with type-derived retryability.
func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:      t,
		Message:   message,
		Retryable: defaultRetryable(t),
		Cause:     cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code %s)", msg, e.Code)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// withAttempt stamps retry position onto a copy of the error.
func (e *Error) withAttempt(attempt, maxRetries int) *Error {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Attempt = attempt
	dup.MaxRetries = maxRetries
	return &dup
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry. Sentinels for the breaker, the rate limiter and
// the retry budget count as transient: the condition clears on its own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.Retryable
	}

	return false
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}
