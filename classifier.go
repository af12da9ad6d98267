package requestopt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// StatusError is an HTTP-like backend failure carrying a status code.
// Executors may return it raw; the Classifier buckets it by status family.
type StatusError struct {
	Status     int
	StatusText string
	// RetryAfter is the parsed Retry-After hint, when the backend sent one.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.StatusText != "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.StatusText)
	}
	return fmt.Sprintf("status %d", e.Status)
}

// CodeError is a backend failure identified by an application error code
// rather than an HTTP status.
type CodeError struct {
	Code    string
	Message string
}

func (e *CodeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %s", e.Code)
}

// statusCarrier, codeCarrier and retryAfterCarrier let externally defined
// error types participate in classification without depending on this
// package's shapes.
type statusCarrier interface{ HTTPStatus() int }
type codeCarrier interface{ ErrorCode() string }
type retryAfterCarrier interface{ RetryAfterHint() time.Duration }

// codeTable maps known backend error codes to taxonomy types. Unmapped
// codes fall back to server, retryable.
var codeTable = map[string]ErrorType{
	"429":               ErrorTypeRateLimit,
	"too_many_requests": ErrorTypeRateLimit,
	"PGRST116":          ErrorTypeNotFound,
	"not_found":         ErrorTypeNotFound,
	"23505":             ErrorTypeServer,
}

// Classifier normalizes arbitrary failures into the closed *Error taxonomy.
// All duck-typing on raw error shapes lives here and nowhere else.
type Classifier struct {
	// Online reports backend reachability; transport failures classify as
	// offline when it returns false. Defaults to always online.
	Online func() bool
}

// NewClassifier returns a classifier that assumes the backend is reachable.
func NewClassifier() *Classifier {
	return &Classifier{Online: func() bool { return true }}
}

// Classify maps a raw error to a typed one. It never panics and never
// returns nil for a non-nil input. Already-typed errors pass through.
func (c *Classifier) Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	// Cancellation and deadline expiry are the abort signals.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorTypeTimeout, "request timed out", err)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		e := c.classifyStatus(statusErr.Status, err)
		if statusErr.Status == 429 && statusErr.RetryAfter > 0 {
			e.RetryAfter = statusErr.RetryAfter
		}
		return e
	}
	var sc statusCarrier
	if errors.As(err, &sc) {
		e := c.classifyStatus(sc.HTTPStatus(), err)
		var rc retryAfterCarrier
		if e.Type == ErrorTypeRateLimit && errors.As(err, &rc) {
			if hint := rc.RetryAfterHint(); hint > 0 {
				e.RetryAfter = hint
			}
		}
		return e
	}

	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return c.classifyCode(codeErr.Code, err)
	}
	var cc codeCarrier
	if errors.As(err, &cc) {
		return c.classifyCode(cc.ErrorCode(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newError(ErrorTypeTimeout, "request timed out", err)
		}
		if c.Online != nil && !c.Online() {
			return newError(ErrorTypeOffline, "backend unreachable while offline", err)
		}
		return newError(ErrorTypeNetwork, "network request failed", err)
	}

	return newError(ErrorTypeUnknown, err.Error(), err)
}

func (c *Classifier) classifyStatus(status int, cause error) *Error {
	switch {
	case status == 401:
		return newError(ErrorTypeAuth, "authentication required", cause)
	case status == 403:
		return newError(ErrorTypePermission, "permission denied", cause)
	case status == 404:
		return newError(ErrorTypeNotFound, "resource not found", cause)
	case status == 429:
		return newError(ErrorTypeRateLimit, "rate limit exceeded", cause)
	case status >= 500:
		return newError(ErrorTypeServer, fmt.Sprintf("server error (%d)", status), cause)
	case status >= 400:
		// Remaining 4xx are caller mistakes the backend will repeat.
		e := newError(ErrorTypeNetwork, fmt.Sprintf("request rejected (%d)", status), cause)
		e.Retryable = false
		return e
	default:
		return newError(ErrorTypeUnknown, fmt.Sprintf("unexpected status %d", status), cause)
	}
}

func (c *Classifier) classifyCode(code string, cause error) *Error {
	t, ok := codeTable[code]
	if !ok {
		t = ErrorTypeServer
	}
	e := newError(t, fmt.Sprintf("backend error %s", code), cause)
	e.Code = code
	return e
}
