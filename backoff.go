package requestopt

import (
	"time"

	internalbackoff "github.com/ganatejadragneel/selfpm-sub002/internal/backoff"
)

// BackoffPolicy computes the delay before a retry attempt. Implementations
// must be pure: no timers, no shared state beyond a random source.
type BackoffPolicy interface {
	// Delay returns the wait before retry number attempt (1-indexed).
	// An explicit RetryAfter hint on the error wins over any computation.
	Delay(err *Error, attempt int) time.Duration
}

// ExponentialBackoff is the default policy: explicit RetryAfter verbatim,
// otherwise exponential backoff with uniform jitter, capped.
type ExponentialBackoff struct {
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
	Jitter     float64

	strategy internalbackoff.Strategy
}

// NewExponentialBackoff returns the default policy: 1s base, 30s cap,
// doubling, 10% jitter.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:       time.Second,
		Cap:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
		strategy:   internalbackoff.ExponentialJitter{},
	}
}

// NewDecorrelatedBackoff returns a policy using AWS-style decorrelated
// jitter with the same base and cap defaults.
func NewDecorrelatedBackoff() *ExponentialBackoff {
	p := NewExponentialBackoff()
	p.strategy = internalbackoff.DecorrelatedJitter{}
	return p
}

// Delay implements BackoffPolicy.
func (p *ExponentialBackoff) Delay(err *Error, attempt int) time.Duration {
	if err != nil && err.RetryAfter > 0 {
		return err.RetryAfter
	}

	strategy := p.strategy
	if strategy == nil {
		strategy = internalbackoff.ExponentialJitter{}
	}

	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	cap := p.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	return strategy.Calculate(attempt, base, cap, multiplier, p.Jitter)
}
