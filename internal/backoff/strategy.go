// Package backoff holds the delay arithmetic behind the retry layer.
// Attempts are 1-indexed: the first retry uses exponent zero.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy defines the interface for backoff calculation algorithms.
type Strategy interface {
	// Calculate returns the delay before the given retry attempt.
	Calculate(attempt int, base, cap time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitter implements exponential backoff with uniform jitter:
// min(base * multiplier^(attempt-1) + random(0, jitter*exp), cap).
type ExponentialJitter struct{}

// Calculate implements the Strategy interface.
func (ExponentialJitter) Calculate(attempt int, base, cap time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Prevent overflow for absurd attempt numbers.
	if attempt > 31 {
		attempt = 31
	}

	delay := time.Duration(float64(base) * pow(multiplier, attempt-1))
	if delay < 0 || delay > cap {
		delay = cap
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		amount := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+amount > cap {
			delay = cap
		} else {
			delay += amount
		}
	}
	return delay
}

// DecorrelatedJitter implements decorrelated jitter per the AWS
// architecture blog: random_between(base, min(cap, base*3^attempt)).
// Stateless approximation; smoother tail latencies than exponential jitter.
type DecorrelatedJitter struct{}

// Calculate implements the Strategy interface.
func (DecorrelatedJitter) Calculate(attempt int, base, cap time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 1 {
		return base
	}
	if attempt > 11 {
		attempt = 11
	}

	lower := float64(base)
	upper := lower * pow(3.0, attempt-1)
	if upper > float64(cap) || upper < 0 {
		upper = float64(cap)
	}
	if upper < lower {
		upper = lower
	}

	delay := time.Duration(lower + rand.Float64()*(upper-lower))
	if delay < 0 || delay > cap {
		delay = cap
	}
	return delay
}

// clampJitter ensures jitter is within [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// pow calculates base^exponent using integer exponentiation.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
