package requestopt

import (
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name for logs and metrics.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// FailureThreshold opens the breaker after this many consecutive
	// failures. Defaults to 5.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before permitting
	// a half-open trial call. Defaults to 60s.
	RecoveryTimeout time.Duration
}

// CircuitBreaker stops hammering a failing backend. While open it rejects
// calls with a synthetic network error carrying the remaining cooldown;
// once the cooldown elapses the next call transitions it to half-open and
// is let through as a trial. Any success forces closed and resets the
// failure counter.
type CircuitBreaker struct {
	config BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	nextAttempt time.Time
}

// NewCircuitBreaker creates a circuit breaker, filling config defaults.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Allow reports whether a call may proceed. A nil return permits the call;
// otherwise the typed rejection is returned and the executor must not run.
func (cb *CircuitBreaker) Allow() *Error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		now := time.Now()
		if now.Before(cb.nextAttempt) {
			remaining := cb.nextAttempt.Sub(now)
			e := newError(ErrorTypeNetwork, "circuit breaker is open", ErrCircuitOpen)
			// Round up so callers never retry before the window closes.
			e.RetryAfter = roundUpSeconds(remaining)
			return e
		}
		// Cooldown elapsed: half-open, permit one trial call.
		cb.state = StateHalfOpen
		return nil
	default:
		e := newError(ErrorTypeNetwork, "circuit breaker in unknown state", ErrCircuitOpen)
		e.RetryAfter = roundUpSeconds(cb.config.RecoveryTimeout)
		return e
	}
}

// RecordFailure counts a failed call, opening the breaker at the threshold
// and re-arming the cooldown on a failed half-open trial.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.nextAttempt = time.Now().Add(cb.config.RecoveryTimeout)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.nextAttempt = time.Now().Add(cb.config.RecoveryTimeout)
	}
}

// RecordSuccess closes the breaker and resets the failure counter,
// regardless of prior state.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// roundUpSeconds rounds a duration up to whole seconds, minimum 1s.
func roundUpSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
