package requestopt

import (
	"errors"
	"testing"
	"time"
)

func TestNewCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{})

	if cb.config.FailureThreshold != 5 {
		t.Errorf("Expected default FailureThreshold=5, got %d", cb.config.FailureThreshold)
	}
	if cb.config.RecoveryTimeout != 60*time.Second {
		t.Errorf("Expected default RecoveryTimeout=60s, got %v", cb.config.RecoveryTimeout)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected initial state=closed, got %v", cb.State())
	}
}

func TestCircuitBreakerAllowClosed(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{})

	if rejection := cb.Allow(); rejection != nil {
		t.Errorf("Expected nil rejection when closed, got %v", rejection)
	}
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("below threshold: state = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("at threshold: state = %v, want open", cb.State())
	}
}

func TestCircuitBreakerOpenRejection(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	cb.RecordFailure()

	rejection := cb.Allow()
	if rejection == nil {
		t.Fatal("Expected rejection while open")
	}
	if rejection.Type != ErrorTypeNetwork {
		t.Errorf("rejection type = %s, want network", rejection.Type)
	}
	if rejection.RetryAfter <= 0 || rejection.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want (0, 60s]", rejection.RetryAfter)
	}
	if rejection.RetryAfter%time.Second != 0 {
		t.Errorf("RetryAfter = %v, want whole seconds", rejection.RetryAfter)
	}
	if !errors.Is(rejection, ErrCircuitOpen) {
		t.Error("rejection should wrap ErrCircuitOpen")
	}
}

func TestCircuitBreakerHalfOpenAfterRecovery(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 50 * time.Millisecond})
	cb.RecordFailure()

	if rejection := cb.Allow(); rejection == nil {
		t.Fatal("Expected rejection during open window")
	}

	time.Sleep(60 * time.Millisecond)

	if rejection := cb.Allow(); rejection != nil {
		t.Fatalf("Expected trial call after recovery timeout, got %v", rejection)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("state = %v, want half-open", cb.State())
	}
}

func TestCircuitBreakerHalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 50 * time.Millisecond})
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)

	if rejection := cb.Allow(); rejection != nil {
		t.Fatalf("trial call rejected: %v", rejection)
	}
	cb.RecordSuccess()

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after trial success", cb.State())
	}
	if cb.failures != 0 {
		t.Errorf("failures = %d, want 0 after success", cb.failures)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 50 * time.Millisecond})
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)

	if rejection := cb.Allow(); rejection != nil {
		t.Fatalf("trial call rejected: %v", rejection)
	}
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after trial failure", cb.State())
	}
	if rejection := cb.Allow(); rejection == nil {
		t.Error("Expected rejection: cooldown must re-arm after trial failure")
	}
}

func TestCircuitBreakerSuccessAlwaysResets(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 5})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	if cb.failures != 0 {
		t.Errorf("failures = %d, want 0: success resets the counter", cb.failures)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Error("unexpected state names")
	}
}
