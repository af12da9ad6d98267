package requestopt

import (
	"testing"
	"time"
)

func TestBackoffRetryAfterWinsVerbatim(t *testing.T) {
	p := NewExponentialBackoff()

	err := newError(ErrorTypeRateLimit, "slow down", nil)
	err.RetryAfter = 12 * time.Second

	for attempt := 1; attempt <= 5; attempt++ {
		if got := p.Delay(err, attempt); got != 12*time.Second {
			t.Errorf("attempt %d: delay = %v, want RetryAfter verbatim (12s)", attempt, got)
		}
	}
}

func TestBackoffFirstAttemptWindow(t *testing.T) {
	p := NewExponentialBackoff()
	err := newError(ErrorTypeServer, "boom", nil)

	for i := 0; i < 100; i++ {
		got := p.Delay(err, 1)
		if got < time.Second || got >= 1100*time.Millisecond {
			t.Fatalf("attempt 1: delay = %v, want [1000ms, 1100ms)", got)
		}
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	p := NewExponentialBackoff()
	err := newError(ErrorTypeServer, "boom", nil)

	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		got := p.Delay(err, attempt)
		if got > 30*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds 30s cap", attempt, got)
		}
		if got < prev && prev != 30*time.Second {
			t.Fatalf("attempt %d: delay %v decreased from %v", attempt, got, prev)
		}
		prev = got
	}

	// Deep attempts saturate at the cap.
	if got := p.Delay(err, 10); got != 30*time.Second {
		t.Errorf("attempt 10: delay = %v, want cap 30s", got)
	}
}

func TestBackoffZeroValueDefaults(t *testing.T) {
	var p ExponentialBackoff
	err := newError(ErrorTypeServer, "boom", nil)

	got := p.Delay(err, 1)
	if got < time.Second || got > 1100*time.Millisecond {
		t.Errorf("zero-value policy attempt 1: delay = %v, want about 1s", got)
	}
}

func TestDecorrelatedBackoffWithinBounds(t *testing.T) {
	p := NewDecorrelatedBackoff()
	err := newError(ErrorTypeServer, "boom", nil)

	if got := p.Delay(err, 1); got != time.Second {
		t.Errorf("attempt 1: delay = %v, want base 1s", got)
	}

	for attempt := 2; attempt <= 8; attempt++ {
		got := p.Delay(err, attempt)
		if got < time.Second || got > 30*time.Second {
			t.Errorf("attempt %d: delay %v outside [1s, 30s]", attempt, got)
		}
	}
}
