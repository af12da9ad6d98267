package requestopt

import (
	"testing"
	"time"
)

func TestRateLimiterConsumesTokens(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("call %d: expected a token", i+1)
		}
	}
	if rl.Allow() {
		t.Error("empty bucket should reject")
	}
	if rl.Tokens() != 0 {
		t.Errorf("tokens = %d, want 0", rl.Tokens())
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(2, 20*time.Millisecond)

	rl.Allow()
	rl.Allow()
	if rl.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(30 * time.Millisecond)

	if !rl.Allow() {
		t.Error("expected a refilled token after the interval")
	}
}

func TestRateLimiterCapsAtMax(t *testing.T) {
	rl := NewRateLimiter(2, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	if got := rl.Tokens(); got != 2 {
		t.Errorf("tokens = %d, want capacity cap of 2", got)
	}
}
