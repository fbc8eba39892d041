package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow %d returned error while closed: %v", i, err)
		}
		b.RecordFailure()
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("State after 5 failures = %v, want open", got)
	}

	// Sixth call within cooldown fails fast.
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow while open returned %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if got := b.State(); got != StateClosed {
		t.Errorf("State = %v, want closed (success should reset the counter)", got)
	}
}

func TestBreakerHalfOpenTrialSuccess(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State = %v, want open", got)
	}

	// Cooldown elapses: exactly one trial call is admitted.
	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after cooldown returned %v, want trial admission", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second Allow during trial returned %v, want ErrCircuitOpen", err)
	}

	b.RecordSuccess()
	if got := b.State(); got != StateClosed {
		t.Errorf("State after successful trial = %v, want closed", got)
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow after closing returned error: %v", err)
	}
}

func TestBreakerHalfOpenTrialFailureGrowsCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	b.RecordFailure()

	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after cooldown returned %v, want trial admission", err)
	}
	b.RecordFailure()

	if got := b.State(); got != StateOpen {
		t.Fatalf("State after failed trial = %v, want open", got)
	}

	// Original cooldown has passed but the grown (2m) one has not.
	now = now.Add(90 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow within grown cooldown returned %v, want ErrCircuitOpen", err)
	}

	now = now.Add(time.Minute)
	if err := b.Allow(); err != nil {
		t.Errorf("Allow after grown cooldown returned %v, want trial admission", err)
	}
}

func TestBreakerZeroThresholdNeverOpens(t *testing.T) {
	b := NewBreaker(0, time.Minute)

	for i := 0; i < 100; i++ {
		b.RecordFailure()
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("State = %v, want closed when threshold disabled", got)
	}
}
