package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiterAdmitsUnderCeiling(t *testing.T) {
	l := NewLimiter(5, 100, 0)

	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d returned error: %v", i, err)
		}
	}

	stats := l.Stats()
	if stats.CallsLastMinute != 5 {
		t.Errorf("CallsLastMinute = %d, want 5", stats.CallsLastMinute)
	}
}

func TestLimiterBlocksBeyondMinuteCeiling(t *testing.T) {
	l := NewLimiter(2, 100, 0)

	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d returned error: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Acquire beyond ceiling returned %v, want ErrRateLimitExceeded", err)
	}
}

func TestLimiterHourCeiling(t *testing.T) {
	l := NewLimiter(0, 3, 0)

	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d returned error: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Acquire beyond hourly ceiling returned %v, want ErrRateLimitExceeded", err)
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	now := time.Now()
	l := NewLimiter(2, 100, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d returned error: %v", i, err)
		}
	}

	// Advance past the minute window; the old calls must expire.
	now = now.Add(61 * time.Second)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after window slide returned error: %v", err)
	}
	if stats := l.Stats(); stats.CallsLastMinute != 1 {
		t.Errorf("CallsLastMinute after slide = %d, want 1", stats.CallsLastMinute)
	}
}

func TestLimiterMinDelay(t *testing.T) {
	l := NewLimiter(100, 1000, 20*time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d returned error: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("3 calls with 20ms min delay took %v, want >= 40ms", elapsed)
	}
}

func TestLimiterConcurrentCallers(t *testing.T) {
	l := NewLimiter(50, 1000, 0)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent Acquire %d returned error: %v", i, err)
		}
	}
	if stats := l.Stats(); stats.CallsLastMinute != 20 {
		t.Errorf("CallsLastMinute = %d, want 20", stats.CallsLastMinute)
	}
}
