// Package ratelimit guards the upstream brokerage API with sliding-window
// admission control and a circuit breaker. All state is owned by the Limiter
// and Breaker values and shared by injection; nothing here is ambient.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned when a caller gives up waiting for an
// admission slot.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Limiter admits calls under two concurrent ceilings (per minute and per
// hour) and an optional minimum delay between consecutive calls. Callers
// block in Acquire until a slot frees up or their context expires.
type Limiter struct {
	mu          sync.Mutex
	perMinute   int
	perHour     int
	minDelay    time.Duration
	minuteCalls []time.Time
	hourCalls   []time.Time
	lastCall    time.Time

	now func() time.Time // swapped in tests
}

// Stats is a point-in-time snapshot of limiter occupancy.
type Stats struct {
	CallsLastMinute int
	CallsLastHour   int
	MinuteLimit     int
	HourLimit       int
}

// NewLimiter creates a Limiter admitting at most perMinute calls per rolling
// minute and perHour calls per rolling hour, with at least minDelay between
// consecutive calls. A non-positive ceiling disables that window.
func NewLimiter(perMinute, perHour int, minDelay time.Duration) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		minDelay:  minDelay,
		now:       time.Now,
	}
}

// Acquire blocks until the call is admitted under every ceiling, then records
// it. If ctx expires first, it returns ErrRateLimitExceeded wrapping the
// context error; no bookkeeping is held for the abandoned caller.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		admitAt := l.nextAdmission(now)
		if !admitAt.After(now) {
			l.minuteCalls = append(l.minuteCalls, now)
			l.hourCalls = append(l.hourCalls, now)
			l.lastCall = now
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		wait := admitAt.Sub(now)
		// Re-check at least every second: other callers may time out and
		// release their place in line.
		if wait > time.Second {
			wait = time.Second
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRateLimitExceeded, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Stats returns current occupancy of both windows.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return Stats{
		CallsLastMinute: len(l.minuteCalls),
		CallsLastHour:   len(l.hourCalls),
		MinuteLimit:     l.perMinute,
		HourLimit:       l.perHour,
	}
}

// nextAdmission returns the earliest instant a new call may proceed. Must be
// called with the lock held and windows pruned.
func (l *Limiter) nextAdmission(now time.Time) time.Time {
	admitAt := now
	if l.minDelay > 0 && !l.lastCall.IsZero() {
		if t := l.lastCall.Add(l.minDelay); t.After(admitAt) {
			admitAt = t
		}
	}
	if l.perMinute > 0 && len(l.minuteCalls) >= l.perMinute {
		if t := l.minuteCalls[0].Add(time.Minute); t.After(admitAt) {
			admitAt = t
		}
	}
	if l.perHour > 0 && len(l.hourCalls) >= l.perHour {
		if t := l.hourCalls[0].Add(time.Hour); t.After(admitAt) {
			admitAt = t
		}
	}
	return admitAt
}

// prune drops call records that fell out of their window.
func (l *Limiter) prune(now time.Time) {
	cutMinute := now.Add(-time.Minute)
	for len(l.minuteCalls) > 0 && !l.minuteCalls[0].After(cutMinute) {
		l.minuteCalls = l.minuteCalls[1:]
	}
	cutHour := now.Add(-time.Hour)
	for len(l.hourCalls) > 0 && !l.hourCalls[0].After(cutHour) {
		l.hourCalls = l.hourCalls[1:]
	}
}
