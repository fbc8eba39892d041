package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// contacting the upstream.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is the circuit breaker lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
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

// Breaker isolates a failing upstream. Consecutive failures up to the
// threshold open the circuit; after the cooldown a single trial call is
// admitted. A failed trial reopens the circuit with a doubled cooldown,
// capped at maxCooldown.
type Breaker struct {
	mu           sync.Mutex
	threshold    int
	baseCooldown time.Duration
	maxCooldown  time.Duration
	cooldown     time.Duration
	failures     int
	state        State
	openUntil    time.Time

	now func() time.Time // swapped in tests
}

// NewBreaker creates a closed Breaker that opens after threshold consecutive
// failures and stays open for cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold:    threshold,
		baseCooldown: cooldown,
		maxCooldown:  10 * time.Minute,
		cooldown:     cooldown,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it fails fast
// with ErrCircuitOpen until the cooldown elapses, at which point exactly one
// trial call is admitted; concurrent calls during the trial are rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		now := b.now()
		if now.Before(b.openUntil) {
			return fmt.Errorf("%w: retry in %s", ErrCircuitOpen, b.openUntil.Sub(now).Round(time.Second))
		}
		b.state = StateHalfOpen
		return nil
	case StateHalfOpen:
		return fmt.Errorf("%w: trial call in flight", ErrCircuitOpen)
	}
	return nil
}

// RecordSuccess notes a successful upstream call. It closes the circuit
// after a successful trial and resets the consecutive-failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.cooldown = b.baseCooldown
	}
}

// RecordFailure notes a failed upstream call. Reaching the threshold opens
// the circuit; a failed half-open trial reopens it with a grown cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.cooldown *= 2
		if b.cooldown > b.maxCooldown {
			b.cooldown = b.maxCooldown
		}
		b.open()
		return
	}

	b.failures++
	if b.threshold > 0 && b.failures >= b.threshold {
		b.open()
	}
}

// State returns the current lifecycle state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// open must be called with the lock held.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openUntil = b.now().Add(b.cooldown)
	b.failures = 0
}
