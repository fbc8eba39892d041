package util

import (
	"context"
	"math/rand/v2"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay, plus up to 50% random jitter so concurrent retriers do not
// stampede the upstream in lockstep. It returns nil on the first successful
// call, or the last error if all attempts fail. The function respects context
// cancellation between retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Jitter(delay)):
			}
			delay *= 2
		}
	}

	return err
}

// Jitter returns d extended by a random amount in [0, d/2).
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + rand.N(d/2+1)
}
