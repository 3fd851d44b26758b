package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Exponential doubles base once per attempt and saturates at the largest
// representable duration. Attempts below zero count as zero.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	d := base
	for ; attempt > 0; attempt-- {
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	return d
}

// EqualJitter returns a random duration in [delay/2, delay).
// Keeping half of the delay fixed preserves the exponential growth between attempts.
func EqualJitter(delay time.Duration) time.Duration {
	if delay <= 1 {
		return max(delay, 0)
	}

	half := delay / 2
	return half + time.Duration(rand.Int64N(int64(delay-half)))
}

// Delay returns the capped backoff before the attempt following attempt.
// attempt is 1-based, so the first retry waits around base.
func Delay(base, maxDelay time.Duration, attempt int) time.Duration {
	d := Exponential(base, attempt-1)
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}

// SleepWithContext sleeps for duration but returns early if ctx is done.
// Returns immediately for zero or negative durations.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
