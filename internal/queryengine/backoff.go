package queryengine

import (
	"context"
	"math/rand"
	"time"
)

// backoff implements capped exponential backoff with decorrelated jitter:
// sleep = min(cap, random_between(base, sleep * 3)). A 429 retry-after value
// lower-bounds the next delay regardless of where the jitter lands.
type backoff struct {
	min      time.Duration
	max      time.Duration
	attempts int
	duration time.Duration
}

func newBackoff(min, max time.Duration) backoff {
	return backoff{min: min, max: max, duration: min}
}

// wait sleeps out the current delay (at least floor) or returns early when
// the context ends.
func (b *backoff) wait(ctx context.Context, floor time.Duration) error {
	b.attempts++
	delay := b.duration
	if delay < floor {
		delay = floor
	}
	span := b.duration*3 - b.min
	if span <= 0 {
		span = 1
	}
	b.duration = b.min + time.Duration(rand.Int63n(int64(span)))
	if b.duration > b.max {
		b.duration = b.max
	}
	return sleepContext(ctx, delay)
}

// sleepContext is a cancellable sleep: it returns the context error as soon
// as the context ends, never waiting out the full interval.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
