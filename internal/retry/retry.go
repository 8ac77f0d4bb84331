// Package retry provides the single retry-policy abstraction shared by the
// agent connection loop and the per-block translation loop.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry loop with geometric backoff.
type Policy struct {
	// MaxAttempts caps the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// Factor multiplies the delay after every failed attempt.
	Factor float64
	// MaxDelay caps the per-attempt wait. Zero means uncapped.
	MaxDelay time.Duration
}

// Retryable decides whether an error is worth another attempt. A nil
// predicate retries every error.
type Retryable func(error) bool

// Do runs fn until it succeeds, the retryable predicate rejects the error,
// the attempts are exhausted, or ctx is cancelled. It returns the last
// error observed.
func (p Policy) Do(ctx context.Context, retryable Retryable, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if retryable != nil && !retryable(last) {
			return last
		}
		if attempt == attempts {
			break
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay = p.next(delay)
	}
	return last
}

func (p Policy) next(d time.Duration) time.Duration {
	if p.Factor > 1 {
		d = time.Duration(float64(d) * p.Factor)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
