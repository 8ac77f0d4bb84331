package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	p := Policy{MaxAttempts: 3}

	err := p.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestDoReturnsOnFirstSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	p := Policy{MaxAttempts: 5}

	err := p.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoRespectsRetryablePredicate(t *testing.T) {
	t.Parallel()

	fatal := errors.New("fatal")
	calls := 0
	p := Policy{MaxAttempts: 5}

	err := p.Do(context.Background(), func(err error) bool {
		return !errors.Is(err, fatal)
	}, func(ctx context.Context) error {
		calls++
		return fatal
	})

	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d calls", calls)
	}
}

func TestDoObservesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := Policy{MaxAttempts: 10, BaseDelay: time.Hour}

	calls := 0
	err := p.Do(ctx, nil, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", calls)
	}
}

func TestBackoffGrowsGeometricallyAndCaps(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: 100 * time.Millisecond, Factor: 2, MaxDelay: 300 * time.Millisecond}

	d := p.next(100 * time.Millisecond)
	if d != 200*time.Millisecond {
		t.Fatalf("expected 200ms, got %v", d)
	}
	d = p.next(d)
	if d != 300*time.Millisecond {
		t.Fatalf("expected cap at 300ms, got %v", d)
	}
	d = p.next(d)
	if d != 300*time.Millisecond {
		t.Fatalf("expected delay to stay capped, got %v", d)
	}
}
