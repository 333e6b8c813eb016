package waiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fast(attempts int) Options {
	return Options{Interval: time.Millisecond, MaxAttempts: attempts}
}

func TestUntil_SucceedsAfterPolls(t *testing.T) {
	calls := 0
	err := Until(context.Background(), fast(5), "table active", func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("Until() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 polls, got %d", calls)
	}
}

func TestUntil_Timeout(t *testing.T) {
	calls := 0
	err := Until(context.Background(), fast(4), "function active", func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 polls, got %d", calls)
	}
}

func TestUntil_ConditionErrorAborts(t *testing.T) {
	boom := errors.New("describe failed")
	calls := 0
	err := Until(context.Background(), fast(10), "table gone", func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected condition error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single poll, got %d", calls)
	}
}

func TestUntil_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Until(ctx, Options{Interval: time.Hour, MaxAttempts: 3}, "never", func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUntil_OnPoll(t *testing.T) {
	var seen []int
	opts := fast(3)
	opts.OnPoll = func(attempt int, done bool) {
		seen = append(seen, attempt)
	}
	_ = Until(context.Background(), opts, "x", func(context.Context) (bool, error) {
		return false, nil
	})
	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("unexpected poll callbacks: %v", seen)
	}
}

func TestRetry(t *testing.T) {
	errPropagating := errors.New("role cannot be assumed yet")
	errFatal := errors.New("access denied")
	retryable := func(err error) bool { return errors.Is(err, errPropagating) }

	t.Run("eventually succeeds", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast(5), "create function", func(context.Context) error {
			calls++
			if calls < 3 {
				return errPropagating
			}
			return nil
		}, retryable)
		if err != nil {
			t.Fatalf("Retry() error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("non retryable error stops", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast(5), "create function", func(context.Context) error {
			calls++
			return errFatal
		}, retryable)
		if !errors.Is(err, errFatal) {
			t.Fatalf("expected fatal error, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("exhausted keeps last error", func(t *testing.T) {
		err := Retry(context.Background(), fast(2), "create function", func(context.Context) error {
			return errPropagating
		}, retryable)
		if !errors.Is(err, ErrTimeout) || !errors.Is(err, errPropagating) {
			t.Fatalf("expected timeout wrapping last error, got %v", err)
		}
	})
}
