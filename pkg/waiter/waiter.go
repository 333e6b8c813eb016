// Package waiter blocks until an asynchronous provider operation becomes
// observable, polling at a fixed interval for a bounded number of attempts.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the attempts are exhausted before the
// awaited condition holds.
var ErrTimeout = errors.New("timed out waiting for condition")

// Default polling parameters.
const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

// Options bounds a wait.
type Options struct {
	// Interval is the delay between two polls.
	Interval time.Duration

	// MaxAttempts is the number of times the condition is evaluated.
	MaxAttempts int

	// OnPoll is called after every evaluation of the condition.
	OnPoll func(attempt int, done bool)
}

// Defaults returns the default options.
func Defaults() Options {
	return Options{
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (o Options) normalized() Options {
	if o.Interval < 0 {
		o.Interval = 0
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// Condition reports whether the awaited state has been reached. A non-nil
// error aborts the wait.
type Condition func(ctx context.Context) (bool, error)

// Until polls cond until it returns true. It returns an error wrapping
// ErrTimeout once MaxAttempts evaluations have returned false.
func Until(ctx context.Context, opts Options, what string, cond Condition) error {
	opts = opts.normalized()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		done, err := cond(ctx)
		if opts.OnPoll != nil {
			opts.OnPoll(attempt, done)
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if err := sleep(ctx, opts.Interval); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %s (%d attempts, %s interval)", ErrTimeout, what, opts.MaxAttempts, opts.Interval)
}

// Retry calls op until it succeeds or fails with an error for which
// retryable returns false. The last retryable error is wrapped together
// with ErrTimeout when the attempts run out.
func Retry(ctx context.Context, opts Options, what string, op func(ctx context.Context) error, retryable func(error) bool) error {
	var last error
	err := Until(ctx, opts, what, func(ctx context.Context) (bool, error) {
		last = op(ctx)
		if last == nil {
			return true, nil
		}
		if retryable(last) {
			return false, nil
		}
		return false, last
	})
	if errors.Is(err, ErrTimeout) && last != nil {
		return fmt.Errorf("%w: %w", err, last)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
