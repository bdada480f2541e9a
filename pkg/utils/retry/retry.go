package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRetry = errors.New("retry")

	// ErrGaveUp is returned by a Limited Backoff when no attempts are left.
	ErrGaveUp = errors.New("gave up retrying")
)

// Backoff is a (blocking) function returns when to retry.
//
// # Args
//
// - context: context. If context is canceled, Backoff should return ctx.Err().
//
// # Returns
//
// - error: nil if retry, non-nil if not.
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff function that waits for a fixed interval.
var StaticBackoff = func(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// ExponentialBackoff returns a Backoff function that waits with exponential backoff.
//
// For N-th call, it waits for `initialInterval * r^N` or context to be done.
var ExponentialBackoff = func(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			i := float64(interval) * r
			interval = time.Duration(int64(i))
			return nil
		}
	}
}

// Limited allows b to be waited at most `times` times.
//
// After that, it returns ErrGaveUp without waiting.
// When times <= 0, it returns b itself.
func Limited(b Backoff, times int) Backoff {
	if times <= 0 {
		return b
	}
	count := 0
	return func(ctx context.Context) error {
		if times <= count {
			return fmt.Errorf("%w (after %d retries)", ErrGaveUp, count)
		}
		count += 1
		return b(ctx)
	}
}

// Blocking calls f until it returns nil or non-retry error.
//
// b is waited before every call of f, including the first.
//
// # Returns
//
// - T: last return value of f
//
// - error: error returned by f, or by b.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	last := *new(T)
	for {
		if err := b(ctx); err != nil {
			return last, err
		}

		var err error
		last, err = f()
		if err == nil {
			return last, nil
		}
		if errors.Is(err, ErrRetry) {
			continue
		}
		return last, err
	}
}
