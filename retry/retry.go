// Package retry runs a probe a bounded number of times with a fixed delay
// between calls.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt missed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Attempt calls fn until it reports done, at most maxAttempts times, waiting
// interval between calls. There is no wait after the last call. The value of
// the last call is returned together with ErrExhausted when no call succeeds.
// If ctx ends while waiting, ctx.Err() is returned.
func Attempt[T any](ctx context.Context, maxAttempts int, interval time.Duration, fn func(context.Context) (T, bool)) (T, error) {
	var last T
	if maxAttempts < 1 {
		return last, ErrExhausted
	}

	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			timer.Reset(interval)
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-timer.C:
			}
		}

		v, done := fn(ctx)
		if done {
			return v, nil
		}
		last = v
	}

	return last, ErrExhausted
}
