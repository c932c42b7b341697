// Package retry provides fixed-interval polling with an attempt ceiling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned by Poll when the operation never
// reached a terminal state within the attempt ceiling.
var ErrAttemptsExhausted = errors.New("attempt ceiling exhausted")

// Poll invokes op every interval until it reports done, returns an
// error, the attempt ceiling is reached, or the context is cancelled.
// The first attempt runs immediately.
func Poll(ctx context.Context, interval time.Duration, attempts int, op func(ctx context.Context) (done bool, err error)) error {
	for attempt := 1; attempt <= attempts; attempt++ {
		done, err := op(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("polling cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("still not done after %d attempts: %w", attempts, ErrAttemptsExhausted)
}
