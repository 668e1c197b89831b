// Package retry provides a small bounded-retry helper for external calls.
package retry

import (
	"context"
	"time"
)

const (
	// MaxAttempts is the default attempt bound for external calls.
	MaxAttempts = 3

	// BaseWait is the default backoff unit. Attempt n waits n*BaseWait.
	BaseWait = 1 * time.Second
)

// Func is a retryable operation.
type Func func() error

// Do executes f up to attempts times with linear backoff between attempts.
// It returns nil on the first success, the context error if the context is
// done while waiting, and otherwise the last error.
func Do(ctx context.Context, attempts int, baseWait time.Duration, f Func) error {
	if attempts <= 0 {
		attempts = MaxAttempts
	}
	if baseWait <= 0 {
		baseWait = BaseWait
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * baseWait):
			}
		}

		if err := f(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
