package resilience

import (
	"context"
	"time"
)

// RetryPolicy bounds how often an operation is re-run.
type RetryPolicy struct {
	// Retries is the number of extra attempts after the first one. Zero
	// disables retrying.
	Retries int

	// Backoff is the pause before each retry. Zero retries immediately.
	Backoff time.Duration

	// Retryable decides whether an error warrants another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. fn receives the zero-based attempt number. The last
// error is returned. Cancelling ctx stops further attempts and returns the
// last error from fn, or ctx.Err() if fn never ran.
func Retry(ctx context.Context, p RetryPolicy, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt <= max(p.Retries, 0); attempt++ {
		if attempt > 0 {
			if !sleep(ctx, p.Backoff) {
				return err
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}

// sleep waits d or until ctx is done, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
