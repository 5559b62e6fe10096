package resilience

import (
	"context"
	"errors"
	"net"
	"time"
)

// Retryable is implemented by errors the inference client chooses to retry
// exactly once (connection reset, 5xx). Parse failures and 4xx responses
// must not implement this.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is a connection reset/timeout or is
// explicitly marked Retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryOnce runs fn, and if it fails with a retryable error, waits backoff
// and runs it exactly once more. It never retries on context cancellation,
// parse errors, or 4xx-shaped errors (those are not Retryable).
func RetryOnce(ctx context.Context, backoff time.Duration, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || !IsRetryable(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
	}

	return fn(ctx)
}
