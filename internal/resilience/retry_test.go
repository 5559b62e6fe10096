package resilience

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryableErr struct{ retry bool }

func (e retryableErr) Error() string   { return "retryable marker" }
func (e retryableErr) Retryable() bool { return e.retry }

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(retryableErr{retry: true}))
	assert.False(t, IsRetryable(retryableErr{retry: false}))
	assert.True(t, IsRetryable(&net.DNSError{IsTimeout: true}))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("plain parse error")))
}

func TestRetryOnce_SucceedsWithoutRetryOnFirstTry(t *testing.T) {
	calls := 0
	err := RetryOnce(context.Background(), time.Millisecond, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnce_RetriesExactlyOnceOnRetryableError(t *testing.T) {
	calls := 0
	err := RetryOnce(context.Background(), time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return retryableErr{retry: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryOnce_DoesNotRetryNonRetryableError(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	err := RetryOnce(context.Background(), time.Millisecond, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetryOnce_StopsOnContextCancellationBeforeRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryOnce(ctx, 50*time.Millisecond, func(ctx context.Context) error {
		calls++
		cancel()
		return retryableErr{retry: true}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation before the backoff wait must prevent the retry call")
}
