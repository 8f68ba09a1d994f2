package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("could not serialize access")

func quick(opts ...Option) *Retrier {
	return New(append([]Option{WithBackoff(time.Millisecond, time.Millisecond)}, opts...)...)
}

func TestRetrier_RetriesMarkedErrorsUntilSuccess(t *testing.T) {
	calls := 0
	var attempts []int
	r := quick(WithAttempts(5), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	}))

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errBusy)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetrier_ReturnsUnmarkedErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := quick(WithAttempts(3)).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errBusy)
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, errBusy, err)
	assert.False(t, IsRetryable(err))
}

func TestRetrier_KeepsWrappedMarker(t *testing.T) {
	err := quick(WithAttempts(1)).Do(context.Background(), func(context.Context) error {
		return fmt.Errorf("commit: %w", Retryable(errBusy))
	})

	assert.ErrorIs(t, err, errBusy)
	assert.True(t, IsRetryable(err))
}

func TestRetrier_PlainErrorsAreNotRetriedByDefault(t *testing.T) {
	calls := 0
	err := quick().Do(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBusy)
}

func TestRetrier_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := New(WithAttempts(5), WithBackoff(time.Hour, time.Hour))

	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return Retryable(errBusy)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, errBusy, err)
}

func TestRetrier_CancelledBeforeFirstCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := quick().Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRetrier_DelayDoublesUpToCeiling(t *testing.T) {
	r := New(WithBackoff(100*time.Millisecond, 300*time.Millisecond))

	assert.Equal(t, 100*time.Millisecond, r.delay(1))
	assert.Equal(t, 200*time.Millisecond, r.delay(2))
	assert.Equal(t, 300*time.Millisecond, r.delay(3))
	assert.Equal(t, 300*time.Millisecond, r.delay(40))
}

func TestRetrier_JitterStaysInBand(t *testing.T) {
	r := New(WithBackoff(100*time.Millisecond, time.Second), WithJitter(0.5))
	for range 50 {
		d := r.delay(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(fmt.Errorf("dial: %w", context.DeadlineExceeded)))
}

func TestConnectRetrier_RetriesPlainErrors(t *testing.T) {
	r := ConnectRetrier(2, nil)
	r.base, r.jitter = time.Millisecond, 0

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestTxRetrier_OnlyRetriesMarked(t *testing.T) {
	calls := 0
	err := TxRetrier().Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("unique violation")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
