// Package retry re-runs an operation with exponential backoff. The engine
// uses it for two things: dialling Postgres and Redis at startup, and
// re-running a transaction that lost a serialization race.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt. Under the default policy
// only marked errors are retried. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// unmark strips the Retryable marker so callers see the original error.
func unmark(err error) error {
	var r *retryableError
	if errors.As(err, &r) && r == err {
		return r.err
	}
	return err
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithAttempts caps the total number of calls, the first one included.
func WithAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBackoff sets the first delay and the ceiling. Each delay doubles the
// one before it.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(r *Retrier) {
		r.base, r.ceiling = base, ceiling
	}
}

// WithJitter spreads each delay by up to ±f of its value. f is clamped to
// [0, 1].
func WithJitter(f float64) Option {
	return func(r *Retrier) { r.jitter = min(max(f, 0), 1) }
}

// WithRetryIf replaces the default IsRetryable check.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry is called before each wait with the attempt that failed.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// Retrier holds a backoff policy. It has no mutable state and can be
// shared.
type Retrier struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
	jitter   float64
	retryIf  func(error) bool
	onRetry  func(attempt int, err error, delay time.Duration)
}

// New returns a Retrier that makes 3 attempts starting at 100ms.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		attempts: 3,
		base:     100 * time.Millisecond,
		ceiling:  5 * time.Second,
		retryIf:  IsRetryable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls op until it succeeds, returns an error the policy does not
// retry, or runs out of attempts. The last error is returned. A cancelled
// ctx stops the wait and returns the last error seen.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= r.attempts || !r.retryIf(err) {
			return unmark(err)
		}

		delay := r.delay(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return unmark(err)
		case <-t.C:
		}
	}
}

// delay is the wait after the given failed attempt, counted from 1.
func (r *Retrier) delay(attempt int) time.Duration {
	d := r.base
	for i := 1; i < attempt && d < r.ceiling; i++ {
		d *= 2
	}
	if r.ceiling > 0 && d > r.ceiling {
		d = r.ceiling
	}
	if r.jitter > 0 && d > 0 {
		spread := float64(d) * r.jitter
		d += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// IsTransient retries every error except cancellation and deadline expiry.
// It suits startup connections, where any failure may be a service that is
// still booting.
func IsTransient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ConnectRetrier returns a Retrier for opening a connection at startup.
func ConnectRetrier(attempts int, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithAttempts(attempts),
		WithBackoff(500*time.Millisecond, 10*time.Second),
		WithJitter(0.2),
		WithRetryIf(IsTransient),
		WithOnRetry(onRetry),
	)
}

// TxRetrier returns a Retrier for re-running a whole transaction. Only
// errors wrapped with Retryable are retried.
func TxRetrier() *Retrier {
	return New(
		WithAttempts(3),
		WithBackoff(20*time.Millisecond, 250*time.Millisecond),
		WithJitter(0.5),
	)
}
