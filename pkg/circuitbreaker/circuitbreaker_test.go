package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("redis: connection refused")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := New("cache",
		WithThreshold(2),
		WithCooldown(10*time.Second),
		WithClock(clock.Now),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, Closed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, Open, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))
	assert.False(t, called)

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, Closed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
	assert.Equal(t, Counts{Requests: 3, Failures: 2, Rejected: 1}, cb.Counts())
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	cb := New("cache", WithThreshold(2))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, Closed, cb.State())
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := New("cache", WithThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, Open, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
}

func TestBreaker_OneTrialAtATime(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := New("cache", WithThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		return cb.Execute(ctx, ok)
	})
	assert.ErrorIs(t, err, ErrTooManyRequests)
	assert.True(t, IsRejected(err))
}

func TestBreaker_IgnoresCancellation(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := New("cache", WithThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))
	ctx := context.Background()

	err := cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, cb.State())
	assert.Zero(t, cb.Counts().Requests)

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	assert.Equal(t, HalfOpen, cb.State(), "a cancelled trial frees the slot")
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, Closed, cb.State())
}

func TestCacheBreaker(t *testing.T) {
	var from, to State
	cb := CacheBreaker("leaderboard_cache", func(name string, f, tt State) {
		assert.Equal(t, "leaderboard_cache", name)
		from, to = f, tt
	})
	ctx := context.Background()

	for range 2 {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, Closed, cb.State())
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, Open, cb.State())
	assert.Equal(t, Closed, from)
	assert.Equal(t, Open, to)
}
