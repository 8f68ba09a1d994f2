// Package circuitbreaker stops calling a dependency that keeps failing. The
// progression engine puts one in front of the Redis leaderboard cache so that
// an unreachable Redis costs one failed call per cooldown instead of one per
// request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen is returned while the cooldown after a trip is running.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned in half-open while the single trial
	// call is still in flight.
	ErrTooManyRequests = errors.New("circuit breaker: trial call in flight")
)

// IsRejected reports whether err came from the breaker itself rather than
// from the guarded call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// Counts are running totals since the breaker was created. Requests counts
// calls that reached the dependency and finished.
type Counts struct {
	Requests int
	Failures int
	Rejected int
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets how many consecutive failures trip the breaker.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before a trial call.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithOnStateChange registers a callback run on every transition. It runs
// under the breaker's lock and must not call back into the breaker.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(name string, from, to State)

	mu       sync.Mutex
	state    State
	streak   int // consecutive failures
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
	counts   Counts
}

// New creates a closed breaker that trips after 5 consecutive failures and
// cools down for 30 seconds.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: 5,
		cooldown:  30 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CacheBreaker returns the breaker used in front of Redis: three failures
// trip it and a trial call goes out every 15 seconds.
func CacheBreaker(name string, onChange func(name string, from, to State)) *Breaker {
	return New(name,
		WithThreshold(3),
		WithCooldown(15*time.Second),
		WithOnStateChange(onChange),
	)
}

// Execute runs fn unless the breaker rejects the call. A context
// cancellation is not held against the dependency.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.settle(trial, err)
	return err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.counts.Rejected++
			return false, ErrCircuitOpen
		}
		b.moveTo(HalfOpen)
		fallthrough
	case HalfOpen:
		if b.trial {
			b.counts.Rejected++
			return false, ErrTooManyRequests
		}
		b.trial = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) settle(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trial = false
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	b.counts.Requests++
	if err == nil {
		b.streak = 0
		if trial && b.state == HalfOpen {
			b.moveTo(Closed)
		}
		return
	}

	b.counts.Failures++
	b.streak++
	if (trial && b.state == HalfOpen) || (b.state == Closed && b.streak >= b.threshold) {
		b.openedAt = b.now()
		b.moveTo(Open)
	}
}

func (b *Breaker) moveTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.streak = 0
	b.trial = false
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has run
// out still reports Open until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a snapshot of the running totals.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}
