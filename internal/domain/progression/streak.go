package progression

import (
	"time"

	"github.com/codequest/progression/pkg/timeutil"
)

// Streak is the consecutive-day activity state of a user.
type Streak struct {
	// Current is the length of the running streak.
	Current int

	// Longest is the best streak ever reached. A reset never lowers it.
	Longest int

	// LastActive is the last counted calendar date in the engine's configured
	// location, encoded as midnight UTC of that date (see timeutil.DateIn).
	// Compare it with timeutil.DateIn(now, loc), never with now.UTC(). The
	// zero value means the user was never counted.
	LastActive time.Time
}

// IsStarted reports whether any day has been counted yet.
func (s Streak) IsStarted() bool {
	return !s.LastActive.IsZero()
}

// Transition names the edge the state machine took.
type Transition string

const (
	// TransitionStarted - first counted day.
	TransitionStarted Transition = "started"

	// TransitionSameDay - already counted today, nothing changes.
	TransitionSameDay Transition = "same_day"

	// TransitionContinued - yesterday was counted, the streak grows.
	TransitionContinued Transition = "continued"

	// TransitionReset - two or more days were missed, the streak restarts at 1.
	TransitionReset Transition = "reset"

	// TransitionClockSkew - today is before the last counted day; treated as a no-op.
	TransitionClockSkew Transition = "clock_skew"
)

// Changed reports whether the transition produces a new state to persist.
func (t Transition) Changed() bool {
	switch t {
	case TransitionStarted, TransitionContinued, TransitionReset:
		return true
	}
	return false
}

// Advance applies one activity on the calendar date today and returns the
// resulting state. today must already be a calendar date (see timeutil.DateIn).
func (s Streak) Advance(today time.Time) (Streak, Transition) {
	today = timeutil.Date(today)

	if !s.IsStarted() {
		return Streak{Current: 1, Longest: max(1, s.Longest), LastActive: today}, TransitionStarted
	}

	diff := timeutil.DaysBetween(s.LastActive, today)
	switch {
	case diff == 0:
		return s, TransitionSameDay
	case diff < 0:
		return s, TransitionClockSkew
	case diff == 1:
		next := Streak{Current: s.Current + 1, Longest: s.Longest, LastActive: today}
		if next.Current > next.Longest {
			next.Longest = next.Current
		}
		return next, TransitionContinued
	default:
		return Streak{Current: 1, Longest: max(1, s.Longest), LastActive: today}, TransitionReset
	}
}

// DaysMissed returns how many whole days were skipped before today.
func (s Streak) DaysMissed(today time.Time) int {
	if !s.IsStarted() {
		return 0
	}
	diff := timeutil.DaysBetween(s.LastActive, today)
	if diff <= 1 {
		return 0
	}
	return diff - 1
}
