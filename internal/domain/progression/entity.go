// Package progression contains the per-user progression aggregate: XP,
// the cached level and the daily streak.
package progression

import (
	"time"

	"github.com/codequest/progression/internal/domain/level"
	"github.com/codequest/progression/internal/domain/shared"
)

// UserStats is the single progression row kept per user.
type UserStats struct {
	UserID shared.UserID

	// XP is the monotonic total of every award.
	XP int64

	// Level is a display cache of level.Of(XP). It may trail XP briefly
	// under concurrent awards but is never ahead of it.
	Level int

	// Streak is the daily activity streak state.
	Streak Streak

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserStats returns the zero row a user starts with.
func NewUserStats(userID shared.UserID) *UserStats {
	now := time.Now().UTC()
	return &UserStats{
		UserID:    userID,
		Level:     level.MinLevel,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DerivedLevel recomputes the level from XP, ignoring the cache.
func (s *UserStats) DerivedLevel() level.Level {
	return level.Of(s.XP)
}

// IsLevelStale reports whether the cached level trails the derived one.
func (s *UserStats) IsLevelStale() bool {
	return s.Level < s.DerivedLevel().Number
}
