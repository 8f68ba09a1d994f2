package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/level"
	"github.com/codequest/progression/internal/domain/progression"
	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER STATS QUERY
// A user's progression card: xp, level progress, streak and unlocks.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserStatsQuery selects the user.
type GetUserStatsQuery struct {
	UserID shared.UserID

	// IncludeAchievements loads the unlock list as well.
	IncludeAchievements bool
}

// Validate validates the query.
func (q *GetUserStatsQuery) Validate() error {
	if q.UserID == (shared.UserID{}) {
		return shared.ErrInvalidUserID
	}
	return nil
}

// UnlockedAchievementDTO is one earned achievement.
type UnlockedAchievementDTO struct {
	Slug       string             `json:"slug"`
	Name       string             `json:"name"`
	Icon       string             `json:"icon"`
	Rarity     achievement.Rarity `json:"rarity"`
	XPReward   int                `json:"xp_reward"`
	UnlockedAt time.Time          `json:"unlocked_at"`
}

// UserStatsResult is the progression card.
type UserStatsResult struct {
	UserID         shared.UserID            `json:"user_id"`
	XP             int64                    `json:"xp"`
	Level          int                      `json:"level"`
	LevelInfo      level.Info               `json:"level_info"`
	CurrentStreak  int                      `json:"current_streak"`
	LongestStreak  int                      `json:"longest_streak"`
	LastActiveDate *time.Time               `json:"last_active_date,omitempty"`
	Achievements   []UnlockedAchievementDTO `json:"achievements,omitempty"`

	// Exists is false for users with no progression row yet.
	Exists bool `json:"exists"`
}

// GetUserStatsHandler handles GetUserStatsQuery.
type GetUserStatsHandler struct {
	stats   progression.Repository
	unlocks achievement.UnlockRepository
	logger  *slog.Logger
}

// NewGetUserStatsHandler creates a new GetUserStatsHandler.
func NewGetUserStatsHandler(
	stats progression.Repository,
	unlocks achievement.UnlockRepository,
	logger *slog.Logger,
) *GetUserStatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetUserStatsHandler{
		stats:   stats,
		unlocks: unlocks,
		logger:  logger.With("handler", "get_user_stats"),
	}
}

// Handle executes the query. Unknown users get zero stats at level 1.
func (h *GetUserStatsHandler) Handle(ctx context.Context, q GetUserStatsQuery) (*UserStatsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_user_stats: validation failed: %w", err)
	}

	stats, err := h.stats.Get(ctx, q.UserID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		stats = progression.NewUserStats(q.UserID)
	case err != nil:
		return nil, fmt.Errorf("get_user_stats: %w", err)
	}

	// The level shown is always derived from xp.
	lvl := stats.DerivedLevel()
	result := &UserStatsResult{
		UserID:        q.UserID,
		XP:            stats.XP,
		Level:         lvl.Number,
		LevelInfo:     level.InfoFor(stats.XP),
		CurrentStreak: stats.Streak.Current,
		LongestStreak: stats.Streak.Longest,
		Exists:        err == nil,
	}
	if stats.Streak.IsStarted() {
		d := stats.Streak.LastActive
		result.LastActiveDate = &d
	}
	if stats.IsLevelStale() {
		h.logger.Debug("level cache trails xp", "user_id", q.UserID, "cached", stats.Level, "derived", lvl.Number)
	}

	if q.IncludeAchievements {
		unlocked, err := h.unlocks.ListUnlocked(ctx, q.UserID)
		if err != nil {
			return nil, fmt.Errorf("get_user_stats: list achievements: %w", err)
		}
		result.Achievements = make([]UnlockedAchievementDTO, 0, len(unlocked))
		for _, u := range unlocked {
			result.Achievements = append(result.Achievements, UnlockedAchievementDTO{
				Slug:       u.Slug,
				Name:       u.Name,
				Icon:       u.Icon,
				Rarity:     u.Rarity,
				XPReward:   u.XPReward,
				UnlockedAt: u.UnlockedAt,
			})
		}
	}

	return result, nil
}
