package progression

import (
	"context"

	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists UserStats. Implementations must make AddXP a single
// atomic add at the storage layer and must serialise UpdateStreak per user.
type Repository interface {
	// AddXP atomically adds amount to the user's XP, creating the row with
	// xp=amount and level=1 when absent. It returns the XP after the add and
	// the level cache as it was stored at that moment.
	AddXP(ctx context.Context, userID shared.UserID, amount int64, reason string) (xp int64, cachedLevel int, err error)

	// AddXPOnce is AddXP guarded by key: the add happens at most once per
	// (user, key). A key seen before leaves the row untouched and returns the
	// stored values with applied=false.
	AddXPOnce(ctx context.Context, userID shared.UserID, amount int64, reason, key string) (xp int64, cachedLevel int, applied bool, err error)

	// RaiseLevel sets the level cache to lvl only when the stored value is
	// lower. It reports whether this call changed the row.
	RaiseLevel(ctx context.Context, userID shared.UserID, lvl int) (bool, error)

	// UpdateStreak loads the user's streak under a per-user lock (creating
	// the row when absent), applies fn and persists the result when fn
	// reports a change. It returns the state after fn.
	UpdateStreak(ctx context.Context, userID shared.UserID, fn StreakFunc) (Streak, error)

	// Get returns the user's stats or shared.ErrStatsNotFound.
	Get(ctx context.Context, userID shared.UserID) (*UserStats, error)
}

// StreakFunc computes the next streak from the locked current one.
// changed=false leaves the stored row untouched.
type StreakFunc func(current Streak) (next Streak, changed bool)
