package achievement

import (
	"context"

	"github.com/codequest/progression/internal/domain/shared"
)

// Catalog reads achievement definitions.
type Catalog interface {
	// GetBySlug returns the catalog entry or shared.ErrAchievementNotFound.
	GetBySlug(ctx context.Context, slug string) (*Achievement, error)

	// List returns every catalog entry ordered by trigger then slug.
	List(ctx context.Context) ([]Achievement, error)
}

// CatalogWriter seeds the catalog. Only the operator tooling uses it.
type CatalogWriter interface {
	// Upsert inserts the entry or updates it in place, keyed by slug.
	Upsert(ctx context.Context, a *Achievement) (*Achievement, error)
}

// UnlockRepository stores unlock records.
type UnlockRepository interface {
	// UnlockedSlugs returns the slugs the user already holds.
	UnlockedSlugs(ctx context.Context, userID shared.UserID) (map[string]struct{}, error)

	// Unlock inserts the (user, achievement) pair if absent. inserted is false
	// when the pair already existed; that outcome is not an error.
	Unlock(ctx context.Context, userID shared.UserID, achievementID string) (inserted bool, err error)

	// ListUnlocked returns the user's unlocks, most recent first.
	ListUnlocked(ctx context.Context, userID shared.UserID) ([]Unlocked, error)
}

// PathProgress is a user's completion state on one learning path.
type PathProgress struct {
	PathID    string
	Total     int
	Completed int
}

// IsComplete reports whether every challenge on a non-empty path is done.
func (p PathProgress) IsComplete() bool {
	return p.Total > 0 && p.Completed >= p.Total
}

// Facts answers the questions unlock conditions ask about a user. The
// backing data lives in the completion ledger and the social tables.
type Facts interface {
	CompletionCount(ctx context.Context, userID shared.UserID) (int, error)
	CompletionsByDifficulty(ctx context.Context, userID shared.UserID) (map[shared.Difficulty]int, error)
	LongestStreak(ctx context.Context, userID shared.UserID) (int, error)

	// PathProgress returns one row per learning path that has at least one challenge.
	PathProgress(ctx context.Context, userID shared.UserID) ([]PathProgress, error)

	// PublishedChallengeCount counts non-official challenges authored by the user.
	PublishedChallengeCount(ctx context.Context, userID shared.UserID) (int, error)

	LikesReceived(ctx context.Context, userID shared.UserID) (int, error)
	ForksReceived(ctx context.Context, userID shared.UserID) (int, error)
}
