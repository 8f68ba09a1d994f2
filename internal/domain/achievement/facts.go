package achievement

import (
	"context"

	"github.com/codequest/progression/internal/domain/shared"
)

// FactSheet memoises Facts for a single user during one evaluation, so that
// several checks reading the same value cost one query. It is not safe for
// concurrent use and must not outlive the evaluation.
type FactSheet struct {
	userID shared.UserID
	src    Facts

	completions  *int
	byDifficulty map[shared.Difficulty]int
	longest      *int
	paths        []PathProgress
	pathsLoaded  bool
	published    *int
	likes        *int
	forks        *int
}

// NewFactSheet binds src to userID.
func NewFactSheet(userID shared.UserID, src Facts) *FactSheet {
	return &FactSheet{userID: userID, src: src}
}

// UserID returns the user the sheet describes.
func (f *FactSheet) UserID() shared.UserID {
	return f.userID
}

func (f *FactSheet) CompletionCount(ctx context.Context) (int, error) {
	return memoInt(&f.completions, func() (int, error) {
		return f.src.CompletionCount(ctx, f.userID)
	})
}

func (f *FactSheet) CompletionsByDifficulty(ctx context.Context) (map[shared.Difficulty]int, error) {
	if f.byDifficulty != nil {
		return f.byDifficulty, nil
	}
	m, err := f.src.CompletionsByDifficulty(ctx, f.userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = map[shared.Difficulty]int{}
	}
	f.byDifficulty = m
	return m, nil
}

func (f *FactSheet) LongestStreak(ctx context.Context) (int, error) {
	return memoInt(&f.longest, func() (int, error) {
		return f.src.LongestStreak(ctx, f.userID)
	})
}

func (f *FactSheet) PathProgress(ctx context.Context) ([]PathProgress, error) {
	if f.pathsLoaded {
		return f.paths, nil
	}
	paths, err := f.src.PathProgress(ctx, f.userID)
	if err != nil {
		return nil, err
	}
	f.paths, f.pathsLoaded = paths, true
	return paths, nil
}

func (f *FactSheet) PublishedChallengeCount(ctx context.Context) (int, error) {
	return memoInt(&f.published, func() (int, error) {
		return f.src.PublishedChallengeCount(ctx, f.userID)
	})
}

func (f *FactSheet) LikesReceived(ctx context.Context) (int, error) {
	return memoInt(&f.likes, func() (int, error) {
		return f.src.LikesReceived(ctx, f.userID)
	})
}

func (f *FactSheet) ForksReceived(ctx context.Context) (int, error) {
	return memoInt(&f.forks, func() (int, error) {
		return f.src.ForksReceived(ctx, f.userID)
	})
}

func memoInt(slot **int, load func() (int, error)) (int, error) {
	if *slot != nil {
		return **slot, nil
	}
	v, err := load()
	if err != nil {
		return 0, err
	}
	*slot = &v
	return v, nil
}
