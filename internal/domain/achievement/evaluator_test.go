package achievement

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeCatalog struct {
	bySlug map[string]*Achievement
}

func newFakeCatalog(slugs ...string) *fakeCatalog {
	c := &fakeCatalog{bySlug: map[string]*Achievement{}}
	for i, s := range slugs {
		c.bySlug[s] = &Achievement{ID: s + "-id", Slug: s, Name: s, XPReward: (i + 1) * 10, Rarity: RarityCommon}
	}
	return c
}

func (c *fakeCatalog) GetBySlug(_ context.Context, slug string) (*Achievement, error) {
	a, ok := c.bySlug[slug]
	if !ok {
		return nil, shared.ErrAchievementNotFound
	}
	cp := *a
	return &cp, nil
}

func (c *fakeCatalog) List(context.Context) ([]Achievement, error) {
	var out []Achievement
	for _, a := range c.bySlug {
		out = append(out, *a)
	}
	return out, nil
}

type fakeUnlocks struct {
	held     map[string]struct{}
	inserted []string
	// racing lists achievement IDs a concurrent writer already committed.
	racing map[string]bool
}

func newFakeUnlocks() *fakeUnlocks {
	return &fakeUnlocks{held: map[string]struct{}{}, racing: map[string]bool{}}
}

func (u *fakeUnlocks) UnlockedSlugs(context.Context, shared.UserID) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(u.held))
	for k := range u.held {
		out[k] = struct{}{}
	}
	return out, nil
}

func (u *fakeUnlocks) Unlock(_ context.Context, _ shared.UserID, id string) (bool, error) {
	if u.racing[id] {
		return false, nil
	}
	u.inserted = append(u.inserted, id)
	return true, nil
}

func (u *fakeUnlocks) ListUnlocked(context.Context, shared.UserID) ([]Unlocked, error) {
	return nil, nil
}

type fakeFacts struct {
	completions  int
	byDifficulty map[shared.Difficulty]int
	longest      int
	paths        []PathProgress
	published    int
	likes        int
	forks        int

	calls   map[string]int
	failOn  string
	failErr error
}

func (f *fakeFacts) hit(name string) error {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
	if f.failOn == name {
		return f.failErr
	}
	return nil
}

func (f *fakeFacts) CompletionCount(context.Context, shared.UserID) (int, error) {
	return f.completions, f.hit("completions")
}

func (f *fakeFacts) CompletionsByDifficulty(context.Context, shared.UserID) (map[shared.Difficulty]int, error) {
	return f.byDifficulty, f.hit("difficulty")
}

func (f *fakeFacts) LongestStreak(context.Context, shared.UserID) (int, error) {
	return f.longest, f.hit("streak")
}

func (f *fakeFacts) PathProgress(context.Context, shared.UserID) ([]PathProgress, error) {
	return f.paths, f.hit("paths")
}

func (f *fakeFacts) PublishedChallengeCount(context.Context, shared.UserID) (int, error) {
	return f.published, f.hit("published")
}

func (f *fakeFacts) LikesReceived(context.Context, shared.UserID) (int, error) {
	return f.likes, f.hit("likes")
}

func (f *fakeFacts) ForksReceived(context.Context, shared.UserID) (int, error) {
	return f.forks, f.hit("forks")
}

func defaultCatalog() *fakeCatalog {
	var slugs []string
	for slug := range DefaultRegistry().Slugs() {
		slugs = append(slugs, slug)
	}
	return newFakeCatalog(slugs...)
}

func slugsOf(list []Achievement) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Slug)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestEvaluate_FirstExpertCompletion(t *testing.T) {
	facts := &fakeFacts{
		completions:  1,
		byDifficulty: map[shared.Difficulty]int{shared.DifficultyExpert: 1},
		longest:      1,
	}
	ev := NewEvaluator(DefaultRegistry(), defaultCatalog(), newFakeUnlocks(), facts)

	res, err := ev.Evaluate(context.Background(), uuid.New(), TriggerChallengeComplete)

	require.NoError(t, err)
	assert.Equal(t, []string{"first-step", "black-belt"}, slugsOf(res.Unlocked))
	assert.Empty(t, res.Missing)
}

func TestEvaluate_SkipsHeldSlugs(t *testing.T) {
	unlocks := newFakeUnlocks()
	unlocks.held["first-step"] = struct{}{}
	facts := &fakeFacts{completions: 1}

	ev := NewEvaluator(DefaultRegistry(), defaultCatalog(), unlocks, facts)
	res, err := ev.Evaluate(context.Background(), uuid.New(), TriggerChallengeComplete)

	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
	assert.Empty(t, unlocks.inserted)
}

func TestEvaluate_DuplicateInsertIsBenign(t *testing.T) {
	unlocks := newFakeUnlocks()
	unlocks.racing["first-step-id"] = true
	facts := &fakeFacts{completions: 1}

	ev := NewEvaluator(DefaultRegistry(), defaultCatalog(), unlocks, facts)
	res, err := ev.Evaluate(context.Background(), uuid.New(), TriggerChallengeComplete)

	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
}

func TestEvaluate_MemoisesFacts(t *testing.T) {
	facts := &fakeFacts{completions: 150, longest: 40}
	ev := NewEvaluator(DefaultRegistry(), defaultCatalog(), newFakeUnlocks(), facts)

	res, err := ev.Evaluate(context.Background(), uuid.New(), TriggerChallengeComplete)

	require.NoError(t, err)
	assert.Equal(t, 1, facts.calls["completions"])
	assert.Equal(t, 1, facts.calls["difficulty"])
	assert.Equal(t, 1, facts.calls["streak"])
	assert.Contains(t, slugsOf(res.Unlocked), "centurion")
	assert.Contains(t, slugsOf(res.Unlocked), "unstoppable")
}

func TestEvaluate_ConditionFailureKeepsCommittedUnlocks(t *testing.T) {
	boom := errors.New("db down")
	facts := &fakeFacts{completions: 1, failOn: "difficulty", failErr: boom}
	unlocks := newFakeUnlocks()

	ev := NewEvaluator(DefaultRegistry(), defaultCatalog(), unlocks, facts)
	res, err := ev.Evaluate(context.Background(), uuid.New(), TriggerChallengeComplete)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first-step"}, slugsOf(res.Unlocked))
	assert.Equal(t, []string{"first-step-id"}, unlocks.inserted)
	assert.Zero(t, facts.calls["streak"], "remaining checks must not run")
}

func TestEvaluate_MissingCatalogEntryIsSkipped(t *testing.T) {
	facts := &fakeFacts{completions: 1}
	ev := NewEvaluator(DefaultRegistry(), newFakeCatalog(), newFakeUnlocks(), facts)

	res, err := ev.Evaluate(context.Background(), uuid.New(), TriggerChallengeComplete)

	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
	assert.Equal(t, []string{"first-step"}, res.Missing)
}

func TestEvaluate_UnknownTrigger(t *testing.T) {
	ev := NewEvaluator(DefaultRegistry(), defaultCatalog(), newFakeUnlocks(), &fakeFacts{})

	_, err := ev.Evaluate(context.Background(), uuid.New(), Trigger("comment_posted"))

	assert.True(t, shared.IsValidation(err))
}

func TestEvaluate_SocialTriggers(t *testing.T) {
	facts := &fakeFacts{published: 1, likes: 12, forks: 4}
	ev := NewEvaluator(DefaultRegistry(), defaultCatalog(), newFakeUnlocks(), facts)
	ctx := context.Background()
	user := uuid.New()

	res, err := ev.Evaluate(ctx, user, TriggerChallengePublish)
	require.NoError(t, err)
	assert.Equal(t, []string{"creator"}, slugsOf(res.Unlocked))

	res, err = ev.Evaluate(ctx, user, TriggerLikeReceived)
	require.NoError(t, err)
	assert.Equal(t, []string{"crowd-pleaser"}, slugsOf(res.Unlocked))

	res, err = ev.Evaluate(ctx, user, TriggerForkReceived)
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
}
