package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codequest/progression/internal/application/command"
	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/activity"
	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/progression"
	"github.com/codequest/progression/internal/domain/shared"
	"github.com/codequest/progression/internal/infrastructure/catalog"
	"github.com/codequest/progression/internal/infrastructure/persistence/memory"
)

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store  *memory.Store
	engine *Engine
	clock  *clock
	events *recorder
}

func storageOf(s *memory.Store) Storage {
	return Storage{
		Stats:       s,
		Catalog:     s,
		Unlocks:     s,
		Facts:       s,
		Leaderboard: s,
		Heatmap:     s,
		Ledger:      s,
	}
}

func newFixture(t *testing.T, mutate ...func(*Storage)) *fixture {
	t.Helper()

	store := memory.NewStore()
	entries, err := catalog.Default()
	require.NoError(t, err)
	_, err = catalog.Seed(context.Background(), store, entries, nil)
	require.NoError(t, err)

	clk := &clock{now: time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)}
	rec := &recorder{}

	storage := storageOf(store)
	for _, m := range mutate {
		m(&storage)
	}

	engine, err := NewEngine(storage, Options{
		Events: rec,
		Now:    clk.Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return &fixture{store: store, engine: engine, clock: clk, events: rec}
}

func slugs(list []UnlockedAchievement) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Slug)
	}
	return out
}

// flakyStats fails the named repository calls a set number of times with a
// storage error, then delegates.
type flakyStats struct {
	progression.Repository

	mu    sync.Mutex
	fails map[string]int
}

func failing(ops ...string) func(*Storage) {
	return func(s *Storage) {
		fails := map[string]int{}
		for _, op := range ops {
			fails[op]++
		}
		s.Stats = &flakyStats{Repository: s.Stats, fails: fails}
	}
}

func (f *flakyStats) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[op] == 0 {
		return nil
	}
	f.fails[op]--
	return shared.StorageError("progression", op, errors.New("connection reset"))
}

func (f *flakyStats) AddXP(ctx context.Context, userID shared.UserID, amount int64, reason string) (int64, int, error) {
	if err := f.fail("AddXP"); err != nil {
		return 0, 0, err
	}
	return f.Repository.AddXP(ctx, userID, amount, reason)
}

func (f *flakyStats) AddXPOnce(ctx context.Context, userID shared.UserID, amount int64, reason, key string) (int64, int, bool, error) {
	if err := f.fail("AddXPOnce"); err != nil {
		return 0, 0, false, err
	}
	return f.Repository.AddXPOnce(ctx, userID, amount, reason, key)
}

func (f *flakyStats) RaiseLevel(ctx context.Context, userID shared.UserID, lvl int) (bool, error) {
	if err := f.fail("RaiseLevel"); err != nil {
		return false, err
	}
	return f.Repository.RaiseLevel(ctx, userID, lvl)
}

func (f *flakyStats) UpdateStreak(ctx context.Context, userID shared.UserID, fn progression.StreakFunc) (progression.Streak, error) {
	if err := f.fail("UpdateStreak"); err != nil {
		return progression.Streak{}, err
	}
	return f.Repository.UpdateStreak(ctx, userID, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// XP LEDGER
// ══════════════════════════════════════════════════════════════════════════════

func TestAwardXP_LevelsUpExactlyAtThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.engine.AwardXP(ctx, user, 99)
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)
	assert.Equal(t, 1, res.Level)

	res, err = f.engine.AwardXP(ctx, user, 1)
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	require.NotNil(t, res.NewLevel)
	assert.Equal(t, 2, res.NewLevel.Number)
	assert.Equal(t, int64(100), res.XP)

	res, err = f.engine.AwardXP(ctx, user, 0)
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)
	assert.Equal(t, 2, res.Level)
}

func TestAwardXP_FailedLevelRaiseKeepsTheAward(t *testing.T) {
	f := newFixture(t, failing("RaiseLevel"))
	ctx := context.Background()
	user := uuid.New()

	res, err := f.engine.AwardXP(ctx, user, 100)
	require.NoError(t, err, "xp is committed, the stale cache is not the caller's problem")
	assert.Equal(t, int64(100), res.XP)
	assert.Equal(t, 2, res.Level)
	assert.False(t, res.LeveledUp)

	st, err := f.store.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Level, "cache left stale")

	// The next award repairs the cache and reports the level-up.
	res, err = f.engine.AwardXP(ctx, user, 0)
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, int64(100), res.XP)

	stats, err := f.engine.GetUserStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stats.XP)
	assert.Equal(t, 2, stats.Level)
}

func TestAwardXP_RejectsNegative(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.AwardXP(context.Background(), uuid.New(), -5)

	assert.True(t, shared.IsValidation(err))
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
}

func TestAwardXP_ConcurrentAwardsLoseNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	const workers = 40
	results := make(chan *AwardXPResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.AwardXP(ctx, user, 25)
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for res := range results {
		if res != nil && res.LeveledUp {
			assert.False(t, seen[res.NewLevel.Number], "level %d reported twice", res.NewLevel.Number)
			seen[res.NewLevel.Number] = true
		}
	}
	assert.NotEmpty(t, seen)

	stats, err := f.engine.GetUserStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stats.XP)
	assert.Equal(t, 5, stats.Level)

	st, err := f.store.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Level, "level cache converges")
	assert.Equal(t, workers, f.store.XPEventCount(user))
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

func TestUpdateStreak_DayTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.engine.UpdateStreakDetailed(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, progression.TransitionStarted, res.Transition)

	// Same day, later.
	f.clock.Advance(5 * time.Hour)
	res, err = f.engine.UpdateStreakDetailed(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, progression.TransitionSameDay, res.Transition)
	assert.Equal(t, 1, res.CurrentStreak)

	f.clock.Advance(24 * time.Hour)
	res, err = f.engine.UpdateStreakDetailed(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CurrentStreak)
	assert.Equal(t, 2, res.LongestStreak)

	f.clock.Advance(3 * 24 * time.Hour)
	require.NoError(t, f.engine.UpdateStreak(ctx, user))

	stats, err := f.engine.GetUserStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CurrentStreak)
	assert.Equal(t, 2, stats.LongestStreak)
	assert.Equal(t, 1, f.events.count(shared.EventStreakBroken))
}

func TestUpdateStreak_ConcurrentSameDayCountsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.engine.UpdateStreak(ctx, user))
		}()
	}
	wg.Wait()

	stats, err := f.engine.GetUserStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CurrentStreak)
	assert.Equal(t, 1, f.events.count(shared.EventStreakUpdated))
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordCompletion_FirstExpertChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.engine.RecordCompletion(ctx, command.RecordCompletionCommand{
		UserID:      user,
		Difficulty:  shared.DifficultyExpert,
		ChallengeID: "c-expert",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"first-step", "black-belt"}, slugs(res.Unlocked))
	assert.Equal(t, int64(100), res.BaseXP)
	assert.Equal(t, int64(160), res.BonusXP)
	assert.Equal(t, int64(260), res.XPGained)
	assert.Equal(t, int64(260), res.XP)
	assert.Equal(t, 3, res.Level)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 1, res.Streak.CurrentStreak)
	assert.False(t, res.Degraded)

	// Re-evaluating awards nothing new.
	again, err := f.engine.CheckAndAwardAchievements(ctx, user, achievement.TriggerChallengeComplete)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, 2, f.store.UnlockCount(user))

	stats, err := f.engine.GetUserStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(260), stats.XP)
	assert.Len(t, stats.Achievements, 2)
}

func TestRecordCompletion_RepeatedChallengeIsNotPaidTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	cmd := command.RecordCompletionCommand{UserID: user, Difficulty: shared.DifficultyBeginner, ChallengeID: "c1"}

	_, err := f.engine.RecordCompletion(ctx, cmd)
	require.NoError(t, err)
	res, err := f.engine.RecordCompletion(ctx, cmd)
	require.NoError(t, err)

	assert.True(t, res.AlreadyRecorded)
	stats, err := f.engine.GetUserStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(20), stats.XP, "10 base + 10 first-step")
}

func TestRecordCompletion_RetryAfterFailedStepPaysOnce(t *testing.T) {
	for _, op := range []string{"AddXPOnce", "UpdateStreak"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t, failing(op))
			ctx := context.Background()
			user := uuid.New()
			cmd := command.RecordCompletionCommand{UserID: user, Difficulty: shared.DifficultyExpert, ChallengeID: "c1"}

			_, err := f.engine.RecordCompletion(ctx, cmd)
			require.Error(t, err)

			res, err := f.engine.RecordCompletion(ctx, cmd)
			require.NoError(t, err)
			assert.False(t, res.AlreadyRecorded)
			assert.True(t, res.Resumed)
			assert.Equal(t, int64(260), res.XP)
			assert.Equal(t, []string{"first-step", "black-belt"}, slugs(res.Unlocked))
			assert.Equal(t, 1, res.Streak.CurrentStreak)

			res, err = f.engine.RecordCompletion(ctx, cmd)
			require.NoError(t, err)
			assert.True(t, res.AlreadyRecorded)

			stats, err := f.engine.GetUserStats(ctx, user)
			require.NoError(t, err)
			assert.Equal(t, int64(260), stats.XP, "100 base + 160 bonus, paid once")
			assert.Equal(t, 1, stats.CurrentStreak)
			assert.Len(t, stats.Achievements, 2)
		})
	}
}

func TestRecordCompletion_ConcurrentDuplicatesPayOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	cmd := command.RecordCompletionCommand{UserID: user, Difficulty: shared.DifficultyBeginner, ChallengeID: "c1"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RecordCompletion(ctx, cmd)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := f.engine.GetUserStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(20), stats.XP, "10 base + 10 first-step")
	assert.Equal(t, 1, f.store.UnlockCount(user))
}

func TestCheckAndAward_ConcurrentEvaluationUnlocksOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	_, err := f.store.AppendCompletion(ctx, activity.Completion{
		UserID: user, ChallengeID: "c1", Difficulty: shared.DifficultyBeginner, CompletedAt: f.clock.Now(),
	})
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total []string
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.engine.CheckAndAwardAchievements(ctx, user, achievement.TriggerChallengeComplete)
			assert.NoError(t, err)
			mu.Lock()
			total = append(total, slugs(got)...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"first-step"}, total)
	assert.Equal(t, 1, f.store.UnlockCount(user))
}

func TestCheckAndAward_UnknownTrigger(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CheckAndAwardAchievements(context.Background(), uuid.New(), achievement.Trigger("comment_posted"))

	assert.True(t, shared.IsValidation(err))
}

func TestRecordTrigger_SocialAchievements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := uuid.New()
	f.store.PutChallenge(memory.Challenge{ID: "mine", AuthorID: author, Difficulty: shared.DifficultyBeginner})

	res, err := f.engine.RecordTrigger(ctx, author, achievement.TriggerChallengePublish)
	require.NoError(t, err)
	assert.Equal(t, []string{"creator"}, slugs(res.Unlocked))
	require.NotNil(t, res.Award)
	assert.Equal(t, int64(25), res.Award.XP)

	f.store.AddLikes("mine", 9)
	res, err = f.engine.RecordTrigger(ctx, author, achievement.TriggerLikeReceived)
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
	assert.Nil(t, res.Award)

	f.store.AddLikes("mine", 1)
	res, err = f.engine.RecordTrigger(ctx, author, achievement.TriggerLikeReceived)
	require.NoError(t, err)
	assert.Equal(t, []string{"crowd-pleaser"}, slugs(res.Unlocked))
	assert.Equal(t, int64(75), res.Award.XP)
}

// failingFacts breaks the per-difficulty query.
type failingFacts struct {
	achievement.Facts
}

func (failingFacts) CompletionsByDifficulty(context.Context, shared.UserID) (map[shared.Difficulty]int, error) {
	return nil, errors.New("connection reset")
}

func TestRecordCompletion_DegradesOnEvaluatorFailure(t *testing.T) {
	var store *memory.Store
	f := newFixture(t, func(s *Storage) {
		store = s.Stats.(*memory.Store)
		s.Facts = failingFacts{Facts: store}
	})
	ctx := context.Background()
	user := uuid.New()

	res, err := f.engine.RecordCompletion(ctx, command.RecordCompletionCommand{
		UserID: user, Difficulty: shared.DifficultyIntermediate, ChallengeID: "c1",
	})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"first-step"}, slugs(res.Unlocked), "unlock committed before the failure stands")
	assert.Equal(t, int64(35), res.XP, "base 25 + first-step 10")
	assert.Equal(t, 1, res.Streak.CurrentStreak)
}

// ══════════════════════════════════════════════════════════════════════════════
// READERS
// ══════════════════════════════════════════════════════════════════════════════

func TestGetLeaderboard_OrdersByXP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	_, err := f.engine.AwardXP(ctx, a, 500)
	require.NoError(t, err)
	_, err = f.engine.AwardXP(ctx, b, 300)
	require.NoError(t, err)
	_, err = f.engine.AwardXP(ctx, c, 700)
	require.NoError(t, err)

	entries, err := f.engine.GetLeaderboard(ctx, leaderboard.SortByXP, 10)
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, []int64{700, 500, 300}, []int64{entries[0].XP, entries[1].XP, entries[2].XP})
	assert.Equal(t, c, entries[0].UserID)
	assert.Equal(t, leaderboard.Rank(1), entries[0].Rank)

	top, err := f.engine.GetLeaderboard(ctx, leaderboard.SortByXP, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)

	_, err = f.engine.GetLeaderboard(ctx, leaderboard.SortBy("likes"), 10)
	assert.True(t, shared.IsValidation(err))

	_, err = f.engine.GetLeaderboard(ctx, leaderboard.SortByXP, -1)
	assert.True(t, shared.IsValidation(err))
}

func TestGetCompletionHeatmap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	at := func(d, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC) }
	for i, ts := range []time.Time{at(1, 8), at(1, 20), at(2, 12), time.Date(2023, 12, 31, 12, 0, 0, 0, time.UTC)} {
		_, err := f.store.AppendCompletion(ctx, activity.Completion{
			UserID: user, ChallengeID: string(rune('a' + i)), Difficulty: shared.DifficultyBeginner, CompletedAt: ts,
		})
		require.NoError(t, err)
	}

	heat, err := f.engine.GetCompletionHeatmap(ctx, user, 2024)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2024-03-01": 2, "2024-03-02": 1}, heat)

	empty, err := f.engine.GetCompletionHeatmap(ctx, uuid.New(), 2024)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.engine.GetCompletionHeatmap(ctx, user, 0)
	assert.True(t, shared.IsValidation(err))
}

func TestGetUserStats_UnknownUser(t *testing.T) {
	f := newFixture(t)

	stats, err := f.engine.GetUserStats(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.False(t, stats.Exists)
	assert.Equal(t, 1, stats.Level)
	assert.Zero(t, stats.XP)
	assert.Equal(t, int64(100), stats.LevelInfo.NextLevelXP)
}

func TestNewEngine_RequiresStorage(t *testing.T) {
	_, err := NewEngine(Storage{}, Options{})
	assert.Error(t, err)
}
