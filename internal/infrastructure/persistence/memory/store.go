// Package memory is an in-process storage backend. It implements every
// repository the engine needs behind one mutex and is used by tests and by
// progressctl when STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/activity"
	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/level"
	"github.com/codequest/progression/internal/domain/progression"
	"github.com/codequest/progression/internal/domain/shared"
	"github.com/codequest/progression/pkg/timeutil"
)

// Challenge is the minimal challenge row the facts need.
type Challenge struct {
	ID         string
	AuthorID   shared.UserID
	Difficulty shared.Difficulty
	IsOfficial bool
}

type unlockKey struct {
	user          shared.UserID
	achievementID string
}

type completionKey struct {
	user        shared.UserID
	challengeID string
}

type awardKey struct {
	user shared.UserID
	key  string
}

// Store is the memory backend.
type Store struct {
	mu sync.Mutex

	stats     map[shared.UserID]*progression.UserStats
	xpLog     []xpEvent
	awardKeys map[awardKey]struct{}

	achievements map[string]*achievement.Achievement // by slug
	nextID       int
	unlocks      map[unlockKey]time.Time

	challenges  map[string]Challenge
	completions []activity.Completion
	completed   map[completionKey]bool // settled
	paths       map[string][]string
	likes       map[string]int
	forks       map[string]int

	now func() time.Time
}

type xpEvent struct {
	UserID shared.UserID
	Amount int64
	Reason string
	At     time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		stats:        make(map[shared.UserID]*progression.UserStats),
		awardKeys:    make(map[awardKey]struct{}),
		achievements: make(map[string]*achievement.Achievement),
		unlocks:      make(map[unlockKey]time.Time),
		challenges:   make(map[string]Challenge),
		completed:    make(map[completionKey]bool),
		paths:        make(map[string][]string),
		likes:        make(map[string]int),
		forks:        make(map[string]int),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source for created rows.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// progression.Repository
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) row(userID shared.UserID) *progression.UserStats {
	st, ok := s.stats[userID]
	if !ok {
		st = progression.NewUserStats(userID)
		st.CreatedAt, st.UpdatedAt = s.now(), s.now()
		s.stats[userID] = st
	}
	return st
}

// AddXP implements progression.Repository.
func (s *Store) AddXP(ctx context.Context, userID shared.UserID, amount int64, reason string) (int64, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.add(userID, amount, reason)
	return st.XP, st.Level, nil
}

// AddXPOnce implements progression.Repository.
func (s *Store) AddXPOnce(ctx context.Context, userID shared.UserID, amount int64, reason, key string) (int64, int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := awardKey{userID, key}
	if _, seen := s.awardKeys[k]; seen {
		st := s.row(userID)
		return st.XP, st.Level, false, nil
	}
	s.awardKeys[k] = struct{}{}
	st := s.add(userID, amount, reason)
	return st.XP, st.Level, true, nil
}

func (s *Store) add(userID shared.UserID, amount int64, reason string) *progression.UserStats {
	st := s.row(userID)
	st.XP += amount
	st.UpdatedAt = s.now()
	s.xpLog = append(s.xpLog, xpEvent{UserID: userID, Amount: amount, Reason: reason, At: st.UpdatedAt})
	return st
}

// RaiseLevel implements progression.Repository.
func (s *Store) RaiseLevel(ctx context.Context, userID shared.UserID, lvl int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[userID]
	if !ok || st.Level >= lvl {
		return false, nil
	}
	st.Level = lvl
	st.UpdatedAt = s.now()
	return true, nil
}

// UpdateStreak implements progression.Repository.
func (s *Store) UpdateStreak(ctx context.Context, userID shared.UserID, fn progression.StreakFunc) (progression.Streak, error) {
	if err := ctx.Err(); err != nil {
		return progression.Streak{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.row(userID)
	next, changed := fn(st.Streak)
	if changed {
		st.Streak = next
		st.UpdatedAt = s.now()
	}
	return next, nil
}

// Get implements progression.Repository.
func (s *Store) Get(ctx context.Context, userID shared.UserID) (*progression.UserStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[userID]
	if !ok {
		return nil, shared.ErrStatsNotFound
	}
	cp := *st
	return &cp, nil
}

// XPEventCount returns how many awards were logged for the user.
func (s *Store) XPEventCount(userID shared.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.xpLog {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// achievement.Catalog / CatalogWriter / UnlockRepository
// ══════════════════════════════════════════════════════════════════════════════

// GetBySlug implements achievement.Catalog.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*achievement.Achievement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.achievements[slug]
	if !ok {
		return nil, shared.ErrAchievementNotFound
	}
	cp := *a
	return &cp, nil
}

// List implements achievement.Catalog.
func (s *Store) List(ctx context.Context) ([]achievement.Achievement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]achievement.Achievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trigger != out[j].Trigger {
			return out[i].Trigger < out[j].Trigger
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

// Upsert implements achievement.CatalogWriter.
func (s *Store) Upsert(ctx context.Context, a *achievement.Achievement) (*achievement.Achievement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	if existing, ok := s.achievements[a.Slug]; ok {
		cp.ID = existing.ID
	} else {
		s.nextID++
		cp.ID = "ach-" + strconv.Itoa(s.nextID)
	}
	s.achievements[cp.Slug] = &cp
	out := cp
	return &out, nil
}

// UnlockedSlugs implements achievement.UnlockRepository.
func (s *Store) UnlockedSlugs(ctx context.Context, userID shared.UserID) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]struct{})
	for _, a := range s.achievements {
		if _, ok := s.unlocks[unlockKey{userID, a.ID}]; ok {
			out[a.Slug] = struct{}{}
		}
	}
	return out, nil
}

// Unlock implements achievement.UnlockRepository.
func (s *Store) Unlock(ctx context.Context, userID shared.UserID, achievementID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := unlockKey{userID, achievementID}
	if _, ok := s.unlocks[key]; ok {
		return false, nil
	}
	s.unlocks[key] = s.now()
	return true, nil
}

// ListUnlocked implements achievement.UnlockRepository.
func (s *Store) ListUnlocked(ctx context.Context, userID shared.UserID) ([]achievement.Unlocked, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []achievement.Unlocked
	for _, a := range s.achievements {
		if at, ok := s.unlocks[unlockKey{userID, a.ID}]; ok {
			out = append(out, achievement.Unlocked{Achievement: *a, UnlockedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.After(out[j].UnlockedAt)
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

// UnlockCount returns the number of unlock rows for the user.
func (s *Store) UnlockCount(userID shared.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.unlocks {
		if k.user == userID {
			n++
		}
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// achievement.Facts
// ══════════════════════════════════════════════════════════════════════════════

// CompletionCount implements achievement.Facts.
func (s *Store) CompletionCount(ctx context.Context, userID shared.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.completions {
		if c.UserID == userID {
			n++
		}
	}
	return n, ctx.Err()
}

// CompletionsByDifficulty implements achievement.Facts.
func (s *Store) CompletionsByDifficulty(ctx context.Context, userID shared.UserID) (map[shared.Difficulty]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[shared.Difficulty]int)
	for _, c := range s.completions {
		if c.UserID == userID {
			out[c.Difficulty]++
		}
	}
	return out, ctx.Err()
}

// LongestStreak implements achievement.Facts.
func (s *Store) LongestStreak(ctx context.Context, userID shared.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[userID]; ok {
		return st.Streak.Longest, ctx.Err()
	}
	return 0, ctx.Err()
}

// PathProgress implements achievement.Facts.
func (s *Store) PathProgress(ctx context.Context, userID shared.UserID) ([]achievement.PathProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.paths))
	for id := range s.paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []achievement.PathProgress
	for _, id := range ids {
		challenges := s.paths[id]
		if len(challenges) == 0 {
			continue
		}
		p := achievement.PathProgress{PathID: id, Total: len(challenges)}
		for _, ch := range challenges {
			if _, ok := s.completed[completionKey{userID, ch}]; ok {
				p.Completed++
			}
		}
		out = append(out, p)
	}
	return out, ctx.Err()
}

// PublishedChallengeCount implements achievement.Facts.
func (s *Store) PublishedChallengeCount(ctx context.Context, userID shared.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ch := range s.challenges {
		if ch.AuthorID == userID && !ch.IsOfficial {
			n++
		}
	}
	return n, ctx.Err()
}

// LikesReceived implements achievement.Facts.
func (s *Store) LikesReceived(ctx context.Context, userID shared.UserID) (int, error) {
	return s.authoredSum(ctx, userID, s.likes)
}

// ForksReceived implements achievement.Facts.
func (s *Store) ForksReceived(ctx context.Context, userID shared.UserID) (int, error) {
	return s.authoredSum(ctx, userID, s.forks)
}

func (s *Store) authoredSum(ctx context.Context, userID shared.UserID, counts map[string]int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, ch := range s.challenges {
		if ch.AuthorID == userID {
			n += counts[id]
		}
	}
	return n, ctx.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// leaderboard.Reader / Source
// ══════════════════════════════════════════════════════════════════════════════

// All implements leaderboard.Source.
func (s *Store) All(ctx context.Context) ([]leaderboard.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]leaderboard.Entry, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, leaderboard.Entry{
			UserID:        st.UserID,
			XP:            st.XP,
			Level:         level.Of(st.XP).Number,
			CurrentStreak: st.Streak.Current,
			LongestStreak: st.Streak.Longest,
		})
	}
	return out, nil
}

// Top implements leaderboard.Reader.
func (s *Store) Top(ctx context.Context, by leaderboard.SortBy, limit int) ([]leaderboard.Entry, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	leaderboard.Sort(all, by)
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// activity.HeatmapReader / CompletionLedger
// ══════════════════════════════════════════════════════════════════════════════

// CompletionHeatmap implements activity.HeatmapReader.
func (s *Store) CompletionHeatmap(ctx context.Context, userID shared.UserID, from, to time.Time, loc *time.Location) (activity.Heatmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := activity.Heatmap{}
	for _, c := range s.completions {
		if c.UserID != userID || c.CompletedAt.Before(from) || !c.CompletedAt.Before(to) {
			continue
		}
		out[timeutil.DateKey(c.CompletedAt, loc)]++
	}
	return out, nil
}

// ClaimCompletion implements activity.CompletionLedger.
func (s *Store) ClaimCompletion(ctx context.Context, c activity.Completion) (activity.Claim, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if settled, ok := s.completed[completionKey{c.UserID, c.ChallengeID}]; ok {
		if settled {
			return activity.ClaimSettled, nil
		}
		return activity.ClaimPending, nil
	}
	s.record(c, false)
	return activity.ClaimNew, nil
}

// SettleCompletion implements activity.CompletionLedger.
func (s *Store) SettleCompletion(ctx context.Context, userID shared.UserID, challengeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := completionKey{userID, challengeID}
	if _, ok := s.completed[key]; ok {
		s.completed[key] = true
	}
	return nil
}

func (s *Store) record(c activity.Completion, settled bool) {
	if ch, ok := s.challenges[c.ChallengeID]; ok && c.Difficulty == "" {
		c.Difficulty = ch.Difficulty
	}
	s.completed[completionKey{c.UserID, c.ChallengeID}] = settled
	s.completions = append(s.completions, c)
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// Writers for data owned by the challenge and social subsystems.
// ══════════════════════════════════════════════════════════════════════════════

// AppendCompletion records a settled completion written by the challenge
// subsystem. inserted is false when the pair was already recorded.
func (s *Store) AppendCompletion(ctx context.Context, c activity.Completion) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.completed[completionKey{c.UserID, c.ChallengeID}]; ok {
		return false, nil
	}
	s.record(c, true)
	return true, nil
}

// PutChallenge adds or replaces a challenge.
func (s *Store) PutChallenge(ch Challenge) {
	s.mu.Lock()
	s.challenges[ch.ID] = ch
	s.mu.Unlock()
}

// PutPath sets the ordered challenge list of a learning path.
func (s *Store) PutPath(pathID string, challengeIDs ...string) {
	s.mu.Lock()
	s.paths[pathID] = append([]string(nil), challengeIDs...)
	s.mu.Unlock()
}

// AddLikes adds n likes to a challenge.
func (s *Store) AddLikes(challengeID string, n int) {
	s.mu.Lock()
	s.likes[challengeID] += n
	s.mu.Unlock()
}

// AddForks adds n forks of a challenge.
func (s *Store) AddForks(challengeID string, n int) {
	s.mu.Lock()
	s.forks[challengeID] += n
	s.mu.Unlock()
}
