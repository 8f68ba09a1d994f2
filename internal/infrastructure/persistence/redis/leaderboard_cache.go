package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/level"
	"github.com/codequest/progression/internal/domain/shared"
	"github.com/codequest/progression/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Key layout:
//   - "leaderboard:xp"      sorted set user_id -> xp
//   - "leaderboard:streak"  sorted set user_id -> current streak
//   - "leaderboard:longest" hash user_id -> longest streak
//   - "leaderboard:meta"    JSON LeaderboardMeta; its presence marks the cache warm
//
// Every key expires together TTL after a rebuild, so a cached ranking is at
// most TTL old. Sorted sets return equal scores in reverse lexicographic
// member order on ZREVRANGE, which is the user_id DESC tie break the
// database uses.
const (
	keyLeaderboardXP      = PrefixLeaderboard + "xp"
	keyLeaderboardStreak  = PrefixLeaderboard + "streak"
	keyLeaderboardLongest = PrefixLeaderboard + "longest"
	keyLeaderboardMeta    = PrefixLeaderboard + "meta"

	rebuildLockResource = "leaderboard:rebuild"
)

// recordXPScript raises the xp score (ZADD GT) and makes sure the member
// exists in the streak set. Nothing is written while the cache is cold, so
// a partial set never masks a rebuild.
var recordXPScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('ZADD', KEYS[2], 'GT', ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], 'NX', 0, ARGV[2])
return 1
`)

// recordStreakScript overwrites the current streak (a reset lowers it) and
// the longest streak.
var recordStreakScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[3], 'NX', 0, ARGV[3])
redis.call('HSET', KEYS[4], ARGV[3], ARGV[2])
return 1
`)

// Backing is the authoritative store behind the cache.
type Backing interface {
	leaderboard.Reader
	leaderboard.Source
}

// LeaderboardMeta describes the last rebuild.
type LeaderboardMeta struct {
	RebuiltAt time.Time `json:"rebuilt_at"`
	Members   int       `json:"members"`
}

// LeaderboardCache serves leaderboard.Reader from Redis sorted sets and
// implements leaderboard.Sink for the write paths.
type LeaderboardCache struct {
	cache   *Cache
	backing Backing
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	breaker *circuitbreaker.Breaker
}

// NewLeaderboardCache creates a new LeaderboardCache. ttl <= 0 uses
// TTLLeaderboardCache.
func NewLeaderboardCache(cache *Cache, backing Backing, ttl time.Duration, logger *slog.Logger) *LeaderboardCache {
	if ttl <= 0 {
		ttl = TTLLeaderboardCache
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardCache{
		cache:   cache,
		backing: backing,
		ttl:     ttl,
		logger:  logger.With("component", "leaderboard_cache"),
		now:     time.Now,
	}
}

// WithBreaker guards the Redis reads of Top. While the circuit is open,
// reads go straight to the backing store.
func (l *LeaderboardCache) WithBreaker(cb *circuitbreaker.Breaker) *LeaderboardCache {
	l.breaker = cb
	return l
}

var (
	_ leaderboard.Reader = (*LeaderboardCache)(nil)
	_ leaderboard.Sink   = (*LeaderboardCache)(nil)
)

// ══════════════════════════════════════════════════════════════════════════════
// WRITE OPERATIONS (leaderboard.Sink)
// ══════════════════════════════════════════════════════════════════════════════

// RecordXP raises the user's xp score.
func (l *LeaderboardCache) RecordXP(ctx context.Context, userID shared.UserID, xp int64) error {
	keys := []string{keyLeaderboardMeta, keyLeaderboardXP, keyLeaderboardStreak}
	return recordXPScript.Run(ctx, l.cache.Client(), keys, xp, userID.String()).Err()
}

// RecordStreak stores the user's current and longest streak.
func (l *LeaderboardCache) RecordStreak(ctx context.Context, userID shared.UserID, current, longest int) error {
	keys := []string{keyLeaderboardMeta, keyLeaderboardStreak, keyLeaderboardXP, keyLeaderboardLongest}
	return recordStreakScript.Run(ctx, l.cache.Client(), keys, current, longest, userID.String()).Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// READ OPERATIONS (leaderboard.Reader)
// ══════════════════════════════════════════════════════════════════════════════

// Top returns the first limit entries. A cold cache is rebuilt from the
// backing store; a Redis failure falls back to the backing reader.
func (l *LeaderboardCache) Top(ctx context.Context, by leaderboard.SortBy, limit int) ([]leaderboard.Entry, error) {
	if !by.IsValid() {
		return nil, shared.ErrUnknownSortKey
	}

	var (
		entries []leaderboard.Entry
		cold    bool
	)
	err := l.guard(ctx, func(ctx context.Context) error {
		warm, err := l.cache.Exists(ctx, keyLeaderboardMeta)
		if err != nil {
			return err
		}
		if !warm {
			cold = true
			return nil
		}
		entries, err = l.readTop(ctx, by, limit)
		return err
	})
	if err != nil {
		return l.fallback(ctx, by, limit, err)
	}
	if !cold {
		return entries, nil
	}

	entries, err = l.rebuild(ctx)
	if err != nil {
		return nil, err
	}
	leaderboard.Sort(entries, by)
	if limit < len(entries) {
		entries = entries[:max(limit, 0)]
	}
	return entries, nil
}

func (l *LeaderboardCache) guard(ctx context.Context, fn func(context.Context) error) error {
	if l.breaker == nil {
		return fn(ctx)
	}
	return l.breaker.Execute(ctx, fn)
}

func (l *LeaderboardCache) readTop(ctx context.Context, by leaderboard.SortBy, limit int) ([]leaderboard.Entry, error) {
	if limit <= 0 {
		return []leaderboard.Entry{}, nil
	}

	primary, secondary := keyLeaderboardXP, keyLeaderboardStreak
	if by == leaderboard.SortByStreak {
		primary, secondary = keyLeaderboardStreak, keyLeaderboardXP
	}

	ranked, err := l.cache.Client().ZRevRangeWithScores(ctx, primary, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return []leaderboard.Entry{}, nil
	}

	members := make([]string, len(ranked))
	for i, z := range ranked {
		members[i] = z.Member.(string)
	}

	pipe := l.cache.Client().Pipeline()
	otherCmd := pipe.ZMScore(ctx, secondary, members...)
	longestCmd := pipe.HMGet(ctx, keyLeaderboardLongest, members...)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	others := otherCmd.Val()
	longest := longestCmd.Val()

	entries := make([]leaderboard.Entry, 0, len(ranked))
	for i, z := range ranked {
		id, err := uuid.Parse(members[i])
		if err != nil {
			return nil, fmt.Errorf("leaderboard_cache: bad member %q: %w", members[i], err)
		}

		e := leaderboard.Entry{Rank: leaderboard.Rank(i + 1), UserID: id}
		var other int64
		if i < len(others) {
			other = int64(others[i])
		}
		if by == leaderboard.SortByStreak {
			e.CurrentStreak, e.XP = int(z.Score), other
		} else {
			e.XP, e.CurrentStreak = int64(z.Score), int(other)
		}
		if i < len(longest) {
			e.LongestStreak = parseInt(longest[i])
		}
		e.Level = level.Of(e.XP).Number
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *LeaderboardCache) fallback(ctx context.Context, by leaderboard.SortBy, limit int, cause error) ([]leaderboard.Entry, error) {
	if circuitbreaker.IsRejected(cause) {
		l.logger.Debug("leaderboard cache circuit open, reading from store", "sort_by", string(by))
		return l.backing.Top(ctx, by, limit)
	}
	l.logger.Warn("leaderboard cache unavailable, reading from store",
		"sort_by", string(by),
		"error", cause,
	)
	return l.backing.Top(ctx, by, limit)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Rebuild replaces the cached sets with a fresh copy of the backing store
// and returns the number of members written.
func (l *LeaderboardCache) Rebuild(ctx context.Context) (int, error) {
	entries, err := l.rebuild(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// rebuild reads every row and, when it wins the rebuild lock, writes them
// in one MULTI block. The rows are returned either way so a cold read can
// be answered without a second round trip.
func (l *LeaderboardCache) rebuild(ctx context.Context) ([]leaderboard.Entry, error) {
	entries, err := l.backing.All(ctx)
	if err != nil {
		return nil, err
	}

	acquired, err := l.cache.SetNX(ctx, LockKey(rebuildLockResource), l.now().UTC(), TTLRebuildLock)
	if err != nil {
		l.logger.Warn("failed to take rebuild lock", "error", err)
		return entries, nil
	}
	if !acquired {
		return entries, nil
	}
	defer func() {
		if err := l.cache.Delete(ctx, LockKey(rebuildLockResource)); err != nil {
			l.logger.Warn("failed to release rebuild lock", "error", err)
		}
	}()

	if err := l.write(ctx, entries); err != nil {
		l.logger.Warn("failed to write leaderboard cache", "error", err)
		return entries, nil
	}

	l.logger.Info("leaderboard cache rebuilt", "members", len(entries))
	return entries, nil
}

func (l *LeaderboardCache) write(ctx context.Context, entries []leaderboard.Entry) error {
	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, keyLeaderboardXP, keyLeaderboardStreak, keyLeaderboardLongest, keyLeaderboardMeta)

	if len(entries) > 0 {
		xp := make([]redis.Z, 0, len(entries))
		streak := make([]redis.Z, 0, len(entries))
		longest := make(map[string]interface{}, len(entries))
		for _, e := range entries {
			member := e.UserID.String()
			xp = append(xp, redis.Z{Score: float64(e.XP), Member: member})
			streak = append(streak, redis.Z{Score: float64(e.CurrentStreak), Member: member})
			longest[member] = e.LongestStreak
		}
		pipe.ZAdd(ctx, keyLeaderboardXP, xp...)
		pipe.ZAdd(ctx, keyLeaderboardStreak, streak...)
		pipe.HSet(ctx, keyLeaderboardLongest, longest)
		pipe.Expire(ctx, keyLeaderboardXP, l.ttl)
		pipe.Expire(ctx, keyLeaderboardStreak, l.ttl)
		pipe.Expire(ctx, keyLeaderboardLongest, l.ttl)
	}

	meta := LeaderboardMeta{RebuiltAt: l.now().UTC(), Members: len(entries)}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	pipe.Set(ctx, keyLeaderboardMeta, data, l.ttl)

	_, err = pipe.Exec(ctx)
	return err
}

// Meta returns the last rebuild metadata or ErrCacheMiss when cold.
func (l *LeaderboardCache) Meta(ctx context.Context) (*LeaderboardMeta, error) {
	var meta LeaderboardMeta
	if err := l.cache.Get(ctx, keyLeaderboardMeta, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Invalidate drops every cached key; the next read rebuilds.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.cache.Delete(ctx, keyLeaderboardMeta, keyLeaderboardXP, keyLeaderboardStreak, keyLeaderboardLongest)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

func parseInt(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
