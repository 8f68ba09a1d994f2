package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/level"
	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Reader and leaderboard.Source
// directly over user_stats.
type LeaderboardRepository struct {
	conn *Connection
}

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

var (
	_ leaderboard.Reader = (*LeaderboardRepository)(nil)
	_ leaderboard.Source = (*LeaderboardRepository)(nil)
)

// orderBy maps a sort key to its ORDER BY clause. user_id DESC matches the
// member order of a reverse range on the Redis sorted set.
var orderBy = map[leaderboard.SortBy]string{
	leaderboard.SortByXP:     "xp DESC, user_id DESC",
	leaderboard.SortByStreak: "current_streak DESC, user_id DESC",
}

// Top returns the first limit rows ranked by the given key.
func (r *LeaderboardRepository) Top(ctx context.Context, by leaderboard.SortBy, limit int) ([]leaderboard.Entry, error) {
	order, ok := orderBy[by]
	if !ok {
		return nil, shared.ErrUnknownSortKey
	}

	query := fmt.Sprintf(`
		SELECT user_id, xp, current_streak, longest_streak
		FROM user_stats
		ORDER BY %s
		LIMIT $1
	`, order)

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, shared.StorageError("leaderboard", "Top", err)
	}

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, shared.StorageError("leaderboard", "Top", err)
	}
	for i := range entries {
		entries[i].Rank = leaderboard.Rank(i + 1)
	}
	return entries, nil
}

// All lists every stats row, unranked.
func (r *LeaderboardRepository) All(ctx context.Context) ([]leaderboard.Entry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, xp, current_streak, longest_streak FROM user_stats
	`)
	if err != nil {
		return nil, shared.StorageError("leaderboard", "All", err)
	}

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, shared.StorageError("leaderboard", "All", err)
	}
	return entries, nil
}

// collectEntries closes rows. Level is derived from xp rather than read
// from the cache column, which may trail.
func collectEntries(rows pgx.Rows) ([]leaderboard.Entry, error) {
	defer rows.Close()

	var out []leaderboard.Entry
	for rows.Next() {
		var e leaderboard.Entry
		if err := rows.Scan(&e.UserID, &e.XP, &e.CurrentStreak, &e.LongestStreak); err != nil {
			return nil, err
		}
		e.Level = level.Of(e.XP).Number
		out = append(out, e)
	}
	return out, rows.Err()
}
