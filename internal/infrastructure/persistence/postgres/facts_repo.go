package postgres

import (
	"context"

	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTS REPOSITORY IMPLEMENTATION
// Read-only aggregates over the completion ledger and the social tables.
// ══════════════════════════════════════════════════════════════════════════════

// FactsRepository implements achievement.Facts for PostgreSQL.
type FactsRepository struct {
	conn *Connection
}

// NewFactsRepository creates a new FactsRepository.
func NewFactsRepository(conn *Connection) *FactsRepository {
	return &FactsRepository{conn: conn}
}

var _ achievement.Facts = (*FactsRepository)(nil)

// CompletionCount counts distinct completed challenges.
func (r *FactsRepository) CompletionCount(ctx context.Context, userID shared.UserID) (int, error) {
	return r.count(ctx, "CompletionCount", `
		SELECT COUNT(*) FROM challenge_completions WHERE user_id = $1
	`, userID)
}

// CompletionsByDifficulty groups completions by the challenge difficulty.
func (r *FactsRepository) CompletionsByDifficulty(ctx context.Context, userID shared.UserID) (map[shared.Difficulty]int, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT c.difficulty, COUNT(*)
		FROM challenge_completions cc
		JOIN challenges c ON c.id = cc.challenge_id
		WHERE cc.user_id = $1
		GROUP BY c.difficulty
	`, userID)
	if err != nil {
		return nil, shared.StorageError("achievement", "CompletionsByDifficulty", err)
	}
	defer rows.Close()

	out := make(map[shared.Difficulty]int)
	for rows.Next() {
		var (
			difficulty string
			n          int
		)
		if err := rows.Scan(&difficulty, &n); err != nil {
			return nil, shared.StorageError("achievement", "CompletionsByDifficulty", err)
		}
		out[shared.Difficulty(difficulty)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("achievement", "CompletionsByDifficulty", err)
	}
	return out, nil
}

// LongestStreak reads the best streak; an unknown user has 0.
func (r *FactsRepository) LongestStreak(ctx context.Context, userID shared.UserID) (int, error) {
	return r.count(ctx, "LongestStreak", `
		SELECT COALESCE((SELECT longest_streak FROM user_stats WHERE user_id = $1), 0)
	`, userID)
}

// PathProgress returns one row per learning path with at least one challenge.
func (r *FactsRepository) PathProgress(ctx context.Context, userID shared.UserID) ([]achievement.PathProgress, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT lpc.path_id,
		       COUNT(*) AS total,
		       COUNT(cc.challenge_id) AS completed
		FROM learning_path_challenges lpc
		LEFT JOIN challenge_completions cc
		       ON cc.challenge_id = lpc.challenge_id AND cc.user_id = $1
		GROUP BY lpc.path_id
		ORDER BY lpc.path_id
	`, userID)
	if err != nil {
		return nil, shared.StorageError("achievement", "PathProgress", err)
	}
	defer rows.Close()

	var out []achievement.PathProgress
	for rows.Next() {
		var p achievement.PathProgress
		if err := rows.Scan(&p.PathID, &p.Total, &p.Completed); err != nil {
			return nil, shared.StorageError("achievement", "PathProgress", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("achievement", "PathProgress", err)
	}
	return out, nil
}

// PublishedChallengeCount counts non-official challenges authored by the user.
func (r *FactsRepository) PublishedChallengeCount(ctx context.Context, userID shared.UserID) (int, error) {
	return r.count(ctx, "PublishedChallengeCount", `
		SELECT COUNT(*) FROM challenges WHERE author_id = $1 AND NOT is_official
	`, userID)
}

// LikesReceived counts likes on every challenge the user authored.
func (r *FactsRepository) LikesReceived(ctx context.Context, userID shared.UserID) (int, error) {
	return r.count(ctx, "LikesReceived", `
		SELECT COUNT(*)
		FROM challenge_likes l
		JOIN challenges c ON c.id = l.challenge_id
		WHERE c.author_id = $1
	`, userID)
}

// ForksReceived counts forks of every challenge the user authored.
func (r *FactsRepository) ForksReceived(ctx context.Context, userID shared.UserID) (int, error) {
	return r.count(ctx, "ForksReceived", `
		SELECT COUNT(*)
		FROM challenge_forks f
		JOIN challenges c ON c.id = f.challenge_id
		WHERE c.author_id = $1
	`, userID)
}

func (r *FactsRepository) count(ctx context.Context, op, query string, args ...interface{}) (int, error) {
	var n int
	if err := r.conn.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, shared.StorageError("achievement", op, err)
	}
	return n, nil
}
