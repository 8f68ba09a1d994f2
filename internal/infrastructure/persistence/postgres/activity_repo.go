package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codequest/progression/internal/domain/activity"
	"github.com/codequest/progression/internal/domain/shared"
	"github.com/codequest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ActivityRepository implements activity.HeatmapReader and
// activity.CompletionLedger for PostgreSQL.
type ActivityRepository struct {
	conn *Connection
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(conn *Connection) *ActivityRepository {
	return &ActivityRepository{conn: conn}
}

var (
	_ activity.HeatmapReader    = (*ActivityRepository)(nil)
	_ activity.CompletionLedger = (*ActivityRepository)(nil)
)

// CompletionHeatmap buckets completions by their calendar date in loc.
func (r *ActivityRepository) CompletionHeatmap(ctx context.Context, userID shared.UserID, from, to time.Time, loc *time.Location) (activity.Heatmap, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT (completed_at AT TIME ZONE $4)::date AS day, COUNT(*)
		FROM challenge_completions
		WHERE user_id = $1 AND completed_at >= $2 AND completed_at < $3
		GROUP BY day
	`, userID, from, to, zoneName(loc))
	if err != nil {
		return nil, shared.StorageError("activity", "CompletionHeatmap", err)
	}
	defer rows.Close()

	out := activity.Heatmap{}
	for rows.Next() {
		var (
			day time.Time
			n   int
		)
		if err := rows.Scan(&day, &n); err != nil {
			return nil, shared.StorageError("activity", "CompletionHeatmap", err)
		}
		out[timeutil.Date(day).Format(timeutil.DateLayout)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("activity", "CompletionHeatmap", err)
	}
	return out, nil
}

// ClaimCompletion records the completion once per (user, challenge) and
// reports whether an earlier claim was settled. A challenge the ledger has
// not seen yet is registered with the completion's difficulty so the foreign
// key holds.
func (r *ActivityRepository) ClaimCompletion(ctx context.Context, c activity.Completion) (activity.Claim, error) {
	claim := activity.ClaimNew

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if c.Difficulty != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO challenges (id, difficulty) VALUES ($1, $2)
				ON CONFLICT (id) DO NOTHING
			`, c.ChallengeID, string(c.Difficulty)); err != nil {
				return fmt.Errorf("failed to register challenge: %w", err)
			}
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO challenge_completions (user_id, challenge_id, completed_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, challenge_id) DO NOTHING
		`, c.UserID, c.ChallengeID, c.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to append completion: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		var settled bool
		if err := tx.QueryRow(ctx, `
			SELECT settled_at IS NOT NULL
			FROM challenge_completions
			WHERE user_id = $1 AND challenge_id = $2
		`, c.UserID, c.ChallengeID).Scan(&settled); err != nil {
			return fmt.Errorf("failed to read completion: %w", err)
		}
		claim = activity.ClaimPending
		if settled {
			claim = activity.ClaimSettled
		}
		return nil
	})
	if err != nil {
		if IsForeignKeyViolation(err) {
			return 0, shared.WrapError("activity", "ClaimCompletion", shared.ErrNotFound,
				fmt.Sprintf("challenge %s is unknown", c.ChallengeID), err)
		}
		return 0, shared.StorageError("activity", "ClaimCompletion", err)
	}
	return claim, nil
}

// SettleCompletion marks the completion as paid.
func (r *ActivityRepository) SettleCompletion(ctx context.Context, userID shared.UserID, challengeID string) error {
	_, err := r.conn.Exec(ctx, `
		UPDATE challenge_completions
		SET settled_at = NOW()
		WHERE user_id = $1 AND challenge_id = $2 AND settled_at IS NULL
	`, userID, challengeID)
	if err != nil {
		return shared.StorageError("activity", "SettleCompletion", err)
	}
	return nil
}

// zoneName returns a zone name PostgreSQL understands. time.Local has no
// IANA name, so it falls back to UTC.
func zoneName(loc *time.Location) string {
	if loc == nil || loc == time.Local || loc.String() == "" {
		return "UTC"
	}
	return loc.String()
}
