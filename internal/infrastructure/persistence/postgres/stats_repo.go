package postgres

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/codequest/progression/internal/domain/level"
	"github.com/codequest/progression/internal/domain/progression"
	"github.com/codequest/progression/internal/domain/shared"
	"github.com/codequest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER STATS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository implements progression.Repository for PostgreSQL.
type StatsRepository struct {
	conn *Connection
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(conn *Connection) *StatsRepository {
	return &StatsRepository{conn: conn}
}

// Compile-time interface check.
var _ progression.Repository = (*StatsRepository)(nil)

const statsColumns = `user_id, xp, level, current_streak, longest_streak, last_active_date, created_at, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// XP
// ─────────────────────────────────────────────────────────────────────────────

// AddXP increments xp in one upsert so concurrent awards never lose an
// update, then writes the audit row in the same transaction.
func (r *StatsRepository) AddXP(ctx context.Context, userID shared.UserID, amount int64, reason string) (int64, int, error) {
	var xp int64
	var cached int

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO xp_events (user_id, amount, reason) VALUES ($1, $2, $3)
		`, userID, amount, truncate(reason, 100)); err != nil {
			return fmt.Errorf("failed to record xp event: %w", err)
		}
		var err error
		xp, cached, err = addXP(ctx, tx, userID, amount)
		return err
	})
	if err != nil {
		return 0, 0, shared.StorageError("progression", "AddXP", err)
	}

	return xp, cached, nil
}

// AddXPOnce claims (user, key) in xp_events first. A concurrent claim of the
// same key waits on the unique index and then finds the row.
func (r *StatsRepository) AddXPOnce(ctx context.Context, userID shared.UserID, amount int64, reason, key string) (int64, int, bool, error) {
	var (
		xp      int64
		cached  int
		applied bool
	)

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO xp_events (user_id, amount, reason, award_key) VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, award_key) WHERE award_key IS NOT NULL DO NOTHING
		`, userID, amount, truncate(reason, 100), key)
		if err != nil {
			return fmt.Errorf("failed to record xp event: %w", err)
		}

		applied = tag.RowsAffected() == 1
		if !applied {
			err := tx.QueryRow(ctx, `SELECT xp, level FROM user_stats WHERE user_id = $1`, userID).Scan(&xp, &cached)
			if err != nil {
				return fmt.Errorf("failed to read xp: %w", err)
			}
			return nil
		}
		xp, cached, err = addXP(ctx, tx, userID, amount)
		return err
	})
	if err != nil {
		return 0, 0, false, shared.StorageError("progression", "AddXPOnce", err)
	}

	return xp, cached, applied, nil
}

func addXP(ctx context.Context, tx pgx.Tx, userID shared.UserID, amount int64) (xp int64, cached int, err error) {
	err = tx.QueryRow(ctx, `
		INSERT INTO user_stats (user_id, xp, level)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET xp = user_stats.xp + EXCLUDED.xp,
		    updated_at = NOW()
		RETURNING xp, level
	`, userID, amount, level.MinLevel).Scan(&xp, &cached)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to add xp: %w", err)
	}
	return xp, cached, nil
}

// RaiseLevel only ever moves the cache upward.
func (r *StatsRepository) RaiseLevel(ctx context.Context, userID shared.UserID, lvl int) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE user_stats
		SET level = $2, updated_at = NOW()
		WHERE user_id = $1 AND level < $2
	`, userID, lvl)
	if err != nil {
		return false, shared.StorageError("progression", "RaiseLevel", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// STREAK
// ─────────────────────────────────────────────────────────────────────────────

// UpdateStreak locks the row with SELECT ... FOR UPDATE so two activities of
// the same user on the same day are applied one after the other.
func (r *StatsRepository) UpdateStreak(ctx context.Context, userID shared.UserID, fn progression.StreakFunc) (progression.Streak, error) {
	var next progression.Streak

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_stats (user_id, level) VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, level.MinLevel); err != nil {
			return fmt.Errorf("failed to ensure stats row: %w", err)
		}

		var (
			current    progression.Streak
			lastActive *time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT current_streak, longest_streak, last_active_date
			FROM user_stats
			WHERE user_id = $1
			FOR UPDATE
		`, userID).Scan(&current.Current, &current.Longest, &lastActive)
		if err != nil {
			return fmt.Errorf("failed to lock stats row: %w", err)
		}
		if lastActive != nil {
			current.LastActive = timeutil.Date(*lastActive)
		}

		var changed bool
		next, changed = fn(current)
		if !changed {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE user_stats
			SET current_streak = $2, longest_streak = $3, last_active_date = $4, updated_at = NOW()
			WHERE user_id = $1
		`, userID, next.Current, next.Longest, dateParam(next.LastActive))
		if err != nil {
			return fmt.Errorf("failed to update streak: %w", err)
		}
		return nil
	})
	if err != nil {
		return progression.Streak{}, shared.StorageError("progression", "UpdateStreak", err)
	}

	return next, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// READ
// ─────────────────────────────────────────────────────────────────────────────

// Get returns the user's stats or shared.ErrStatsNotFound.
func (r *StatsRepository) Get(ctx context.Context, userID shared.UserID) (*progression.UserStats, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+statsColumns+` FROM user_stats WHERE user_id = $1`, userID)

	stats, err := scanStats(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStatsNotFound
		}
		return nil, shared.StorageError("progression", "Get", err)
	}
	return stats, nil
}

func scanStats(row pgx.Row) (*progression.UserStats, error) {
	var (
		s          progression.UserStats
		lastActive *time.Time
	)
	err := row.Scan(
		&s.UserID,
		&s.XP,
		&s.Level,
		&s.Streak.Current,
		&s.Streak.Longest,
		&lastActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastActive != nil {
		s.Streak.LastActive = timeutil.Date(*lastActive)
	}
	return &s, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// dateParam maps the zero time to NULL.
func dateParam(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := timeutil.Date(t)
	return &d
}

// truncate keeps at most n characters. VARCHAR(n) counts characters, and a
// cut inside a rune is rejected as invalid UTF-8.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
