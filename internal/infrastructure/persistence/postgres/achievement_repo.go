package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements the achievement catalog, its writer and
// the unlock store for PostgreSQL.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

var (
	_ achievement.Catalog          = (*AchievementRepository)(nil)
	_ achievement.CatalogWriter    = (*AchievementRepository)(nil)
	_ achievement.UnlockRepository = (*AchievementRepository)(nil)
)

const achievementColumns = `id::text, slug, name, description, icon, xp_reward, rarity, trigger`

// ─────────────────────────────────────────────────────────────────────────────
// Catalog
// ─────────────────────────────────────────────────────────────────────────────

// GetBySlug returns the catalog entry or shared.ErrAchievementNotFound.
func (r *AchievementRepository) GetBySlug(ctx context.Context, slug string) (*achievement.Achievement, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+achievementColumns+` FROM achievements WHERE slug = $1`, slug)

	a, err := scanAchievement(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAchievementNotFound
		}
		return nil, shared.StorageError("achievement", "GetBySlug", err)
	}
	return a, nil
}

// List returns every catalog entry ordered by trigger then slug.
func (r *AchievementRepository) List(ctx context.Context) ([]achievement.Achievement, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+achievementColumns+` FROM achievements ORDER BY trigger, slug`)
	if err != nil {
		return nil, shared.StorageError("achievement", "List", err)
	}
	defer rows.Close()

	var out []achievement.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, shared.StorageError("achievement", "List", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("achievement", "List", err)
	}
	return out, nil
}

// Upsert inserts the entry or updates it in place, keyed by slug. The id of
// an existing row is preserved so unlock records keep pointing at it.
func (r *AchievementRepository) Upsert(ctx context.Context, a *achievement.Achievement) (*achievement.Achievement, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	row := r.conn.QueryRow(ctx, `
		INSERT INTO achievements (slug, name, description, icon, xp_reward, rarity, trigger)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			icon = EXCLUDED.icon,
			xp_reward = EXCLUDED.xp_reward,
			rarity = EXCLUDED.rarity,
			trigger = EXCLUDED.trigger,
			updated_at = NOW()
		RETURNING `+achievementColumns,
		a.Slug, a.Name, a.Description, a.Icon, a.XPReward, string(a.Rarity), string(a.Trigger),
	)

	saved, err := scanAchievement(row)
	if err != nil {
		return nil, shared.StorageError("achievement", "Upsert", err)
	}
	return saved, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Unlocks
// ─────────────────────────────────────────────────────────────────────────────

// UnlockedSlugs returns the slugs the user already holds.
func (r *AchievementRepository) UnlockedSlugs(ctx context.Context, userID shared.UserID) (map[string]struct{}, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT a.slug
		FROM user_achievements ua
		JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = $1
	`, userID)
	if err != nil {
		return nil, shared.StorageError("achievement", "UnlockedSlugs", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, shared.StorageError("achievement", "UnlockedSlugs", err)
		}
		out[slug] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("achievement", "UnlockedSlugs", err)
	}
	return out, nil
}

// Unlock relies on the (user_id, achievement_id) unique constraint: the
// writer that loses the race gets no row back and reports inserted=false.
func (r *AchievementRepository) Unlock(ctx context.Context, userID shared.UserID, achievementID string) (bool, error) {
	var id int64
	err := r.conn.QueryRow(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id)
		VALUES ($1, $2::uuid)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
		RETURNING id
	`, userID, achievementID).Scan(&id)
	switch {
	case err == nil:
		return true, nil
	case IsNoRows(err), IsUniqueViolation(err):
		return false, nil
	case IsForeignKeyViolation(err):
		return false, shared.WrapError("achievement", "Unlock", shared.ErrNotFound,
			fmt.Sprintf("achievement %s not in catalog", achievementID), err)
	default:
		return false, shared.StorageError("achievement", "Unlock", err)
	}
}

// ListUnlocked returns the user's unlocks, most recent first.
func (r *AchievementRepository) ListUnlocked(ctx context.Context, userID shared.UserID) ([]achievement.Unlocked, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT a.id::text, a.slug, a.name, a.description, a.icon, a.xp_reward, a.rarity, a.trigger, ua.unlocked_at
		FROM user_achievements ua
		JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = $1
		ORDER BY ua.unlocked_at DESC, a.slug
	`, userID)
	if err != nil {
		return nil, shared.StorageError("achievement", "ListUnlocked", err)
	}
	defer rows.Close()

	var out []achievement.Unlocked
	for rows.Next() {
		var (
			u       achievement.Unlocked
			rarity  string
			trigger string
		)
		if err := rows.Scan(
			&u.ID, &u.Slug, &u.Name, &u.Description, &u.Icon, &u.XPReward,
			&rarity, &trigger, &u.UnlockedAt,
		); err != nil {
			return nil, shared.StorageError("achievement", "ListUnlocked", err)
		}
		u.Rarity = achievement.Rarity(rarity)
		u.Trigger = achievement.Trigger(trigger)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("achievement", "ListUnlocked", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanAchievement(row pgx.Row) (*achievement.Achievement, error) {
	var (
		a       achievement.Achievement
		rarity  string
		trigger string
	)
	if err := row.Scan(
		&a.ID, &a.Slug, &a.Name, &a.Description, &a.Icon, &a.XPReward, &rarity, &trigger,
	); err != nil {
		return nil, err
	}
	a.Rarity = achievement.Rarity(rarity)
	a.Trigger = achievement.Trigger(trigger)
	return &a, nil
}
