package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codequest/progression/internal/domain/leaderboard"
)

func TestGetMigrations_OrderedAndReversible(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	seen := map[int]bool{}
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions are contiguous from 1")
		assert.False(t, seen[m.Version])
		seen[m.Version] = true
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, strings.TrimSpace(m.UpSQL), m.Name)
		assert.NotEmpty(t, strings.TrimSpace(m.DownSQL), m.Name)
	}
}

func TestMigrations_EnforceEngineConstraints(t *testing.T) {
	var all strings.Builder
	for _, m := range GetMigrations() {
		all.WriteString(m.UpSQL)
	}
	schema := all.String()

	assert.Contains(t, schema, "UNIQUE (user_id, achievement_id)", "one unlock per user and achievement")
	assert.Contains(t, schema, "UNIQUE (user_id, challenge_id)", "one paid completion per user and challenge")
	assert.Contains(t, schema, "slug VARCHAR")
	assert.Contains(t, schema, "ON xp_events(user_id, award_key) WHERE award_key IS NOT NULL", "keyed awards apply once")
	assert.Contains(t, schema, "settled_at", "completions stay claimable until paid")
}

func TestPending(t *testing.T) {
	all := GetMigrations()
	applied := map[int]time.Time{1: time.Now()}

	got := pending(all, applied)
	require.Len(t, got, len(all)-1)
	assert.Equal(t, 2, got[0].Version)

	done := map[int]time.Time{}
	for _, m := range all {
		done[m.Version] = time.Time{}
	}
	assert.Empty(t, pending(all, done))
}

func TestDateParam(t *testing.T) {
	assert.Nil(t, dateParam(time.Time{}))

	almaty := time.FixedZone("ALMT", 5*3600)
	got := dateParam(time.Date(2024, 2, 29, 23, 30, 0, 0, almaty))
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), *got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))

	long := strings.Repeat("経", 120)
	got := truncate(long, 100)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 100, utf8.RuneCountInString(got))
	assert.Equal(t, "経験", truncate("経験", 100))
}

func TestZoneName(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Almaty")
	require.NoError(t, err)

	assert.Equal(t, "UTC", zoneName(nil))
	assert.Equal(t, "UTC", zoneName(time.Local))
	assert.Equal(t, "UTC", zoneName(time.UTC))
	assert.Equal(t, "Asia/Almaty", zoneName(loc))
}

func TestErrorHelpers(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("insert: %w", &pgconn.PgError{Code: code})
	}

	assert.True(t, IsUniqueViolation(wrap("23505")))
	assert.False(t, IsUniqueViolation(wrap("23503")))
	assert.True(t, IsForeignKeyViolation(wrap("23503")))
	assert.True(t, IsSerializationFailure(wrap("40001")))
	assert.True(t, IsSerializationFailure(wrap("40P01")))
	assert.False(t, IsSerializationFailure(errors.New("boom")))
	assert.True(t, IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)))
}

func TestConfig_PoolConfig(t *testing.T) {
	_, err := Config{}.PoolConfig()
	assert.Error(t, err)

	cfg := Config{
		URL:             "postgres://app:secret@db:5432/progression?sslmode=disable",
		MaxConns:        4,
		MinConns:        9,
		MaxConnLifetime: time.Hour,
	}
	pool, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(4), pool.MaxConns)
	assert.Equal(t, int32(4), pool.MinConns, "min is capped at max")
	assert.Equal(t, time.Hour, pool.MaxConnLifetime)
	assert.Equal(t, "db", pool.ConnConfig.Host)
	assert.Equal(t, "progression", pool.ConnConfig.Database)
}

func TestConnection_ClosedPoolFailsCleanly(t *testing.T) {
	conn := &Connection{closed: true}
	ctx := context.Background()

	_, err := conn.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = conn.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrConnectionClosed)
	var n int
	assert.ErrorIs(t, conn.QueryRow(ctx, "SELECT 1").Scan(&n), ErrConnectionClosed)
	assert.ErrorIs(t, conn.WithTx(ctx, func(pgx.Tx) error { return nil }), ErrConnectionClosed)

	conn.Close()
}

func TestLeaderboardRepository_RejectsUnknownSort(t *testing.T) {
	repo := NewLeaderboardRepository(nil)
	_, err := repo.Top(context.Background(), leaderboard.SortBy("likes"), 10)
	assert.Error(t, err)

	for _, by := range []leaderboard.SortBy{leaderboard.SortByXP, leaderboard.SortByStreak} {
		assert.Contains(t, orderBy[by], "user_id DESC")
	}
}
