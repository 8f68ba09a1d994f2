package leaderboard

import (
	"context"

	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Reader returns ranked entries. limit is already normalised by the caller.
type Reader interface {
	Top(ctx context.Context, by SortBy, limit int) ([]Entry, error)
}

// Source lists every ranked row. Cache rebuilds read from it.
type Source interface {
	All(ctx context.Context) ([]Entry, error)
}

// Sink receives score updates from the write paths. Implementations are
// best-effort: a failed write only makes the cache staler.
type Sink interface {
	RecordXP(ctx context.Context, userID shared.UserID, xp int64) error
	RecordStreak(ctx context.Context, userID shared.UserID, current, longest int) error
}

// NopSink discards updates. It is used when no cache is configured.
type NopSink struct{}

func (NopSink) RecordXP(context.Context, shared.UserID, int64) error { return nil }

func (NopSink) RecordStreak(context.Context, shared.UserID, int, int) error { return nil }
