// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/level"
	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Returns the top-N users by xp or by current streak.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery selects the ranking.
type GetLeaderboardQuery struct {
	// SortBy is xp (default) or streak.
	SortBy leaderboard.SortBy

	// Limit defaults to 10 and is capped at 100. Negative is rejected.
	Limit int
}

// Validate checks and normalises the query.
func (q *GetLeaderboardQuery) Validate() error {
	if q.SortBy == "" {
		q.SortBy = leaderboard.SortByXP
	}
	if !q.SortBy.IsValid() {
		return shared.ErrUnknownSortKey
	}
	limit, err := leaderboard.NormalizeLimit(q.Limit)
	if err != nil {
		return err
	}
	q.Limit = limit
	return nil
}

// LeaderboardEntryDTO is a ranked row with its level title.
type LeaderboardEntryDTO struct {
	leaderboard.Entry
	LevelTitle string `json:"level_title"`
}

// GetLeaderboardResult holds the page.
type GetLeaderboardResult struct {
	SortBy  leaderboard.SortBy    `json:"sort_by"`
	Entries []LeaderboardEntryDTO `json:"entries"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardHandler handles GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	reader leaderboard.Reader
	logger *slog.Logger
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler.
func NewGetLeaderboardHandler(reader leaderboard.Reader, logger *slog.Logger) *GetLeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLeaderboardHandler{
		reader: reader,
		logger: logger.With("handler", "get_leaderboard"),
	}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_leaderboard: validation failed: %w", err)
	}

	entries, err := h.reader.Top(ctx, q.SortBy, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	result := &GetLeaderboardResult{
		SortBy:  q.SortBy,
		Entries: make([]LeaderboardEntryDTO, 0, len(entries)),
	}
	for _, e := range entries {
		result.Entries = append(result.Entries, LeaderboardEntryDTO{
			Entry:      e,
			LevelTitle: level.Of(e.XP).Title,
		})
	}

	h.logger.Debug("leaderboard served", "sort_by", q.SortBy, "limit", q.Limit, "count", len(entries))

	return result, nil
}
