// Package application wires the command and query handlers into the Engine,
// the synchronous library surface request handlers call.
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codequest/progression/internal/application/command"
	"github.com/codequest/progression/internal/application/query"
	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/activity"
	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/progression"
	"github.com/codequest/progression/internal/domain/shared"
)

// Storage groups the repositories the engine reads and writes.
type Storage struct {
	Stats       progression.Repository
	Catalog     achievement.Catalog
	Unlocks     achievement.UnlockRepository
	Facts       achievement.Facts
	Leaderboard leaderboard.Reader
	Heatmap     activity.HeatmapReader

	// Ledger is optional. Without it RecordCompletion assumes the caller
	// already wrote the completion row.
	Ledger activity.CompletionLedger
}

func (s Storage) validate() error {
	if s.Stats == nil || s.Catalog == nil || s.Unlocks == nil || s.Facts == nil ||
		s.Leaderboard == nil || s.Heatmap == nil {
		return errors.New("engine: storage is incomplete")
	}
	return nil
}

// Options tunes the engine. Zero values are valid.
type Options struct {
	// Registry defaults to achievement.DefaultRegistry().
	Registry *achievement.Registry

	// Sink receives leaderboard score updates.
	Sink leaderboard.Sink

	// Events receives domain events after each operation.
	Events shared.EventPublisher

	// Location decides calendar days for streaks and heatmaps.
	Location *time.Location

	// Now overrides the clock.
	Now func() time.Time

	Logger *slog.Logger
}

// Engine is the progression engine.
type Engine struct {
	awardXP           *command.AwardXPHandler
	updateStreak      *command.UpdateStreakHandler
	checkAchievements *command.CheckAchievementsHandler
	recordCompletion  *command.RecordCompletionHandler
	processTrigger    *command.ProcessTriggerHandler

	getUserStats   *query.GetUserStatsHandler
	getLeaderboard *query.GetLeaderboardHandler
	getHeatmap     *query.GetHeatmapHandler
}

// Result aliases so callers only import this package.
type (
	AwardXPResult          = command.AwardXPResult
	UnlockedAchievement    = command.UnlockedAchievement
	RecordCompletionResult = command.RecordCompletionResult
	ProcessTriggerResult   = command.ProcessTriggerResult
	UpdateStreakResult     = command.UpdateStreakResult
	UserStatsResult        = query.UserStatsResult
)

// NewEngine wires the handlers over storage.
func NewEngine(storage Storage, opts Options) (*Engine, error) {
	if err := storage.validate(); err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		opts.Registry = achievement.DefaultRegistry()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger

	evaluator := achievement.NewEvaluator(opts.Registry, storage.Catalog, storage.Unlocks, storage.Facts)

	award := command.NewAwardXPHandler(storage.Stats, opts.Sink, opts.Events, logger)
	streak := command.NewUpdateStreakHandler(storage.Stats, opts.Sink, opts.Events,
		command.UpdateStreakHandlerConfig{Location: opts.Location, Now: opts.Now}, logger)
	check := command.NewCheckAchievementsHandler(evaluator, opts.Events, logger)

	return &Engine{
		awardXP:           award,
		updateStreak:      streak,
		checkAchievements: check,
		recordCompletion:  command.NewRecordCompletionHandler(award, streak, check, storage.Ledger, logger),
		processTrigger:    command.NewProcessTriggerHandler(award, check, logger),
		getUserStats:      query.NewGetUserStatsHandler(storage.Stats, storage.Unlocks, logger),
		getLeaderboard:    query.NewGetLeaderboardHandler(storage.Leaderboard, logger),
		getHeatmap:        query.NewGetHeatmapHandler(storage.Heatmap, opts.Location, logger),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// AwardXP adds amount (>= 0) to the user's XP.
func (e *Engine) AwardXP(ctx context.Context, userID shared.UserID, amount int64) (*AwardXPResult, error) {
	return e.awardXP.Handle(ctx, command.AwardXPCommand{UserID: userID, Amount: amount})
}

// AwardXPWithReason is AwardXP with an audit reason.
func (e *Engine) AwardXPWithReason(ctx context.Context, userID shared.UserID, amount int64, reason string) (*AwardXPResult, error) {
	return e.awardXP.Handle(ctx, command.AwardXPCommand{UserID: userID, Amount: amount, Reason: reason})
}

// UpdateStreak counts today as an active day for the user.
func (e *Engine) UpdateStreak(ctx context.Context, userID shared.UserID) error {
	_, err := e.updateStreak.Handle(ctx, command.UpdateStreakCommand{UserID: userID})
	return err
}

// UpdateStreakDetailed is UpdateStreak returning the resulting state.
func (e *Engine) UpdateStreakDetailed(ctx context.Context, userID shared.UserID) (*UpdateStreakResult, error) {
	return e.updateStreak.Handle(ctx, command.UpdateStreakCommand{UserID: userID})
}

// CheckAndAwardAchievements re-evaluates trigger and returns this call's
// unlocks. It does not award their XP. On error the unlocks committed before
// the failure are still returned.
func (e *Engine) CheckAndAwardAchievements(ctx context.Context, userID shared.UserID, trigger achievement.Trigger) ([]UnlockedAchievement, error) {
	res, err := e.checkAchievements.Handle(ctx, command.CheckAchievementsCommand{UserID: userID, Trigger: trigger})
	if res == nil {
		return nil, err
	}
	return res.Unlocked, err
}

// RecordCompletion runs the full completion flow.
func (e *Engine) RecordCompletion(ctx context.Context, cmd command.RecordCompletionCommand) (*RecordCompletionResult, error) {
	return e.recordCompletion.Handle(ctx, cmd)
}

// RecordTrigger runs a social trigger and pays its bonus.
func (e *Engine) RecordTrigger(ctx context.Context, userID shared.UserID, trigger achievement.Trigger) (*ProcessTriggerResult, error) {
	return e.processTrigger.Handle(ctx, command.ProcessTriggerCommand{UserID: userID, Trigger: trigger})
}

// GetUserStats returns the user's progression card with achievements.
func (e *Engine) GetUserStats(ctx context.Context, userID shared.UserID) (*UserStatsResult, error) {
	return e.getUserStats.Handle(ctx, query.GetUserStatsQuery{UserID: userID, IncludeAchievements: true})
}

// GetLeaderboard returns the top entries by sortBy.
func (e *Engine) GetLeaderboard(ctx context.Context, sortBy leaderboard.SortBy, limit int) ([]leaderboard.Entry, error) {
	res, err := e.getLeaderboard.Handle(ctx, query.GetLeaderboardQuery{SortBy: sortBy, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]leaderboard.Entry, 0, len(res.Entries))
	for _, dto := range res.Entries {
		out = append(out, dto.Entry)
	}
	return out, nil
}

// GetCompletionHeatmap returns completions per day of year.
func (e *Engine) GetCompletionHeatmap(ctx context.Context, userID shared.UserID, year int) (map[string]int, error) {
	return e.getHeatmap.Handle(ctx, query.GetHeatmapQuery{UserID: userID, Year: year})
}
