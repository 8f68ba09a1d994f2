// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/level"
	"github.com/codequest/progression/internal/domain/progression"
	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD XP COMMAND
// The XP ledger. Every XP change in the engine goes through this handler, so
// the atomic add and the monotonic level raise live in exactly one place.
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPCommand adds XP to a user.
type AwardXPCommand struct {
	UserID shared.UserID

	// Amount must be >= 0. Zero is allowed and only touches the row.
	Amount int64

	// Reason is stored with the audit row. Optional.
	Reason string

	// Key, when set, makes the award apply at most once per (user, key).
	Key string
}

// Validate validates the command.
func (c AwardXPCommand) Validate() error {
	if c.UserID == (shared.UserID{}) {
		return shared.ErrInvalidUserID
	}
	if c.Amount < 0 {
		return shared.ErrNegativeXPAmount
	}
	return nil
}

// AwardXPResult is the ledger state after the award.
type AwardXPResult struct {
	XP        int64      `json:"xp"`
	Level     int        `json:"level"`
	LevelInfo level.Info `json:"level_info"`

	// LeveledUp is true only for the award whose write raised the level cache.
	LeveledUp bool         `json:"leveled_up"`
	NewLevel  *level.Level `json:"new_level,omitempty"`

	// Replayed is true when Key was already applied and nothing was added.
	Replayed bool `json:"replayed,omitempty"`

	Events []shared.Event `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPHandler handles AwardXPCommand.
type AwardXPHandler struct {
	stats  progression.Repository
	sink   leaderboard.Sink
	events shared.EventPublisher
	logger *slog.Logger
}

// NewAwardXPHandler creates a new AwardXPHandler. sink and events may be nil.
func NewAwardXPHandler(
	stats progression.Repository,
	sink leaderboard.Sink,
	events shared.EventPublisher,
	logger *slog.Logger,
) *AwardXPHandler {
	if sink == nil {
		sink = leaderboard.NopSink{}
	}
	if events == nil {
		events = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AwardXPHandler{
		stats:  stats,
		sink:   sink,
		events: events,
		logger: logger.With("handler", "award_xp"),
	}
}

// Handle executes the award.
func (h *AwardXPHandler) Handle(ctx context.Context, cmd AwardXPCommand) (*AwardXPResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("award_xp: validation failed: %w", err)
	}

	var (
		xp      int64
		cached  int
		applied = true
		err     error
	)
	if cmd.Key != "" {
		xp, cached, applied, err = h.stats.AddXPOnce(ctx, cmd.UserID, cmd.Amount, cmd.Reason, cmd.Key)
	} else {
		xp, cached, err = h.stats.AddXP(ctx, cmd.UserID, cmd.Amount, cmd.Reason)
	}
	if err != nil {
		return nil, fmt.Errorf("award_xp: add xp: %w", err)
	}

	derived := level.Of(xp)
	result := &AwardXPResult{
		XP:       xp,
		Level:    derived.Number,
		Replayed: !applied,
	}
	if applied {
		result.Events = append(result.Events, shared.NewXPAwardedEvent(cmd.UserID, cmd.Amount, xp, cmd.Reason))
	}

	// The XP is committed here, so a failed raise only leaves the cache stale.
	// Readers derive the level from xp and the next award retries the raise.
	if derived.Number > cached {
		raised, err := h.stats.RaiseLevel(ctx, cmd.UserID, derived.Number)
		if err != nil {
			h.logger.Warn("failed to raise level cache",
				"user_id", cmd.UserID,
				"level", derived.Number,
				"error", err,
			)
		}
		// A concurrent award may have raised it first; only the writer reports it.
		if err == nil && raised {
			result.LeveledUp = true
			result.NewLevel = &derived
			result.Events = append(result.Events,
				shared.NewLevelUpEvent(cmd.UserID, cached, derived.Number, derived.Title))

			h.logger.Info("level up",
				"user_id", cmd.UserID,
				"old_level", cached,
				"new_level", derived.Number,
			)
		}
	}

	result.LevelInfo = level.InfoFor(xp)

	if err := h.sink.RecordXP(ctx, cmd.UserID, xp); err != nil {
		h.logger.Warn("failed to update leaderboard cache",
			"user_id", cmd.UserID,
			"error", err,
		)
	}

	for _, e := range result.Events {
		if err := h.events.Publish(e); err != nil {
			h.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
		}
	}

	h.logger.Debug("xp awarded",
		"user_id", cmd.UserID,
		"amount", cmd.Amount,
		"xp", xp,
		"reason", cmd.Reason,
		"replayed", !applied,
	)

	return result, nil
}
