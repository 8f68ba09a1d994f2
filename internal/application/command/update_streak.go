package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/progression"
	"github.com/codequest/progression/internal/domain/shared"
	"github.com/codequest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE STREAK COMMAND
// Counts one active day for the user. Calling it several times on the same
// calendar day is a no-op after the first call.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateStreakCommand marks the user active today.
type UpdateStreakCommand struct {
	UserID shared.UserID
}

// Validate validates the command.
func (c UpdateStreakCommand) Validate() error {
	if c.UserID == (shared.UserID{}) {
		return shared.ErrInvalidUserID
	}
	return nil
}

// UpdateStreakResult is the streak after the update.
type UpdateStreakResult struct {
	CurrentStreak int                    `json:"current_streak"`
	LongestStreak int                    `json:"longest_streak"`
	LastActive    time.Time              `json:"last_active_date"`
	Transition    progression.Transition `json:"transition"`

	Events []shared.Event `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// UpdateStreakHandler handles UpdateStreakCommand.
type UpdateStreakHandler struct {
	stats    progression.Repository
	sink     leaderboard.Sink
	events   shared.EventPublisher
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// UpdateStreakHandlerConfig configures the day boundary.
type UpdateStreakHandlerConfig struct {
	// Location decides which calendar day "today" is. Defaults to UTC.
	Location *time.Location

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewUpdateStreakHandler creates a new UpdateStreakHandler.
func NewUpdateStreakHandler(
	stats progression.Repository,
	sink leaderboard.Sink,
	events shared.EventPublisher,
	config UpdateStreakHandlerConfig,
	logger *slog.Logger,
) *UpdateStreakHandler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if sink == nil {
		sink = leaderboard.NopSink{}
	}
	if events == nil {
		events = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateStreakHandler{
		stats:    stats,
		sink:     sink,
		events:   events,
		location: config.Location,
		now:      config.Now,
		logger:   logger.With("handler", "update_streak"),
	}
}

// Handle executes the streak update.
func (h *UpdateStreakHandler) Handle(ctx context.Context, cmd UpdateStreakCommand) (*UpdateStreakResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("update_streak: validation failed: %w", err)
	}

	today := timeutil.DateIn(h.now(), h.location)

	var (
		before     progression.Streak
		transition progression.Transition
	)
	after, err := h.stats.UpdateStreak(ctx, cmd.UserID, func(current progression.Streak) (progression.Streak, bool) {
		before = current
		next, tr := current.Advance(today)
		transition = tr
		return next, tr.Changed()
	})
	if err != nil {
		return nil, fmt.Errorf("update_streak: %w", err)
	}

	result := &UpdateStreakResult{
		CurrentStreak: after.Current,
		LongestStreak: after.Longest,
		LastActive:    after.LastActive,
		Transition:    transition,
	}

	switch transition {
	case progression.TransitionReset:
		result.Events = append(result.Events,
			shared.NewStreakBrokenEvent(cmd.UserID, before.Current, before.DaysMissed(today)))
		fallthrough
	case progression.TransitionStarted, progression.TransitionContinued:
		result.Events = append(result.Events,
			shared.NewStreakUpdatedEvent(cmd.UserID, after.Current, after.Longest))
	case progression.TransitionClockSkew:
		h.logger.Warn("streak date is ahead of today, ignoring",
			"user_id", cmd.UserID,
			"last_active", before.LastActive.Format(timeutil.DateLayout),
			"today", today.Format(timeutil.DateLayout),
		)
	}

	if transition.Changed() {
		if err := h.sink.RecordStreak(ctx, cmd.UserID, after.Current, after.Longest); err != nil {
			h.logger.Warn("failed to update leaderboard cache",
				"user_id", cmd.UserID,
				"error", err,
			)
		}
	}

	for _, e := range result.Events {
		if err := h.events.Publish(e); err != nil {
			h.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
		}
	}

	h.logger.Debug("streak updated",
		"user_id", cmd.UserID,
		"transition", transition,
		"current", after.Current,
		"longest", after.Longest,
	)

	return result, nil
}
