package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROCESS TRIGGER COMMAND
// Social triggers (publish, like, fork) grant no base XP; they only re-run
// their achievement checks and pay the bonus.
// ══════════════════════════════════════════════════════════════════════════════

// ProcessTriggerCommand reports a non-completion action.
type ProcessTriggerCommand struct {
	// UserID is the user who receives credit: the author for likes and forks.
	UserID  shared.UserID
	Trigger achievement.Trigger
}

// Validate validates the command.
func (c ProcessTriggerCommand) Validate() error {
	if c.UserID == (shared.UserID{}) {
		return shared.ErrInvalidUserID
	}
	if !c.Trigger.IsValid() {
		return shared.ErrUnknownTrigger
	}
	return nil
}

// ProcessTriggerResult is the outcome of the trigger.
type ProcessTriggerResult struct {
	Unlocked []UnlockedAchievement `json:"unlocked"`
	BonusXP  int64                 `json:"bonus_xp"`

	// Award is nil when nothing was unlocked.
	Award *AwardXPResult `json:"award,omitempty"`

	Degraded bool `json:"degraded,omitempty"`

	Events []shared.Event `json:"-"`
}

// ProcessTriggerHandler handles ProcessTriggerCommand.
type ProcessTriggerHandler struct {
	awardXP      *AwardXPHandler
	achievements *CheckAchievementsHandler
	logger       *slog.Logger
}

// NewProcessTriggerHandler creates a new ProcessTriggerHandler.
func NewProcessTriggerHandler(
	awardXP *AwardXPHandler,
	achievements *CheckAchievementsHandler,
	logger *slog.Logger,
) *ProcessTriggerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessTriggerHandler{
		awardXP:      awardXP,
		achievements: achievements,
		logger:       logger.With("handler", "process_trigger"),
	}
}

// Handle executes the trigger.
func (h *ProcessTriggerHandler) Handle(ctx context.Context, cmd ProcessTriggerCommand) (*ProcessTriggerResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("process_trigger: validation failed: %w", err)
	}

	checked, err := h.achievements.Handle(ctx, CheckAchievementsCommand{
		UserID:  cmd.UserID,
		Trigger: cmd.Trigger,
	})
	if checked == nil || errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("process_trigger: %w", err)
	}

	result := &ProcessTriggerResult{
		Unlocked: checked.Unlocked,
		BonusXP:  checked.BonusXP,
		Events:   checked.Events,
		Degraded: err != nil,
	}
	if err != nil {
		h.logger.Warn("achievement evaluation degraded",
			"user_id", cmd.UserID,
			"trigger", cmd.Trigger,
			"error", err,
		)
	}

	if checked.BonusXP > 0 {
		award, err := h.awardXP.Handle(ctx, AwardXPCommand{
			UserID: cmd.UserID,
			Amount: checked.BonusXP,
			Reason: "achievement_bonus",
		})
		if err != nil {
			return nil, fmt.Errorf("process_trigger: bonus: %w", err)
		}
		result.Award = award
		result.Events = append(result.Events, award.Events...)
	}

	return result, nil
}
