package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK ACHIEVEMENTS COMMAND
// Re-evaluates the checks registered for a trigger and records the newly
// satisfied ones. It never touches XP: the caller funnels the rewards through
// AwardXPHandler.
// ══════════════════════════════════════════════════════════════════════════════

// CheckAchievementsCommand asks for a re-evaluation.
type CheckAchievementsCommand struct {
	UserID  shared.UserID
	Trigger achievement.Trigger
}

// Validate validates the command.
func (c CheckAchievementsCommand) Validate() error {
	if c.UserID == (shared.UserID{}) {
		return shared.ErrInvalidUserID
	}
	if !c.Trigger.IsValid() {
		return shared.ErrUnknownTrigger
	}
	return nil
}

// UnlockedAchievement is what callers show for a fresh unlock.
type UnlockedAchievement struct {
	Slug        string             `json:"slug"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Icon        string             `json:"icon"`
	XPReward    int                `json:"xp_reward"`
	Rarity      achievement.Rarity `json:"rarity"`
}

// CheckAchievementsResult lists this call's unlocks.
type CheckAchievementsResult struct {
	Unlocked []UnlockedAchievement `json:"unlocked"`

	// BonusXP is the summed reward of Unlocked.
	BonusXP int64 `json:"bonus_xp"`

	Events []shared.Event `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CheckAchievementsHandler handles CheckAchievementsCommand.
type CheckAchievementsHandler struct {
	evaluator *achievement.Evaluator
	events    shared.EventPublisher
	logger    *slog.Logger
}

// NewCheckAchievementsHandler creates a new CheckAchievementsHandler.
func NewCheckAchievementsHandler(
	evaluator *achievement.Evaluator,
	events shared.EventPublisher,
	logger *slog.Logger,
) *CheckAchievementsHandler {
	if events == nil {
		events = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckAchievementsHandler{
		evaluator: evaluator,
		events:    events,
		logger:    logger.With("handler", "check_achievements"),
	}
}

// Handle evaluates the trigger. On error the result still carries every
// unlock committed before the failure; those rows are permanent.
func (h *CheckAchievementsHandler) Handle(ctx context.Context, cmd CheckAchievementsCommand) (*CheckAchievementsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("check_achievements: validation failed: %w", err)
	}

	eval, evalErr := h.evaluator.Evaluate(ctx, cmd.UserID, cmd.Trigger)

	result := &CheckAchievementsResult{Unlocked: []UnlockedAchievement{}}
	if eval != nil {
		for _, slug := range eval.Missing {
			h.logger.Warn("registered check has no catalog entry, skipping",
				"slug", slug,
				"trigger", cmd.Trigger,
			)
		}

		for _, a := range eval.Unlocked {
			result.Unlocked = append(result.Unlocked, UnlockedAchievement{
				Slug:        a.Slug,
				Name:        a.Name,
				Description: a.Description,
				Icon:        a.Icon,
				XPReward:    a.XPReward,
				Rarity:      a.Rarity,
			})
			result.Events = append(result.Events,
				shared.NewAchievementUnlockedEvent(cmd.UserID, a.Slug, string(a.Rarity), a.XPReward))
		}
		result.BonusXP = achievement.TotalReward(eval.Unlocked)
	}

	for _, e := range result.Events {
		if err := h.events.Publish(e); err != nil {
			h.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
		}
	}

	if evalErr != nil {
		h.logger.Error("achievement evaluation aborted",
			"user_id", cmd.UserID,
			"trigger", cmd.Trigger,
			"committed", len(result.Unlocked),
			"error", evalErr,
		)
		return result, fmt.Errorf("check_achievements: %w", evalErr)
	}

	if len(result.Unlocked) > 0 {
		h.logger.Info("achievements unlocked",
			"user_id", cmd.UserID,
			"trigger", cmd.Trigger,
			"count", len(result.Unlocked),
			"bonus_xp", result.BonusXP,
		)
	}

	return result, nil
}
