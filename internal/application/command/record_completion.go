package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/activity"
	"github.com/codequest/progression/internal/domain/level"
	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION COMMAND
// The full completion flow: base XP, streak, achievements, then one award for
// the summed achievement bonus.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionCommand reports that a user completed a challenge.
type RecordCompletionCommand struct {
	UserID     shared.UserID
	Difficulty shared.Difficulty

	// ChallengeID, when set and a ledger is configured, is claimed in the
	// completion ledger first and settled once every reward is paid. A settled
	// (user, challenge) pair is not paid again; a pending one resumes.
	ChallengeID string

	// CompletedAt defaults to now.
	CompletedAt time.Time
}

// Validate validates the command.
func (c RecordCompletionCommand) Validate() error {
	if c.UserID == (shared.UserID{}) {
		return shared.ErrInvalidUserID
	}
	if !c.Difficulty.IsValid() {
		return shared.ErrUnknownDifficulty
	}
	return nil
}

// RecordCompletionResult sums everything one completion produced.
type RecordCompletionResult struct {
	// AlreadyRecorded is true when the ledger already held this completion
	// as settled.
	AlreadyRecorded bool `json:"already_recorded,omitempty"`

	// Resumed is true when an earlier attempt claimed the completion but did
	// not finish paying it.
	Resumed bool `json:"resumed,omitempty"`

	BaseXP   int64 `json:"base_xp"`
	BonusXP  int64 `json:"bonus_xp"`
	XPGained int64 `json:"xp_gained"`

	XP        int64      `json:"xp"`
	Level     int        `json:"level"`
	LevelInfo level.Info `json:"level_info"`
	LeveledUp bool       `json:"leveled_up"`

	Streak *UpdateStreakResult `json:"streak,omitempty"`

	Unlocked []UnlockedAchievement `json:"unlocked"`

	// Degraded is set when achievement evaluation failed part way. Base XP,
	// streak and the bonus for already-committed unlocks still stand; the
	// next trigger re-detects anything missed.
	Degraded bool `json:"degraded,omitempty"`

	Events []shared.Event `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionHandler handles RecordCompletionCommand.
type RecordCompletionHandler struct {
	awardXP      *AwardXPHandler
	updateStreak *UpdateStreakHandler
	achievements *CheckAchievementsHandler
	ledger       activity.CompletionLedger
	logger       *slog.Logger
}

// NewRecordCompletionHandler creates a new RecordCompletionHandler. ledger may be nil.
func NewRecordCompletionHandler(
	awardXP *AwardXPHandler,
	updateStreak *UpdateStreakHandler,
	achievements *CheckAchievementsHandler,
	ledger activity.CompletionLedger,
	logger *slog.Logger,
) *RecordCompletionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordCompletionHandler{
		awardXP:      awardXP,
		updateStreak: updateStreak,
		achievements: achievements,
		ledger:       ledger,
		logger:       logger.With("handler", "record_completion"),
	}
}

// Handle executes the completion flow.
func (h *RecordCompletionHandler) Handle(ctx context.Context, cmd RecordCompletionCommand) (*RecordCompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_completion: validation failed: %w", err)
	}

	result := &RecordCompletionResult{Unlocked: []UnlockedAchievement{}}

	settle := h.ledger != nil && cmd.ChallengeID != ""
	baseKey := ""
	if settle {
		completedAt := cmd.CompletedAt
		if completedAt.IsZero() {
			completedAt = time.Now().UTC()
		}
		claim, err := h.ledger.ClaimCompletion(ctx, activity.Completion{
			UserID:      cmd.UserID,
			ChallengeID: cmd.ChallengeID,
			Difficulty:  cmd.Difficulty,
			CompletedAt: completedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("record_completion: claim completion: %w", err)
		}
		switch claim {
		case activity.ClaimSettled:
			result.AlreadyRecorded = true
			h.logger.Debug("completion already recorded",
				"user_id", cmd.UserID,
				"challenge_id", cmd.ChallengeID,
			)
			return result, nil
		case activity.ClaimPending:
			result.Resumed = true
			h.logger.Info("resuming unsettled completion",
				"user_id", cmd.UserID,
				"challenge_id", cmd.ChallengeID,
			)
		}
		// Base XP is paid once per completion however often the flow reruns.
		baseKey = "completion:" + cmd.ChallengeID
	}

	// Base XP
	award, err := h.awardXP.Handle(ctx, AwardXPCommand{
		UserID: cmd.UserID,
		Amount: cmd.Difficulty.BaseXP(),
		Reason: "challenge_complete:" + string(cmd.Difficulty),
		Key:    baseKey,
	})
	if err != nil {
		return nil, fmt.Errorf("record_completion: %w", err)
	}
	if !award.Replayed {
		result.BaseXP = cmd.Difficulty.BaseXP()
	}
	h.apply(result, award)

	// Streak
	streak, err := h.updateStreak.Handle(ctx, UpdateStreakCommand{UserID: cmd.UserID})
	if err != nil {
		return nil, fmt.Errorf("record_completion: %w", err)
	}
	result.Streak = streak
	result.Events = append(result.Events, streak.Events...)

	// Achievements
	checked, err := h.achievements.Handle(ctx, CheckAchievementsCommand{
		UserID:  cmd.UserID,
		Trigger: achievement.TriggerChallengeComplete,
	})
	if err != nil {
		if checked == nil || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("record_completion: %w", err)
		}
		result.Degraded = true
		h.logger.Warn("achievement evaluation degraded",
			"user_id", cmd.UserID,
			"committed", len(checked.Unlocked),
			"error", err,
		)
	}
	result.Unlocked = checked.Unlocked
	result.Events = append(result.Events, checked.Events...)

	// Bonus
	if checked.BonusXP > 0 {
		bonus, err := h.awardXP.Handle(ctx, AwardXPCommand{
			UserID: cmd.UserID,
			Amount: checked.BonusXP,
			Reason: "achievement_bonus",
		})
		if err != nil {
			return nil, fmt.Errorf("record_completion: bonus: %w", err)
		}
		result.BonusXP = checked.BonusXP
		h.apply(result, bonus)
	}

	// Everything above is committed; a pair left unsettled here only makes a
	// later retry replay the steps above as no-ops.
	if settle {
		if err := h.ledger.SettleCompletion(ctx, cmd.UserID, cmd.ChallengeID); err != nil {
			h.logger.Warn("failed to settle completion",
				"user_id", cmd.UserID,
				"challenge_id", cmd.ChallengeID,
				"error", err,
			)
		}
	}

	return result, nil
}

func (h *RecordCompletionHandler) apply(result *RecordCompletionResult, award *AwardXPResult) {
	result.XPGained = result.BaseXP + result.BonusXP
	result.XP = award.XP
	result.Level = award.Level
	result.LevelInfo = award.LevelInfo
	result.LeveledUp = result.LeveledUp || award.LeveledUp
	result.Events = append(result.Events, award.Events...)
}
