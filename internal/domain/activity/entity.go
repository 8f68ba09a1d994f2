// Package activity contains the completion ledger read model used for the
// yearly heatmap. Completions are written by the challenge subsystem; the
// engine only reads them.
package activity

import (
	"context"
	"time"

	"github.com/codequest/progression/internal/domain/shared"
)

const (
	// MinYear and MaxYear bound heatmap requests.
	MinYear = 2000
	MaxYear = 9999
)

// ValidateYear rejects years outside [MinYear, MaxYear].
func ValidateYear(year int) error {
	if year < MinYear || year > MaxYear {
		return shared.ErrInvalidYear
	}
	return nil
}

// Completion is one challenge completion.
type Completion struct {
	UserID      shared.UserID
	ChallengeID string
	Difficulty  shared.Difficulty
	CompletedAt time.Time
}

// Heatmap maps YYYY-MM-DD to the number of completions on that date.
type Heatmap map[string]int

// Total sums every day.
func (h Heatmap) Total() int {
	n := 0
	for _, c := range h {
		n += c
	}
	return n
}

// HeatmapReader aggregates completions by completion date.
type HeatmapReader interface {
	// CompletionHeatmap groups the user's completions with completed_at in
	// [from, to) by calendar date in loc.
	CompletionHeatmap(ctx context.Context, userID shared.UserID, from, to time.Time, loc *time.Location) (Heatmap, error)
}

// Claim is the ledger state of a (user, challenge) pair.
type Claim int

const (
	// ClaimNew - first time the pair is recorded.
	ClaimNew Claim = iota

	// ClaimPending - recorded by an earlier attempt that did not finish paying.
	ClaimPending

	// ClaimSettled - rewards for the pair were paid.
	ClaimSettled
)

// CompletionLedger records completions when the engine is the one receiving
// the completion event. A pair stays pending until its rewards are settled,
// so a failed attempt can be resumed.
type CompletionLedger interface {
	// ClaimCompletion records c once per (user, challenge) and reports the
	// state the pair was in.
	ClaimCompletion(ctx context.Context, c Completion) (Claim, error)

	// SettleCompletion marks the pair as paid.
	SettleCompletion(ctx context.Context, userID shared.UserID, challengeID string) error
}
