// Package achievement contains the achievement catalog model, the registry of
// unlock conditions grouped by trigger, and the evaluator that records
// one-time unlocks.
package achievement

import (
	"strings"
	"time"

	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RARITY
// ══════════════════════════════════════════════════════════════════════════════

// Rarity is the display rarity of an achievement.
type Rarity string

const (
	RarityCommon    Rarity = "COMMON"
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
)

// IsValid reports whether r is a known rarity.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// ParseRarity parses a rarity name, case-insensitively.
func ParseRarity(s string) (Rarity, error) {
	r := Rarity(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", shared.ErrUnknownRarity
	}
	return r, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGER
// ══════════════════════════════════════════════════════════════════════════════

// Trigger is the category of user action that causes a subset of checks to
// be re-evaluated. The set is closed.
type Trigger string

const (
	TriggerChallengeComplete Trigger = "challenge_complete"
	TriggerChallengePublish  Trigger = "challenge_publish"
	TriggerLikeReceived      Trigger = "like_received"
	TriggerForkReceived      Trigger = "fork_received"
)

// AllTriggers lists every trigger category.
var AllTriggers = []Trigger{
	TriggerChallengeComplete,
	TriggerChallengePublish,
	TriggerLikeReceived,
	TriggerForkReceived,
}

// IsValid reports whether t is one of the known triggers.
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerChallengeComplete, TriggerChallengePublish, TriggerLikeReceived, TriggerForkReceived:
		return true
	}
	return false
}

// ParseTrigger parses a trigger name. Unknown names are a validation error.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.ErrUnknownTrigger
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Achievement is a catalog entry. The catalog is seeded externally and is
// read-only to the evaluator.
type Achievement struct {
	ID          string
	Slug        string
	Name        string
	Description string
	Icon        string
	XPReward    int
	Rarity      Rarity
	Trigger     Trigger
}

// Validate checks the catalog entry before it is seeded.
func (a *Achievement) Validate() error {
	if strings.TrimSpace(a.Slug) == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidInput, "slug is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidInput, "name is required")
	}
	if a.XPReward < 0 {
		return shared.NewDomainError("achievement", "Validate", shared.ErrNegativeValue, "xp reward cannot be negative")
	}
	if !a.Rarity.IsValid() {
		return shared.ErrUnknownRarity
	}
	if !a.Trigger.IsValid() {
		return shared.ErrUnknownTrigger
	}
	return nil
}

// Unlock is the immutable record of a user earning an achievement.
type Unlock struct {
	UserID        shared.UserID
	AchievementID string
	UnlockedAt    time.Time
}

// Unlocked is an achievement joined with the time the user earned it.
type Unlocked struct {
	Achievement
	UnlockedAt time.Time
}

// TotalReward sums the xp rewards of the given achievements.
func TotalReward(list []Achievement) int64 {
	var total int64
	for _, a := range list {
		total += int64(a.XPReward)
	}
	return total
}
