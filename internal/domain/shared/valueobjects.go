// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies a user. Users are owned by the auth subsystem; the engine
// only ever sees their UUID.
type UserID = uuid.UUID

// ParseUserID parses a textual UUID into a UserID.
func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, WrapError("shared", "ParseUserID", ErrInvalidID, "invalid user ID format", err)
	}
	if id == uuid.Nil {
		return uuid.Nil, ErrInvalidUserID
	}
	return id, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Difficulty Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Difficulty is the difficulty tier of a challenge.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "BEGINNER"
	DifficultyIntermediate Difficulty = "INTERMEDIATE"
	DifficultyAdvanced     Difficulty = "ADVANCED"
	DifficultyExpert       Difficulty = "EXPERT"
)

// AllDifficulties lists every difficulty in ascending order.
var AllDifficulties = []Difficulty{
	DifficultyBeginner,
	DifficultyIntermediate,
	DifficultyAdvanced,
	DifficultyExpert,
}

// IsValid reports whether d is a known difficulty.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced, DifficultyExpert:
		return true
	}
	return false
}

// BaseXP returns the XP granted for completing a challenge of this difficulty.
func (d Difficulty) BaseXP() int64 {
	switch d {
	case DifficultyBeginner:
		return 10
	case DifficultyIntermediate:
		return 25
	case DifficultyAdvanced:
		return 50
	case DifficultyExpert:
		return 100
	default:
		return 0
	}
}

// ParseDifficulty parses a difficulty name, case-insensitively.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToUpper(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", ErrUnknownDifficulty
	}
	return d, nil
}
