// Package leaderboard contains the read model of the global ranking.
// Rankings are projections of UserStats and are never written directly.
package leaderboard

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank is a 1-based position in the leaderboard.
type Rank int

// IsValid reports whether the rank is positive.
func (r Rank) IsValid() bool {
	return r > 0
}

// String renders the rank as "#N".
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// SortBy selects the ranking key.
type SortBy string

const (
	SortByXP     SortBy = "xp"
	SortByStreak SortBy = "streak"
)

// IsValid reports whether s is a known sort key.
func (s SortBy) IsValid() bool {
	return s == SortByXP || s == SortByStreak
}

// ParseSortBy parses a sort key. The empty string selects xp.
func ParseSortBy(s string) (SortBy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SortByXP, nil
	}
	key := SortBy(s)
	if !key.IsValid() {
		return "", shared.ErrUnknownSortKey
	}
	return key, nil
}

const (
	// DefaultLimit is used when the caller passes 0.
	DefaultLimit = 10

	// MaxLimit caps a single page.
	MaxLimit = 100
)

// NormalizeLimit applies the default and the cap. Negative limits are rejected.
func NormalizeLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, shared.ErrInvalidLimit
	case limit == 0:
		return DefaultLimit, nil
	case limit > MaxLimit:
		return MaxLimit, nil
	}
	return limit, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one ranked row.
type Entry struct {
	Rank          Rank          `json:"rank"`
	UserID        shared.UserID `json:"user_id"`
	XP            int64         `json:"xp"`
	Level         int           `json:"level"`
	CurrentStreak int           `json:"current_streak"`
	LongestStreak int           `json:"longest_streak"`
}

// Score returns the value the entry is ranked by.
func (e Entry) Score(by SortBy) int64 {
	if by == SortByStreak {
		return int64(e.CurrentStreak)
	}
	return e.XP
}

// Sort orders entries descending by score with user_id descending as the tie
// break, then assigns ranks. This is the same order a sorted set returns from
// a reverse range, so cached and uncached reads agree.
func Sort(entries []Entry, by SortBy) {
	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := entries[i].Score(by), entries[j].Score(by)
		if si != sj {
			return si > sj
		}
		return bytes.Compare(entries[i].UserID[:], entries[j].UserID[:]) > 0
	})
	for i := range entries {
		entries[i].Rank = Rank(i + 1)
	}
}
