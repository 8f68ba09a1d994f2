// Package level holds the static level table and the pure XP -> level lookup.
//
// The table is the ground truth for every correctness-sensitive decision
// (for example whether an award levelled a user up). The level stored next
// to a user's XP is only a display cache and can always be re-derived with Of.
package level

import "sort"

// Level is a single tier of the progression table.
type Level struct {
	// Number is the 1-based tier number.
	Number int `json:"number"`

	// XPRequired is the minimum total XP needed to reach this tier.
	XPRequired int64 `json:"xp_required"`

	// Title is the display title.
	Title string `json:"title"`

	// Color is a hex display color.
	Color string `json:"color"`
}

const (
	// MinLevel is the tier every user starts at.
	MinLevel = 1

	// MaxLevel is the last tier; there is no progression past it.
	MaxLevel = 20
)

// table is ordered by ascending XPRequired. The first tier starts at 0 so
// that Of is total over non-negative XP.
var table = [MaxLevel]Level{
	{Number: 1, XPRequired: 0, Title: "Newcomer", Color: "#9CA3AF"},
	{Number: 2, XPRequired: 100, Title: "Apprentice", Color: "#A3A3A3"},
	{Number: 3, XPRequired: 250, Title: "Tinkerer", Color: "#84CC16"},
	{Number: 4, XPRequired: 500, Title: "Scripter", Color: "#22C55E"},
	{Number: 5, XPRequired: 850, Title: "Coder", Color: "#10B981"},
	{Number: 6, XPRequired: 1300, Title: "Problem Solver", Color: "#14B8A6"},
	{Number: 7, XPRequired: 1900, Title: "Debugger", Color: "#06B6D4"},
	{Number: 8, XPRequired: 2650, Title: "Builder", Color: "#0EA5E9"},
	{Number: 9, XPRequired: 3550, Title: "Engineer", Color: "#3B82F6"},
	{Number: 10, XPRequired: 4600, Title: "Specialist", Color: "#6366F1"},
	{Number: 11, XPRequired: 5850, Title: "Architect", Color: "#8B5CF6"},
	{Number: 12, XPRequired: 7300, Title: "Optimizer", Color: "#A855F7"},
	{Number: 13, XPRequired: 9000, Title: "Algorithmist", Color: "#D946EF"},
	{Number: 14, XPRequired: 11000, Title: "Veteran", Color: "#EC4899"},
	{Number: 15, XPRequired: 13500, Title: "Expert", Color: "#F43F5E"},
	{Number: 16, XPRequired: 16500, Title: "Master", Color: "#EF4444"},
	{Number: 17, XPRequired: 20000, Title: "Grandmaster", Color: "#F97316"},
	{Number: 18, XPRequired: 24500, Title: "Sage", Color: "#F59E0B"},
	{Number: 19, XPRequired: 30000, Title: "Legend", Color: "#EAB308"},
	{Number: 20, XPRequired: 37000, Title: "Mythic", Color: "#FACC15"},
}

// Of returns the tier with the largest XPRequired not exceeding xp.
// Negative xp maps to the first tier.
func Of(xp int64) Level {
	// First index whose threshold exceeds xp; the tier before it is ours.
	i := sort.Search(len(table), func(i int) bool { return table[i].XPRequired > xp })
	if i == 0 {
		return table[0]
	}
	return table[i-1]
}

// Get returns tier n, if it exists.
func Get(n int) (Level, bool) {
	if n < MinLevel || n > MaxLevel {
		return Level{}, false
	}
	return table[n-1], true
}

// All returns a copy of the full table.
func All() []Level {
	out := make([]Level, len(table))
	copy(out, table[:])
	return out
}

// XPForNextLevel returns the threshold of tier n+1, or the threshold of the
// top tier when n is already the top.
func XPForNextLevel(n int) int64 {
	if n < MinLevel {
		n = MinLevel
	}
	if n >= MaxLevel {
		return table[MaxLevel-1].XPRequired
	}
	return table[n].XPRequired
}

// Info is a display projection of a user's position in the table.
type Info struct {
	Level

	// NextLevelXP is the threshold of the next tier (the top threshold at max level).
	NextLevelXP int64 `json:"next_level_xp"`

	// Progress is the percentage (0-100) travelled from the current tier to the next.
	Progress int `json:"progress"`

	// IsMax reports whether the user is at the top tier.
	IsMax bool `json:"is_max"`
}

// InfoFor builds the display projection for xp.
func InfoFor(xp int64) Info {
	current := Of(xp)
	info := Info{
		Level:       current,
		NextLevelXP: XPForNextLevel(current.Number),
		IsMax:       current.Number == MaxLevel,
	}

	if info.IsMax {
		info.Progress = 100
		return info
	}

	span := info.NextLevelXP - current.XPRequired
	gained := xp - current.XPRequired
	progress := int(gained * 100 / span)
	if progress > 100 {
		progress = 100
	}
	if progress < 0 {
		progress = 0
	}
	info.Progress = progress
	return info
}
