// Package timeutil provides calendar-date utilities for the progression engine.
// Streaks and heatmaps are counted in whole calendar days of a configured
// location, so every day boundary in the engine goes through this package.
// No external dependencies - uses only standard library.
package timeutil

import (
	"time"
)

// DateLayout is the canonical date-only layout used for keys and logs.
const DateLayout = "2006-01-02"

// LoadLocation resolves an IANA zone name, falling back to UTC for an empty
// or unknown name.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DateIn returns the calendar date of t as observed in loc, represented as
// midnight UTC. Dates in this form compare and subtract exactly.
func DateIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Date normalises a date-only value (such as a scanned DATE column) to
// midnight UTC without shifting its calendar day.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from `from` to `to`.
// The result is negative when `to` is before `from`.
func DaysBetween(from, to time.Time) int {
	a := Date(from)
	b := Date(to)
	return int(b.Sub(a).Hours() / 24)
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// YearBounds returns the half-open interval [start, end) covering the
// calendar year in loc.
func YearBounds(year int, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(1, 0, 0)
}

// DateKey formats the calendar date of t in loc as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	return DateIn(t, loc).Format(DateLayout)
}
