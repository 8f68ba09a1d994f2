package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateIn_UsesLocationCalendar(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)

	// 21:00 UTC on March 1st is already March 2nd in Almaty.
	instant := time.Date(2024, time.March, 1, 21, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC), DateIn(instant, almaty))
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), DateIn(instant, time.UTC))
	assert.Equal(t, DateIn(instant, time.UTC), DateIn(instant, nil))
}

func TestDaysBetween(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, time.February, d, 0, 0, 0, 0, time.UTC) }

	assert.Equal(t, 0, DaysBetween(day(10), day(10)))
	assert.Equal(t, 1, DaysBetween(day(10), day(11)))
	assert.Equal(t, 3, DaysBetween(day(10), day(13)))
	assert.Equal(t, -1, DaysBetween(day(11), day(10)))

	// Leap day and month boundary.
	assert.Equal(t, 2, DaysBetween(day(28), time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDaysBetween_IgnoresTimeOfDay(t *testing.T) {
	a := time.Date(2024, time.May, 1, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, time.May, 2, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysBetween(a, b))
}

func TestYearBounds(t *testing.T) {
	start, end := YearBounds(2024, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestDateKey(t *testing.T) {
	assert.Equal(t, "2024-03-01", DateKey(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), time.UTC))
}

func TestLoadLocation_FallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation(""))
	assert.Equal(t, time.UTC, LoadLocation("Not/AZone"))
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("X", -3*60*60)
	got := StartOfDay(time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC), loc)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, loc), got)
}
