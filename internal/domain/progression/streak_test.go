package progression

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codequest/progression/pkg/timeutil"
)

var today = time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return today.AddDate(0, 0, -n)
}

func TestAdvance_FirstActivity(t *testing.T) {
	next, tr := Streak{}.Advance(today)

	assert.Equal(t, TransitionStarted, tr)
	assert.Equal(t, Streak{Current: 1, Longest: 1, LastActive: today}, next)
	assert.True(t, tr.Changed())
}

func TestAdvance_SameDayIsNoop(t *testing.T) {
	s := Streak{Current: 4, Longest: 9, LastActive: today}

	next, tr := s.Advance(today)

	assert.Equal(t, TransitionSameDay, tr)
	assert.Equal(t, s, next)
	assert.False(t, tr.Changed())
}

func TestAdvance_SameDayIgnoresTimeOfDay(t *testing.T) {
	s := Streak{Current: 2, Longest: 2, LastActive: today}

	_, tr := s.Advance(today.Add(23 * time.Hour))

	assert.Equal(t, TransitionSameDay, tr)
}

func TestAdvance_Continuation(t *testing.T) {
	s := Streak{Current: 5, Longest: 5, LastActive: daysAgo(1)}

	next, tr := s.Advance(today)

	assert.Equal(t, TransitionContinued, tr)
	assert.Equal(t, 6, next.Current)
	assert.Equal(t, 6, next.Longest)
	assert.Equal(t, today, next.LastActive)
}

func TestAdvance_ContinuationBelowBest(t *testing.T) {
	s := Streak{Current: 2, Longest: 10, LastActive: daysAgo(1)}

	next, _ := s.Advance(today)

	assert.Equal(t, 3, next.Current)
	assert.Equal(t, 10, next.Longest)
}

func TestAdvance_GapResets(t *testing.T) {
	s := Streak{Current: 5, Longest: 5, LastActive: daysAgo(3)}

	next, tr := s.Advance(today)

	assert.Equal(t, TransitionReset, tr)
	assert.Equal(t, 1, next.Current)
	assert.Equal(t, 5, next.Longest)
	assert.Equal(t, today, next.LastActive)
	assert.Equal(t, 2, s.DaysMissed(today))
}

func TestAdvance_TwoDayGapResets(t *testing.T) {
	s := Streak{Current: 3, Longest: 3, LastActive: daysAgo(2)}

	next, tr := s.Advance(today)

	assert.Equal(t, TransitionReset, tr)
	assert.Equal(t, 1, next.Current)
}

func TestAdvance_ClockSkewIsNoop(t *testing.T) {
	s := Streak{Current: 3, Longest: 4, LastActive: today.AddDate(0, 0, 2)}

	next, tr := s.Advance(today)

	assert.Equal(t, TransitionClockSkew, tr)
	assert.Equal(t, s, next)
	assert.False(t, tr.Changed())
}

func TestAdvance_KeepsCurrentNotAboveLongest(t *testing.T) {
	s := Streak{}
	day := today
	for i := 0; i < 40; i++ {
		if i == 12 || i == 25 {
			day = day.AddDate(0, 0, 3)
		}
		s, _ = s.Advance(day)
		assert.LessOrEqual(t, s.Current, s.Longest)
		day = day.AddDate(0, 0, 1)
	}
}

func TestUserStats_LevelStaleness(t *testing.T) {
	s := NewUserStats(uuid.New())
	assert.Equal(t, 1, s.Level)
	assert.False(t, s.IsLevelStale())

	s.XP = 300
	assert.True(t, s.IsLevelStale())
	assert.Equal(t, 3, s.DerivedLevel().Number)
}

func TestAdvance_LastActiveIsLocalDate(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Almaty")
	require.NoError(t, err)

	// 01:30 on March 11 in Almaty is still March 10 in UTC.
	now := time.Date(2024, time.March, 11, 1, 30, 0, 0, loc)
	s := Streak{Current: 1, Longest: 1, LastActive: today}

	next, tr := s.Advance(timeutil.DateIn(now, loc))
	assert.Equal(t, TransitionContinued, tr)
	assert.Equal(t, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), next.LastActive)

	_, tr = next.Advance(timeutil.DateIn(now.Add(time.Hour), loc))
	assert.Equal(t, TransitionSameDay, tr)
}
