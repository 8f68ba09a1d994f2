package achievement

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codequest/progression/internal/domain/shared"
)

func TestRegistry_RejectsDuplicateSlug(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(TriggerChallengeComplete, "first-step", CompletionsAtLeast(1)))

	err := r.Register(TriggerLikeReceived, "first-step", LikesAtLeast(1))

	assert.True(t, shared.IsAlreadyExists(err))
	assert.Len(t, r.ChecksFor(TriggerLikeReceived), 0)
}

func TestRegistry_RejectsUnknownTrigger(t *testing.T) {
	err := NewRegistry().Register(Trigger("nope"), "x", CompletionsAtLeast(1))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestDefaultRegistry_Shape(t *testing.T) {
	r := DefaultRegistry()

	assert.Len(t, r.ChecksFor(TriggerChallengeComplete), 13)
	assert.Len(t, r.ChecksFor(TriggerChallengePublish), 1)
	assert.Len(t, r.ChecksFor(TriggerLikeReceived), 1)
	assert.Len(t, r.ChecksFor(TriggerForkReceived), 1)
	assert.Len(t, r.Slugs(), 16)
}

func TestParseTrigger(t *testing.T) {
	tr, err := ParseTrigger(" Challenge_Complete ")
	require.NoError(t, err)
	assert.Equal(t, TriggerChallengeComplete, tr)

	_, err = ParseTrigger("comment_posted")
	assert.True(t, shared.IsValidation(err))
}

func TestPathConditions(t *testing.T) {
	ctx := context.Background()
	sheet := func(paths ...PathProgress) *FactSheet {
		return NewFactSheet(uuid.New(), &fakeFacts{paths: paths})
	}

	tests := []struct {
		name    string
		paths   []PathProgress
		wantAny bool
		wantAll bool
	}{
		{"no paths", nil, false, false},
		{"one partial", []PathProgress{{PathID: "a", Total: 3, Completed: 2}}, false, false},
		{"one of two complete", []PathProgress{{PathID: "a", Total: 3, Completed: 3}, {PathID: "b", Total: 2}}, true, false},
		{"all complete", []PathProgress{{PathID: "a", Total: 3, Completed: 3}, {PathID: "b", Total: 2, Completed: 2}}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anyOK, err := AnyPathComplete()(ctx, sheet(tt.paths...))
			require.NoError(t, err)
			allOK, err := AllPathsComplete()(ctx, sheet(tt.paths...))
			require.NoError(t, err)

			assert.Equal(t, tt.wantAny, anyOK)
			assert.Equal(t, tt.wantAll, allOK)
		})
	}
}

func TestAllDifficultiesCondition(t *testing.T) {
	ctx := context.Background()
	partial := NewFactSheet(uuid.New(), &fakeFacts{byDifficulty: map[shared.Difficulty]int{
		shared.DifficultyBeginner: 3, shared.DifficultyIntermediate: 1, shared.DifficultyAdvanced: 1,
	}})
	full := NewFactSheet(uuid.New(), &fakeFacts{byDifficulty: map[shared.Difficulty]int{
		shared.DifficultyBeginner: 1, shared.DifficultyIntermediate: 1, shared.DifficultyAdvanced: 1, shared.DifficultyExpert: 1,
	}})

	ok, err := AllDifficulties()(ctx, partial)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = AllDifficulties()(ctx, full)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAchievementValidate(t *testing.T) {
	a := Achievement{Slug: "x", Name: "X", XPReward: 10, Rarity: RarityRare, Trigger: TriggerForkReceived}
	assert.NoError(t, a.Validate())

	a.XPReward = -1
	assert.ErrorIs(t, a.Validate(), shared.ErrNegativeValue)

	a.XPReward = 1
	a.Rarity = "MYTHIC"
	assert.True(t, shared.IsValidation(a.Validate()))
}
