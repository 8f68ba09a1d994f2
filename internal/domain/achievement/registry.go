package achievement

import (
	"context"
	"fmt"

	"github.com/codequest/progression/internal/domain/shared"
)

// Condition decides whether a check is satisfied for the sheet's user.
type Condition func(ctx context.Context, f *FactSheet) (bool, error)

// Check pairs a catalog slug with its unlock condition.
type Check struct {
	Slug      string
	Condition Condition
}

// Registry maps each trigger to the checks it re-evaluates. New rules are
// added by registering, never by branching in the evaluator.
type Registry struct {
	checks map[Trigger][]Check
	slugs  map[string]Trigger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		checks: make(map[Trigger][]Check),
		slugs:  make(map[string]Trigger),
	}
}

// Register adds a check under trigger. Slugs are unique across the registry.
func (r *Registry) Register(trigger Trigger, slug string, cond Condition) error {
	if !trigger.IsValid() {
		return shared.ErrUnknownTrigger
	}
	if slug == "" || cond == nil {
		return shared.NewDomainError("achievement", "Register", shared.ErrInvalidInput, "slug and condition are required")
	}
	if existing, ok := r.slugs[slug]; ok {
		return shared.WrapError("achievement", "Register", shared.ErrAlreadyExists,
			"check already registered", fmt.Errorf("slug %q under %s", slug, existing))
	}
	r.checks[trigger] = append(r.checks[trigger], Check{Slug: slug, Condition: cond})
	r.slugs[slug] = trigger
	return nil
}

// MustRegister is Register that panics, for static rule tables.
func (r *Registry) MustRegister(trigger Trigger, slug string, cond Condition) {
	if err := r.Register(trigger, slug, cond); err != nil {
		panic(err)
	}
}

// ChecksFor returns the checks registered for trigger in registration order.
func (r *Registry) ChecksFor(trigger Trigger) []Check {
	return r.checks[trigger]
}

// Slugs returns every registered slug with its trigger.
func (r *Registry) Slugs() map[string]Trigger {
	out := make(map[string]Trigger, len(r.slugs))
	for k, v := range r.slugs {
		out[k] = v
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// CONDITION BUILDERS
// ══════════════════════════════════════════════════════════════════════════════

// CompletionsAtLeast is satisfied once the user completed n challenges.
func CompletionsAtLeast(n int) Condition {
	return func(ctx context.Context, f *FactSheet) (bool, error) {
		c, err := f.CompletionCount(ctx)
		return c >= n, err
	}
}

// DifficultyAtLeast is satisfied once the user completed n challenges of d.
func DifficultyAtLeast(d shared.Difficulty, n int) Condition {
	return func(ctx context.Context, f *FactSheet) (bool, error) {
		m, err := f.CompletionsByDifficulty(ctx)
		if err != nil {
			return false, err
		}
		return m[d] >= n, nil
	}
}

// AllDifficulties is satisfied once every difficulty was completed at least once.
func AllDifficulties() Condition {
	return func(ctx context.Context, f *FactSheet) (bool, error) {
		m, err := f.CompletionsByDifficulty(ctx)
		if err != nil {
			return false, err
		}
		for _, d := range shared.AllDifficulties {
			if m[d] < 1 {
				return false, nil
			}
		}
		return true, nil
	}
}

// LongestStreakAtLeast is satisfied once the best-ever streak reached n days.
func LongestStreakAtLeast(n int) Condition {
	return func(ctx context.Context, f *FactSheet) (bool, error) {
		s, err := f.LongestStreak(ctx)
		return s >= n, err
	}
}

// AnyPathComplete is satisfied when at least one learning path is fully completed.
func AnyPathComplete() Condition {
	return func(ctx context.Context, f *FactSheet) (bool, error) {
		paths, err := f.PathProgress(ctx)
		if err != nil {
			return false, err
		}
		for _, p := range paths {
			if p.IsComplete() {
				return true, nil
			}
		}
		return false, nil
	}
}

// AllPathsComplete is satisfied when every non-empty learning path is fully
// completed. No paths means nothing to complete.
func AllPathsComplete() Condition {
	return func(ctx context.Context, f *FactSheet) (bool, error) {
		paths, err := f.PathProgress(ctx)
		if err != nil {
			return false, err
		}
		if len(paths) == 0 {
			return false, nil
		}
		for _, p := range paths {
			if p.Total > 0 && !p.IsComplete() {
				return false, nil
			}
		}
		return true, nil
	}
}

// PublishedAtLeast is satisfied once the user authored n community challenges.
func PublishedAtLeast(n int) Condition {
	return func(ctx context.Context, f *FactSheet) (bool, error) {
		c, err := f.PublishedChallengeCount(ctx)
		return c >= n, err
	}
}

// LikesAtLeast is satisfied once the user's challenges collected n likes.
func LikesAtLeast(n int) Condition {
	return func(ctx context.Context, f *FactSheet) (bool, error) {
		c, err := f.LikesReceived(ctx)
		return c >= n, err
	}
}

// ForksAtLeast is satisfied once the user's challenges were forked n times.
func ForksAtLeast(n int) Condition {
	return func(ctx context.Context, f *FactSheet) (bool, error) {
		c, err := f.ForksReceived(ctx)
		return c >= n, err
	}
}

// DefaultRegistry returns the built-in rule set. Slugs match the default
// seed catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.MustRegister(TriggerChallengeComplete, "first-step", CompletionsAtLeast(1))
	r.MustRegister(TriggerChallengeComplete, "problem-solver", CompletionsAtLeast(10))
	r.MustRegister(TriggerChallengeComplete, "centurion", CompletionsAtLeast(100))
	r.MustRegister(TriggerChallengeComplete, "well-rounded", AllDifficulties())
	r.MustRegister(TriggerChallengeComplete, "beginner-graduate", DifficultyAtLeast(shared.DifficultyBeginner, 5))
	r.MustRegister(TriggerChallengeComplete, "intermediate-adept", DifficultyAtLeast(shared.DifficultyIntermediate, 5))
	r.MustRegister(TriggerChallengeComplete, "advanced-expert", DifficultyAtLeast(shared.DifficultyAdvanced, 5))
	r.MustRegister(TriggerChallengeComplete, "black-belt", DifficultyAtLeast(shared.DifficultyExpert, 1))
	r.MustRegister(TriggerChallengeComplete, "on-fire", LongestStreakAtLeast(3))
	r.MustRegister(TriggerChallengeComplete, "week-warrior", LongestStreakAtLeast(7))
	r.MustRegister(TriggerChallengeComplete, "unstoppable", LongestStreakAtLeast(30))
	r.MustRegister(TriggerChallengeComplete, "path-finder", AnyPathComplete())
	r.MustRegister(TriggerChallengeComplete, "completionist", AllPathsComplete())

	r.MustRegister(TriggerChallengePublish, "creator", PublishedAtLeast(1))
	r.MustRegister(TriggerLikeReceived, "crowd-pleaser", LikesAtLeast(10))
	r.MustRegister(TriggerForkReceived, "trendsetter", ForksAtLeast(5))

	return r
}
