package achievement

import (
	"context"
	"errors"
	"fmt"

	"github.com/codequest/progression/internal/domain/shared"
)

// Evaluation is the outcome of one evaluator run.
type Evaluation struct {
	// Unlocked are the achievements this run inserted, in registry order.
	Unlocked []Achievement

	// Missing are registered slugs with no catalog entry. They are skipped.
	Missing []string
}

// Evaluator re-checks the conditions registered for a trigger and records
// newly satisfied ones. It holds no per-user state and is safe to re-run.
type Evaluator struct {
	registry *Registry
	catalog  Catalog
	unlocks  UnlockRepository
	facts    Facts
}

// NewEvaluator wires an evaluator.
func NewEvaluator(registry *Registry, catalog Catalog, unlocks UnlockRepository, facts Facts) *Evaluator {
	return &Evaluator{
		registry: registry,
		catalog:  catalog,
		unlocks:  unlocks,
		facts:    facts,
	}
}

// Evaluate runs every not-yet-unlocked check for trigger. A failing condition
// or storage call stops the run; the unlocks committed before it are still
// returned alongside the error.
func (e *Evaluator) Evaluate(ctx context.Context, userID shared.UserID, trigger Trigger) (*Evaluation, error) {
	if !trigger.IsValid() {
		return nil, shared.ErrUnknownTrigger
	}

	result := &Evaluation{}

	held, err := e.unlocks.UnlockedSlugs(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("load unlocked slugs: %w", err)
	}

	sheet := NewFactSheet(userID, e.facts)

	for _, check := range e.registry.ChecksFor(trigger) {
		if _, ok := held[check.Slug]; ok {
			continue
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}

		ok, err := check.Condition(ctx, sheet)
		if err != nil {
			return result, fmt.Errorf("evaluate %s: %w", check.Slug, err)
		}
		if !ok {
			continue
		}

		a, err := e.catalog.GetBySlug(ctx, check.Slug)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				result.Missing = append(result.Missing, check.Slug)
				continue
			}
			return result, fmt.Errorf("load achievement %s: %w", check.Slug, err)
		}

		inserted, err := e.unlocks.Unlock(ctx, userID, a.ID)
		if err != nil {
			return result, fmt.Errorf("unlock %s: %w", check.Slug, err)
		}
		// Lost the race to a concurrent evaluation; that one reports it.
		if !inserted {
			continue
		}
		result.Unlocked = append(result.Unlocked, *a)
	}

	return result, nil
}
