// Package catalog loads the achievement catalog from YAML and serves it
// through an in-process LRU.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"

	"github.com/codequest/progression/internal/domain/achievement"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Entry is one achievement as written in the seed file.
type Entry struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	XPReward    int    `yaml:"xp_reward"`
	Rarity      string `yaml:"rarity"`
	Trigger     string `yaml:"trigger"`
}

// File is the seed file layout.
type File struct {
	Achievements []Entry `yaml:"achievements"`
}

// Default returns the embedded catalog.
func Default() ([]achievement.Achievement, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads a catalog from path. An empty path selects the embedded default.
func LoadFile(path string) ([]achievement.Achievement, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog. Slugs are normalised (an entry
// without a slug gets one from its name) and must be unique.
func Parse(data []byte) ([]achievement.Achievement, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Achievements))
	out := make([]achievement.Achievement, 0, len(f.Achievements))

	for i, e := range f.Achievements {
		s := e.Slug
		if s == "" {
			s = e.Name
		}
		s = slug.Make(s)

		rarity, err := achievement.ParseRarity(e.Rarity)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, s, err)
		}
		trigger, err := achievement.ParseTrigger(e.Trigger)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, s, err)
		}

		a := achievement.Achievement{
			Slug:        s,
			Name:        e.Name,
			Description: e.Description,
			Icon:        e.Icon,
			XPReward:    e.XPReward,
			Rarity:      rarity,
			Trigger:     trigger,
		}
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, s, err)
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("entry %d: duplicate slug %q", i, s)
		}
		seen[s] = struct{}{}
		out = append(out, a)
	}

	return out, nil
}

// SeedResult reports what Seed wrote.
type SeedResult struct {
	Upserted int

	// Unchecked are catalog slugs no registered check will ever unlock.
	Unchecked []string

	// Uncatalogued are registered checks the catalog does not define.
	Uncatalogued []string
}

// Seed upserts every entry and cross-checks the catalog against registry.
func Seed(ctx context.Context, w achievement.CatalogWriter, entries []achievement.Achievement, registry *achievement.Registry) (*SeedResult, error) {
	res := &SeedResult{}
	inCatalog := make(map[string]struct{}, len(entries))

	for i := range entries {
		if _, err := w.Upsert(ctx, &entries[i]); err != nil {
			return res, fmt.Errorf("upsert %s: %w", entries[i].Slug, err)
		}
		res.Upserted++
		inCatalog[entries[i].Slug] = struct{}{}
	}

	if registry == nil {
		return res, nil
	}
	registered := registry.Slugs()
	for _, a := range entries {
		if _, ok := registered[a.Slug]; !ok {
			res.Unchecked = append(res.Unchecked, a.Slug)
		}
	}
	for s := range registered {
		if _, ok := inCatalog[s]; !ok {
			res.Uncatalogued = append(res.Uncatalogued, s)
		}
	}
	sort.Strings(res.Unchecked)
	sort.Strings(res.Uncatalogued)
	return res, nil
}
