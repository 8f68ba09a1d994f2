package catalog

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru"

	"github.com/codequest/progression/internal/domain/achievement"
)

const defaultCacheSize = 128

var errReadOnly = errors.New("catalog: backing store is read-only")

// CachedCatalog fronts a Catalog with an LRU keyed by slug. The catalog is
// read-only to the engine, so entries never go stale within a process;
// Upsert through this type refreshes the cached entry.
type CachedCatalog struct {
	next  achievement.Catalog
	cache *lru.Cache
}

// NewCachedCatalog wraps next. size <= 0 selects the default.
func NewCachedCatalog(next achievement.Catalog, size int) (*CachedCatalog, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedCatalog{next: next, cache: cache}, nil
}

// GetBySlug implements achievement.Catalog. Misses are not cached.
func (c *CachedCatalog) GetBySlug(ctx context.Context, slug string) (*achievement.Achievement, error) {
	if v, ok := c.cache.Get(slug); ok {
		cp := v.(achievement.Achievement)
		return &cp, nil
	}
	a, err := c.next.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	c.cache.Add(slug, *a)
	return a, nil
}

// List implements achievement.Catalog and warms the cache.
func (c *CachedCatalog) List(ctx context.Context) ([]achievement.Achievement, error) {
	list, err := c.next.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		c.cache.Add(a.Slug, a)
	}
	return list, nil
}

// Upsert implements achievement.CatalogWriter when next does.
func (c *CachedCatalog) Upsert(ctx context.Context, a *achievement.Achievement) (*achievement.Achievement, error) {
	w, ok := c.next.(achievement.CatalogWriter)
	if !ok {
		return nil, errReadOnly
	}
	out, err := w.Upsert(ctx, a)
	if err != nil {
		return nil, err
	}
	c.cache.Add(out.Slug, *out)
	return out, nil
}

// Purge drops every cached entry.
func (c *CachedCatalog) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached entries.
func (c *CachedCatalog) Len() int {
	return c.cache.Len()
}
