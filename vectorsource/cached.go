package vectorsource

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Compile time check to ensure CachedSource satisfies the Source interface.
var _ Source = (*CachedSource)(nil)

// CachedSource wraps a Source with an LRU cache. Out-of-index lookups are
// hot for recently delisted entities; caching keeps repeated queries from
// hammering the table. Misses are not cached, so an entity that gains a
// vector later is picked up immediately.
type CachedSource struct {
	inner Source
	cache *lru.Cache[string, []float32]
}

// NewCachedSource wraps inner with a cache of the given size.
func NewCachedSource(inner Source, size int) (*CachedSource, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedSource{inner: inner, cache: cache}, nil
}

// VectorOf implements Source.
func (s *CachedSource) VectorOf(ctx context.Context, id string) ([]float32, error) {
	if vec, ok := s.cache.Get(id); ok {
		return vec, nil
	}

	vec, err := s.inner.VectorOf(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.Add(id, vec)
	return vec, nil
}
