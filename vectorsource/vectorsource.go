// Package vectorsource resolves embedding vectors for entities that are not
// part of an index's id universe (out-of-index lookup). The primary
// implementation reads packed vectors from a DynamoDB table maintained by
// the embedding pipeline.
package vectorsource

import (
	"context"
	"errors"
)

// ErrVectorNotFound is returned when no vector exists for an entity id.
var ErrVectorNotFound = errors.New("vectorsource: vector not found")

// Source resolves the embedding vector for an entity id.
type Source interface {
	VectorOf(ctx context.Context, id string) ([]float32, error)
}

// StaticSource serves vectors from a fixed in-memory map. Useful for tests
// and for small fixed vocabularies.
type StaticSource map[string][]float32

// Compile time check to ensure StaticSource satisfies the Source interface.
var _ Source = StaticSource(nil)

// VectorOf implements the Source interface.
func (s StaticSource) VectorOf(_ context.Context, id string) ([]float32, error) {
	vec, ok := s[id]
	if !ok {
		return nil, ErrVectorNotFound
	}
	return vec, nil
}
