// Package backend defines the capability interface that nearest-neighbor
// implementations must provide. The registry and query engine depend only on
// this interface; concrete backends are chosen at index-load time.
package backend

import (
	"context"
	"errors"

	"github.com/hupe1980/annserve/metric"
)

var (
	// ErrPositionOutOfRange is returned when a row position does not exist.
	ErrPositionOutOfRange = errors.New("backend: position out of range")

	// ErrClosed is returned when a backend is used after Close.
	ErrClosed = errors.New("backend: closed")
)

// Neighbor is a single search hit. Pos is the backend-local row position;
// translation to entity ids happens in the index version that owns the
// backend.
type Neighbor struct {
	Pos      uint32
	Distance float32
}

// SearchOptions tunes a single Nearest call.
type SearchOptions struct {
	// Filter restricts the candidate set. A nil Filter admits every row.
	// Rows for which Filter returns false are never returned.
	Filter func(pos uint32) bool

	// SearchK is accepted for wire compatibility with upstream clients and
	// has no effect. It is documented as unused in the artifact schema.
	SearchK int
}

// Backend is an opaque nearest-neighbor capability over an immutable set of
// vectors. Implementations must be safe for concurrent readers.
type Backend interface {
	// Metric reports the distance semantics of the vector space.
	Metric() metric.Metric

	// Dim reports the vector dimensionality.
	Dim() int

	// Len reports the number of stored vectors.
	Len() int

	// VectorOf returns a copy of the vector stored at pos.
	VectorOf(pos uint32) ([]float32, error)

	// Nearest returns up to k rows closest to query, nearest first.
	// Fewer than k rows are returned without error when fewer exist.
	Nearest(ctx context.Context, query []float32, k int, opts SearchOptions) ([]Neighbor, error)

	// Close releases backend resources. Concurrent readers must have
	// drained before Close is called; the registry guarantees this by
	// never closing a version that can still be acquired.
	Close() error
}
