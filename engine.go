package annserve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/annserve/backend"
	"github.com/hupe1980/annserve/index"
	"github.com/hupe1980/annserve/metric"
	"github.com/hupe1980/annserve/vectorsource"
)

// QueryOptions tunes result shaping for a single query.
type QueryOptions struct {
	// IncludeDistances populates Rec.Distance.
	IncludeDistances bool

	// IncludeScores populates Rec.Score. Scores are derived from angular
	// distance (score = 1 - dist/2) and are only produced for indexes with
	// the angular metric.
	IncludeScores bool

	// ThresholdScore drops results whose score is not strictly greater
	// than the threshold. Ignored for non-angular indexes.
	ThresholdScore *float32

	// SearchK is accepted for wire compatibility and has no effect; the
	// upstream artifact schema marks it unused.
	SearchK int
}

// Rec is a single query result. Distance and Score are only meaningful when
// the corresponding Has flag is set, which follows the QueryOptions used for
// the query.
type Rec struct {
	ID          string
	Distance    float32
	Score       float32
	HasDistance bool
	HasScore    bool
}

// Engine resolves queries against the registry's active index versions.
//
// Each query acquires every index version it touches exactly once and works
// on that snapshot throughout, so concurrent refreshes can never produce a
// torn read. Two queries racing a refresh may legitimately observe different
// versions.
type Engine struct {
	registry  *Registry
	source    vectorsource.Source
	fallbacks map[string]string
	logger    *Logger
	metrics   MetricsCollector
}

// NewEngine creates a query engine on top of registry.
func NewEngine(registry *Registry, optFns ...Option) *Engine {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	return &Engine{
		registry:  registry,
		source:    o.source,
		fallbacks: o.fallbacks,
		logger:    o.logger,
		metrics:   o.metrics,
	}
}

// QuerySingle returns up to k nearest neighbors of the entity id within the
// named index, nearest first. The query entity itself is excluded from the
// result.
func (e *Engine) QuerySingle(ctx context.Context, name, id string, k int, opts QueryOptions) ([]Rec, error) {
	start := time.Now()
	recs, err := e.querySingle(ctx, name, id, k, opts)
	e.metrics.RecordQuery(k, time.Since(start), err)
	e.logger.LogQuery(ctx, name, id, k, len(recs), err)
	return recs, err
}

func (e *Engine) querySingle(ctx context.Context, name, id string, k int, opts QueryOptions) ([]Rec, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	v, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}

	var neighbors []backend.Neighbor
	if pos, ok := v.Position(id); ok {
		vec, err := v.Backend().VectorOf(pos)
		if err != nil {
			return nil, err
		}
		neighbors, err = v.Backend().Nearest(ctx, vec, k, backend.SearchOptions{
			Filter:  func(p uint32) bool { return p != pos },
			SearchK: opts.SearchK,
		})
		if err != nil {
			return nil, err
		}
	} else {
		vec, err := e.resolveOutOfIndex(ctx, v, id)
		if err != nil {
			return nil, err
		}
		neighbors, err = v.Backend().Nearest(ctx, vec, k, backend.SearchOptions{SearchK: opts.SearchK})
		if err != nil {
			return nil, err
		}
	}

	recs := buildRecs(v, neighbors, id, k, opts)
	return e.fallbackFill(ctx, v, name, recs, k, func(ctx context.Context, parent string, need int) ([]Rec, error) {
		return e.querySingle(ctx, parent, id, need, opts)
	})
}

// QueryVector returns up to k nearest neighbors of a raw embedding within
// the named index.
func (e *Engine) QueryVector(ctx context.Context, name string, vec []float32, k int, opts QueryOptions) ([]Rec, error) {
	start := time.Now()
	recs, err := e.queryVector(ctx, name, vec, k, opts)
	e.metrics.RecordQuery(k, time.Since(start), err)
	e.logger.LogQuery(ctx, name, "<vector>", k, len(recs), err)
	return recs, err
}

func (e *Engine) queryVector(ctx context.Context, name string, vec []float32, k int, opts QueryOptions) ([]Rec, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	v, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}

	neighbors, err := v.Backend().Nearest(ctx, vec, k, backend.SearchOptions{SearchK: opts.SearchK})
	if err != nil {
		return nil, err
	}

	recs := buildRecs(v, neighbors, "", k, opts)
	return e.fallbackFill(ctx, v, name, recs, k, func(ctx context.Context, parent string, need int) ([]Rec, error) {
		return e.queryVector(ctx, parent, vec, need, opts)
	})
}

// QueryCross fetches the vector of sourceID from the source index and
// queries the catalog index with it. The two index resolutions are
// independent; either may be mid-refresh without affecting correctness.
func (e *Engine) QueryCross(ctx context.Context, sourceIndex, sourceID, catalogIndex string, k int, opts QueryOptions) ([]Rec, error) {
	start := time.Now()
	recs, err := e.queryCross(ctx, sourceIndex, sourceID, catalogIndex, k, opts)
	e.metrics.RecordCrossQuery(k, time.Since(start), err)
	e.logger.LogCrossQuery(ctx, sourceIndex, sourceID, catalogIndex, k, len(recs), err)
	return recs, err
}

func (e *Engine) queryCross(ctx context.Context, sourceIndex, sourceID, catalogIndex string, k int, opts QueryOptions) ([]Rec, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	srcV, err := e.registry.Get(sourceIndex)
	if err != nil {
		return nil, err
	}

	var vec []float32
	if pos, ok := srcV.Position(sourceID); ok {
		vec, err = srcV.Backend().VectorOf(pos)
		if err != nil {
			return nil, err
		}
	} else {
		vec, err = e.resolveOutOfIndex(ctx, srcV, sourceID)
		if err != nil {
			return nil, err
		}
	}

	catV, err := e.registry.Get(catalogIndex)
	if err != nil {
		return nil, err
	}

	// Incompatible vector spaces are rejected before any backend call.
	if srcV.Meta().NDim != catV.Meta().NDim {
		return nil, &DimensionMismatchError{
			SourceIndex:  sourceIndex,
			CatalogIndex: catalogIndex,
			SourceDim:    srcV.Meta().NDim,
			CatalogDim:   catV.Meta().NDim,
		}
	}

	neighbors, err := catV.Backend().Nearest(ctx, vec, k, backend.SearchOptions{SearchK: opts.SearchK})
	if err != nil {
		return nil, err
	}

	return buildRecs(catV, neighbors, "", k, opts), nil
}

// resolveOutOfIndex looks up a vector for an id that is not part of the
// index universe. Without a configured vector source this is a plain
// ErrEntityNotFound and no backend is consulted. A resolved vector whose
// dimensionality does not match the index is rejected here, before any
// backend call.
func (e *Engine) resolveOutOfIndex(ctx context.Context, v *index.Version, id string) ([]float32, error) {
	name := v.Name()
	if e.source == nil {
		return nil, fmt.Errorf("%w: id %q not in index %q", ErrEntityNotFound, id, name)
	}

	vec, err := e.source.VectorOf(ctx, id)
	if err != nil {
		if errors.Is(err, vectorsource.ErrVectorNotFound) {
			return nil, fmt.Errorf("%w: id %q not in index %q and no out-of-index vector exists", ErrEntityNotFound, id, name)
		}
		return nil, err
	}
	if len(vec) != v.Meta().NDim {
		return nil, &OutOfIndexVectorError{
			Index:    name,
			ID:       id,
			Expected: v.Meta().NDim,
			Actual:   len(vec),
		}
	}
	return vec, nil
}

// fallbackFill tops recs up to k from the fallback parent configured for
// child, if any. The parent query runs the same operation with the residual
// k and may chain to the parent's own fallback; duplicate ids are skipped so
// a child result never reappears from the parent. A parent that cannot
// resolve the query id contributes nothing rather than failing a query that
// already has results.
func (e *Engine) fallbackFill(ctx context.Context, childV *index.Version, child string, recs []Rec, k int, query func(ctx context.Context, parent string, need int) ([]Rec, error)) ([]Rec, error) {
	parent, ok := e.fallbacks[child]
	if !ok || len(recs) >= k {
		return recs, nil
	}

	parentV, err := e.registry.Get(parent)
	if err != nil {
		return nil, err
	}
	if childV.Meta().NDim != parentV.Meta().NDim {
		return nil, &DimensionMismatchError{
			SourceIndex:  child,
			CatalogIndex: parent,
			SourceDim:    childV.Meta().NDim,
			CatalogDim:   parentV.Meta().NDim,
		}
	}

	more, err := query(ctx, parent, k-len(recs))
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			return recs, nil
		}
		return nil, err
	}

	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		seen[rec.ID] = true
	}
	for _, rec := range more {
		if seen[rec.ID] {
			continue
		}
		recs = append(recs, rec)
		if len(recs) == k {
			break
		}
	}
	return recs, nil
}

// buildRecs translates backend neighbors into results, excluding selfID and
// applying score shaping. Results keep the backend's nearest-first order.
func buildRecs(v *index.Version, neighbors []backend.Neighbor, selfID string, k int, opts QueryOptions) []Rec {
	scoreable := v.Meta().Metric == metric.Angular

	recs := make([]Rec, 0, len(neighbors))
	for _, n := range neighbors {
		id, err := v.IDAt(n.Pos)
		if err != nil || id == "" {
			continue
		}
		if selfID != "" && id == selfID {
			continue
		}

		score := metric.Score(n.Distance)
		if opts.ThresholdScore != nil && scoreable && score <= *opts.ThresholdScore {
			continue
		}

		rec := Rec{ID: id}
		if opts.IncludeDistances {
			rec.Distance = n.Distance
			rec.HasDistance = true
		}
		if opts.IncludeScores && scoreable {
			rec.Score = score
			rec.HasScore = true
		}
		recs = append(recs, rec)

		if len(recs) == k {
			break
		}
	}

	return recs
}
