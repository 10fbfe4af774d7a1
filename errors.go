package annserve

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexNotFound is returned when an index name is unknown to the
	// registry.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexExists is returned when adding an index name that is already
	// registered.
	ErrIndexExists = errors.New("index already registered")

	// ErrEntityNotFound is returned when an entity id cannot be resolved to
	// a vector.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrRefreshInProgress is returned when a refresh is requested for an
	// index that is already refreshing. Concurrent refreshes are rejected
	// rather than queued so the caller gets a bounded response time.
	ErrRefreshInProgress = errors.New("refresh already in progress")
)

// DimensionMismatchError indicates a cross-index query between incompatible
// vector spaces. It is raised before any backend call.
type DimensionMismatchError struct {
	SourceIndex  string
	CatalogIndex string
	SourceDim    int
	CatalogDim   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: source index %q has n_dim %d, catalog index %q has n_dim %d",
		e.SourceIndex, e.SourceDim, e.CatalogIndex, e.CatalogDim)
}

// OutOfIndexVectorError indicates that a vector resolved through the
// out-of-index source does not match the dimensionality of the index it was
// meant to be queried against. The external source holds bad data for the
// id; the query is rejected before any backend call.
type OutOfIndexVectorError struct {
	Index    string
	ID       string
	Expected int
	Actual   int
}

func (e *OutOfIndexVectorError) Error() string {
	return fmt.Sprintf("out-of-index vector for %q has %d components, index %q expects %d",
		e.ID, e.Actual, e.Index, e.Expected)
}

// RefreshError indicates a failed refresh. The previously active version is
// untouched and keeps serving.
//
// The loader's underlying failure can be accessed via errors.Unwrap.
type RefreshError struct {
	Name  string
	Cause error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh of index %q failed: %v", e.Name, e.Cause)
}

func (e *RefreshError) Unwrap() error { return e.Cause }
