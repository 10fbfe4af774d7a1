// Package loader builds immutable index versions from archived artifacts.
//
// An artifact is a tar archive (optionally gzip or lz4 compressed) produced
// by the upstream embedding pipeline:
//
//	index.ann      binary vector table (see backend/flat format)
//	ids.txt        one entity id per row, in row order
//	metadata.json  {"vec_src", "metric", "n_dim", "timestamp_utc"}
//
// The loader extracts archives under a scratch directory and additionally
// writes timestamp.txt (unix seconds of extraction) there, so a later load
// can skip the fetch when the remote artifact has not changed.
package loader

import (
	"context"
	"fmt"

	"github.com/hupe1980/annserve/index"
)

// Loader produces a brand-new index version for a name. Implementations
// must be idempotent and must never mutate a previously returned version.
type Loader interface {
	Load(ctx context.Context, name string) (*index.Version, error)
}

// FetchError indicates the artifact could not be retrieved from the store.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UnpackError indicates the fetched archive could not be decompressed or
// extracted.
type UnpackError struct {
	Key string
	Err error
}

func (e *UnpackError) Error() string {
	return fmt.Sprintf("unpack %q: %v", e.Key, e.Err)
}

func (e *UnpackError) Unwrap() error { return e.Err }

// ParseError indicates an extracted archive member is malformed or
// inconsistent with its siblings.
type ParseError struct {
	Member string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Member, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
