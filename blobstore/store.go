// Package blobstore abstracts the artifact stores that index archives are
// fetched from. Implementations exist for the local file system, S3 and
// MinIO.
package blobstore

import (
	"context"
	"io"
	"os"
	"time"
)

// ErrNotFound is returned when an artifact does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for reading immutable index artifacts.
type Store interface {
	// Fetch opens the named artifact for sequential reading.
	// The caller owns the returned ReadCloser.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)

	// ModTime reports when the artifact was last modified. The loader uses
	// it to decide whether an already-extracted copy is still fresh.
	ModTime(ctx context.Context, key string) (time.Time, error)
}
