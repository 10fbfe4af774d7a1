// Package minio implements blobstore.Store for MinIO and other S3-compatible
// object stores reachable through the MinIO client.
package minio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/annserve/blobstore"
	"github.com/minio/minio-go/v7"
)

// Compile time check to ensure Store satisfies the blobstore interface.
var _ blobstore.Store = (*Store)(nil)

// Store implements blobstore.Store for MinIO.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore creates a new MinIO artifact store.
func NewStore(client *minio.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Fetch opens the artifact object for reading.
func (s *Store) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateNotFound(err)
	}
	// GetObject is lazy; surface missing objects now rather than on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, translateNotFound(err)
	}
	return obj, nil
}

// ModTime reports the object's LastModified timestamp.
func (s *Store) ModTime(ctx context.Context, key string) (time.Time, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return time.Time{}, translateNotFound(err)
	}
	return info.LastModified, nil
}

func translateNotFound(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("%w: %w", blobstore.ErrNotFound, err)
	}
	return err
}
