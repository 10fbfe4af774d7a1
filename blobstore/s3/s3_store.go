// Package s3 implements blobstore.Store for Amazon S3.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/annserve/blobstore"
)

// Compile time check to ensure Store satisfies the blobstore interface.
var _ blobstore.Store = (*Store)(nil)

// Store implements blobstore.Store for S3. Artifacts are downloaded with
// concurrent ranged GETs into a temporary spool file, which matters for
// multi-gigabyte index tarballs.
type Store struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucket     string
	prefix     string
	spoolDir   string
}

// Option configures a Store.
type Option func(*Store)

// WithSpoolDir sets the directory for temporary download files.
// Defaults to the OS temp dir.
func WithSpoolDir(dir string) Option {
	return func(s *Store) { s.spoolDir = dir }
}

// NewStore creates a new S3 artifact store.
// rootPrefix is prepended to all keys (e.g. "ann-artifacts/").
func NewStore(client *s3.Client, bucket, rootPrefix string, optFns ...Option) *Store {
	s := &Store{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     rootPrefix,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Fetch downloads the artifact to a spool file and returns a reader over it.
// The spool file is unlinked when the reader is closed.
func (s *Store) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.spoolDir != "" {
		if err := os.MkdirAll(s.spoolDir, 0o755); err != nil {
			return nil, err
		}
	}

	f, err := os.CreateTemp(s.spoolDir, "annserve-s3-*.spool")
	if err != nil {
		return nil, err
	}

	_, err = s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, translateNotFound(err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}

	return &spoolFile{File: f}, nil
}

// ModTime reports the object's LastModified timestamp.
func (s *Store) ModTime(ctx context.Context, key string) (time.Time, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return time.Time{}, translateNotFound(err)
	}
	if head.LastModified == nil {
		return time.Time{}, fmt.Errorf("s3: object %q has no LastModified", key)
	}
	return *head.LastModified, nil
}

func translateNotFound(err error) error {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", blobstore.ErrNotFound, err)
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %w", blobstore.ErrNotFound, err)
	}
	return err
}

// spoolFile unlinks the temporary file on close.
type spoolFile struct {
	*os.File
}

func (f *spoolFile) Close() error {
	err := f.File.Close()
	if rmErr := os.Remove(f.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
