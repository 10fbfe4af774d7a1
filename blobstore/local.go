package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"
)

// LocalStore implements Store over the local file system.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at the given directory.
// An empty root resolves keys as-is, allowing absolute paths.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Path returns the absolute path a key resolves to.
func (s *LocalStore) Path(key string) string {
	if s.root == "" {
		return key
	}
	return filepath.Join(s.root, key)
}

// Fetch opens the artifact file.
func (s *LocalStore) Fetch(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ModTime reports the file's modification time.
func (s *LocalStore) ModTime(_ context.Context, key string) (time.Time, error) {
	fi, err := os.Stat(s.Path(key))
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
