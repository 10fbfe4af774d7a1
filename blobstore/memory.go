package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store, useful for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data    []byte
	modTime time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

// Put stores data under key with the given modification time.
func (s *MemoryStore) Put(key string, data []byte, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = memoryBlob{data: bytes.Clone(data), modTime: modTime}
}

// Fetch implements Store.
func (s *MemoryStore) Fetch(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("memory store: %q: %w", key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// ModTime implements Store.
func (s *MemoryStore) ModTime(_ context.Context, key string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return time.Time{}, fmt.Errorf("memory store: %q: %w", key, ErrNotFound)
	}
	return b.modTime, nil
}
