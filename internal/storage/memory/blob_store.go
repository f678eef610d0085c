// Package memory keeps exported snapshots in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"maps"
	"sync"
)

// Object is one stored snapshot.
type Object struct {
	ContentType string
	Data        []byte
	Metadata    map[string]string
}

// BlobStore stores objects in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	err     error
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// FailWith makes subsequent PutObject calls return err. Pass nil to clear it.
func (s *BlobStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data io.Reader, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}

	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	s.objects[path] = Object{
		ContentType: contentType,
		Data:        byteData,
		Metadata:    maps.Clone(metadata),
	}
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a copy of the object stored at path.
func (s *BlobStore) Get(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	obj.Metadata = maps.Clone(obj.Metadata)
	return obj, true
}
