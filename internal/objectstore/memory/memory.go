// Package memory is an in-memory objectstore.Store for tests: it keeps
// uploaded bytes in a map and fabricates a stable "memory://" URL instead
// of talking to a real cloud backend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Joshi004/moments-pipeline/internal/objectstore"
)

// Store is an in-memory object store.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(content))
	copy(cp, content)
	s.objects[key] = cp
	return "memory://" + key, nil
}

func (s *Store) SignedURL(ctx context.Context, key string, ttl int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("objectstore/memory: key %q not found", key)
	}
	return fmt.Sprintf("memory://%s?ttl=%d", key, ttl), nil
}

// Get is a test-only accessor for asserting uploaded content.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[key]
	return b, ok
}

var _ objectstore.Store = (*Store)(nil)
