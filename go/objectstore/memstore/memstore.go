// Package memstore is an in-memory objectstore.Client, the test double
// used in place of a real cloud backend.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/improve-ai/tracker/go/objectstore"
)

// Store is a concurrency-safe in-memory objectstore.Client.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ objectstore.Client = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{objects: map[string][]byte{}}
}

func (s *Store) List(_ context.Context, prefix, startAfter string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if startAfter != "" && k < startAfter {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.objects[key]
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Write(_ context.Context, key string, contents []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(contents))
	copy(cp, contents)
	s.objects[key] = cp
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Store) DeleteBatch(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	return nil
}

// Has reports whether key is currently present, for test assertions.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Keys returns every key currently stored, sorted, for test assertions.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NotFoundError is returned by Read when the key does not exist.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return "memstore: object not found: " + e.Key
}
