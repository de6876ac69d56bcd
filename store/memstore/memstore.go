// Package memstore is an in-process, map-backed store.BufferedManager.
// Grounded on the teacher's memorycache.go MemoryCache, generalized from a
// raw []byte Cache into a store.Entry-aware BufferedManager: entries are
// serialized the same way (httputil.DumpResponse) so the wire format stays
// interchangeable with the other adapters in this tree.
package memstore

import (
	"context"
	"sync"

	"github.com/cachekit/httpcache/store"
)

// Store is an in-memory BufferedManager. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{items: map[string][]byte{}}
}

func (s *Store) Get(_ context.Context, key string) (*store.Entry, bool, error) {
	s.mu.RLock()
	raw, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	entry, err := store.DecodeEntry(raw)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *Store) Put(_ context.Context, key string, entry *store.Entry) (*store.Entry, error) {
	raw, decoded, err := store.EncodeEntry(entry)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.items[key] = raw
	s.mu.Unlock()
	return decoded, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}
