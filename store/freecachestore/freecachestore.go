// Package freecachestore is a zero-GC-overhead, fixed-capacity
// store.BufferedManager backed by github.com/coocood/freecache. Grounded on
// the teacher's freecache/freecache.go Cache, adapted from a raw []byte
// Cache to store.Entry via store.EncodeEntry/DecodeEntry; the stale-marker
// key pair is dropped for the same reason as the other adapters in this
// tree (staleness is recomputed from stored headers, not a side flag).
package freecachestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/coocood/freecache"

	"github.com/cachekit/httpcache/store"
)

// Store is a freecache-backed BufferedManager. Capacity is fixed at
// construction; entries are evicted LRU-style when the cache is full.
type Store struct {
	cache *freecache.Cache
}

// New creates a Store with the given capacity in bytes (512KB minimum,
// freecache's own floor).
func New(size int) *Store {
	return &Store{cache: freecache.NewCache(size)}
}

func (s *Store) Get(_ context.Context, key string) (*store.Entry, bool, error) {
	raw, err := s.cache.Get([]byte(key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("freecachestore: get %q: %w", key, err)
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
	if err := s.cache.Set([]byte(key), raw, int(entry.TTL.Seconds())); err != nil {
		return nil, fmt.Errorf("freecachestore: set %q: %w", key, err)
	}
	return decoded, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.cache.Del([]byte(key))
	return nil
}

// Clear removes all entries.
func (s *Store) Clear() { s.cache.Clear() }

// EntryCount returns the number of entries currently in the cache.
func (s *Store) EntryCount() int64 { return s.cache.EntryCount() }

// HitRate returns the ratio of cache hits to total lookups.
func (s *Store) HitRate() float64 { return s.cache.HitRate() }
