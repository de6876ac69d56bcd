// Package hazelcaststore is a Hazelcast-backed store.BufferedManager.
// Grounded on the teacher's hazelcast/hazelcast.go cache, adapted from a
// raw []byte Cache to store.Entry via store.EncodeEntry/DecodeEntry.
package hazelcaststore

import (
	"context"
	"fmt"

	hazelcast "github.com/hazelcast/hazelcast-go-client"

	"github.com/cachekit/httpcache/store"
)

// Store is a Hazelcast-backed BufferedManager.
type Store struct {
	m *hazelcast.Map
}

func cacheKey(key string) string {
	return "cachekit:" + key
}

// NewWithMap wraps an already-configured Hazelcast distributed map.
func NewWithMap(m *hazelcast.Map) *Store {
	return &Store{m: m}
}

func (s *Store) Get(ctx context.Context, key string) (*store.Entry, bool, error) {
	val, err := s.m.Get(ctx, cacheKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("hazelcaststore: get %q: %w", key, err)
	}
	if val == nil {
		return nil, false, nil
	}
	raw, ok := val.([]byte)
	if !ok {
		return nil, false, nil
	}
	entry, err := store.DecodeEntry(raw)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *Store) Put(ctx context.Context, key string, entry *store.Entry) (*store.Entry, error) {
	raw, decoded, err := store.EncodeEntry(entry)
	if err != nil {
		return nil, err
	}
	if err := s.m.Set(ctx, cacheKey(key), raw); err != nil {
		return nil, fmt.Errorf("hazelcaststore: set %q: %w", key, err)
	}
	return decoded, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.m.Remove(ctx, cacheKey(key)); err != nil {
		return fmt.Errorf("hazelcaststore: delete %q: %w", key, err)
	}
	return nil
}
