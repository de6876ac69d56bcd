// Package memcachestore is a memcache-backed store.BufferedManager. Grounded
// on the teacher's memcache/memcache.go Cache, adapted from a raw []byte
// Cache to store.Entry via store.EncodeEntry/DecodeEntry. The teacher's
// separate stale-marker key is dropped for the same reason as pgstore's:
// staleness is recomputed from the stored response's own headers on every
// read, so a side-channel marker key would just duplicate that state.
package memcachestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/cachekit/httpcache/store"
)

// Store is a memcache-backed BufferedManager.
type Store struct {
	client *memcache.Client
}

// cacheKey prefixes keys to avoid collision with other data in the same
// memcache keyspace, matching the teacher's cacheKey helper.
func cacheKey(key string) string {
	return "cachekit:" + key
}

// New returns a Store using the given memcache server(s) with equal weight.
func New(server ...string) *Store {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient wraps an already-configured memcache.Client.
func NewWithClient(client *memcache.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(_ context.Context, key string) (*store.Entry, bool, error) {
	item, err := s.client.Get(cacheKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("memcachestore: get %q: %w", key, err)
	}
	entry, err := store.DecodeEntry(item.Value)
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
	item := &memcache.Item{Key: cacheKey(key), Value: raw}
	if entry.TTL > 0 {
		item.Expiration = int32(entry.TTL.Seconds())
	}
	if err := s.client.Set(item); err != nil {
		return nil, fmt.Errorf("memcachestore: set %q: %w", key, err)
	}
	return decoded, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.client.Delete(cacheKey(key)); err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil
		}
		return fmt.Errorf("memcachestore: delete %q: %w", key, err)
	}
	return nil
}
