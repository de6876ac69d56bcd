// Package leveldbstore is a goleveldb-backed store.BufferedManager.
// Grounded on the teacher's leveldbcache/leveldbcache.go Cache, adapted from
// a raw []byte Cache to store.Entry via store.EncodeEntry/DecodeEntry. The
// stale-marker key is dropped for the same reason as the other adapters in
// this tree (staleness is recomputed from stored headers, not a side flag).
package leveldbstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/cachekit/httpcache/store"
)

// Store is a goleveldb-backed BufferedManager.
type Store struct {
	db *leveldb.DB
}

// New opens (or creates) a leveldb database rooted at path.
func New(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-opened *leveldb.DB.
func NewWithDB(db *leveldb.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, key string) (*store.Entry, bool, error) {
	raw, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("leveldbstore: get %q: %w", key, err)
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
	if err := s.db.Put([]byte(key), raw, nil); err != nil {
		return nil, fmt.Errorf("leveldbstore: set %q: %w", key, err)
	}
	return decoded, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldbstore: delete %q: %w", key, err)
	}
	return nil
}
