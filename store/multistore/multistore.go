// Package multistore cascades lookups through multiple store.BufferedManager
// tiers, ordered fastest/smallest first, promoting a slower tier's hit up to
// every faster tier. Grounded on the teacher's wrapper/multicache package,
// generalized from a raw []byte httpcache.Cache to a store.Entry
// store.BufferedManager, so any combination of the adapted backends
// (memstore, redisstore, pgstore, ...) can be layered: e.g. memstore in
// front of redisstore in front of pgstore.
package multistore

import (
	"context"
	"fmt"

	"github.com/cachekit/httpcache/store"
)

// Store is a multi-tiered store.BufferedManager.
type Store struct {
	tiers []store.BufferedManager
}

// New builds a Store cascading through tiers in order, fastest first. At
// least one tier is required.
func New(tiers ...store.BufferedManager) (*Store, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("multistore: at least one tier is required")
	}
	for _, tier := range tiers {
		if tier == nil {
			return nil, fmt.Errorf("multistore: tier must not be nil")
		}
	}
	return &Store{tiers: tiers}, nil
}

// Get searches each tier in order. A hit in a slower tier is promoted (Put)
// to every faster tier ahead of it; promotion errors are ignored since the
// lookup itself already succeeded.
func (s *Store) Get(ctx context.Context, key string) (*store.Entry, bool, error) {
	for i, tier := range s.tiers {
		entry, ok, err := tier.Get(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("multistore: tier %d get %q: %w", i, key, err)
		}
		if !ok {
			continue
		}
		s.promote(ctx, key, entry, i)
		return entry, true, nil
	}
	return nil, false, nil
}

// Put stores entry in every tier, so a faster tier never outlives the
// slower tiers that back it.
func (s *Store) Put(ctx context.Context, key string, entry *store.Entry) (*store.Entry, error) {
	for i, tier := range s.tiers {
		if _, err := tier.Put(ctx, key, entry); err != nil {
			return nil, fmt.Errorf("multistore: tier %d put %q: %w", i, key, err)
		}
	}
	return entry, nil
}

// Delete removes key from every tier.
func (s *Store) Delete(ctx context.Context, key string) error {
	for i, tier := range s.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			return fmt.Errorf("multistore: tier %d delete %q: %w", i, key, err)
		}
	}
	return nil
}

// promote writes entry to every tier faster than foundAt, best-effort.
func (s *Store) promote(ctx context.Context, key string, entry *store.Entry, foundAt int) {
	for i := 0; i < foundAt; i++ {
		s.tiers[i].Put(ctx, key, entry) //nolint:errcheck // promotion is best-effort
	}
}
