// Package ristrettostore is a store.BufferedManager backed by
// dgraph-io/ristretto's TinyLFU admission-policy cache. None of the
// retrieval pack's teacher repo examples wire up ristretto directly (it
// appears only in the teacher's go.mod, unused by any package under it), so
// this adapter is grounded on the shape of the pack's other in-process
// store (freecachestore, itself grounded on freecache/freecache.go) rather
// than a teacher file, adapted to ristretto's cost-based Get/SetWithTTL/Del
// API as documented by the library.
package ristrettostore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/cachekit/httpcache/store"
)

// Config configures a Store's underlying ristretto.Cache.
type Config struct {
	// NumCounters sets the number of keys used to track access frequency.
	// Ristretto recommends ~10x the number of items you expect to hold.
	NumCounters int64
	// MaxCost is the maximum total cost (bytes, by default) the cache will
	// hold before evicting.
	MaxCost int64
	// BufferItems is the per-Get buffer size ristretto uses internally.
	BufferItems int64
}

// DefaultConfig returns a Config sized for a few thousand cached responses.
func DefaultConfig() Config {
	return Config{
		NumCounters: 1e6,
		MaxCost:     64 * 1024 * 1024,
		BufferItems: 64,
	}
}

// Store is a ristretto-backed BufferedManager. Eviction is cost-based
// (entry size in bytes) with TinyLFU-informed admission, so a burst of
// once-off keys doesn't evict a working set of frequently reused entries.
type Store struct {
	cache *ristretto.Cache[string, []byte]
}

// New builds a Store per config.
func New(config Config) (*Store, error) {
	def := DefaultConfig()
	if config.NumCounters == 0 {
		config.NumCounters = def.NumCounters
	}
	if config.MaxCost == 0 {
		config.MaxCost = def.MaxCost
	}
	if config.BufferItems == 0 {
		config.BufferItems = def.BufferItems
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: config.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("ristrettostore: new cache: %w", err)
	}
	return &Store{cache: cache}, nil
}

func (s *Store) Get(_ context.Context, key string) (*store.Entry, bool, error) {
	raw, ok := s.cache.Get(key)
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
	cost := int64(len(raw))
	if entry.TTL > 0 {
		s.cache.SetWithTTL(key, raw, cost, entry.TTL)
	} else {
		s.cache.Set(key, raw, cost)
	}
	s.cache.Wait()
	return decoded, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.cache.Del(key)
	return nil
}

// Close releases ristretto's background goroutines.
func (s *Store) Close() {
	s.cache.Close()
}

// defaultDeleteQueueSize bounds the channel an EvictionIndex uses to hand
// evicted blob references to its background deletion goroutine.
const defaultDeleteQueueSize = 256

// BlobRef identifies the header key and content digest of an entry an
// EvictionIndex has decided to evict. Both are needed to clean up fully: the
// digest names the blob to erase, the key names the header envelope that
// pointed at it.
type BlobRef struct {
	Key    string
	Digest string
}

// BlobEraser removes both the header and the content-addressed blob for an
// evicted entry. Implemented by store/diskstore.Store, whose entries an
// EvictionIndex reclaims once TinyLFU pressure evicts the key pointing at
// them.
type BlobEraser interface {
	EraseBlob(key, digest string) error
}

// IndexConfig configures an EvictionIndex.
type IndexConfig struct {
	// NumCounters, MaxCost, BufferItems mirror Config -- see DefaultConfig.
	NumCounters int64
	MaxCost     int64
	BufferItems int64

	// GCInterval controls how often digests that overflowed the bounded
	// deletion channel are retried. Defaults to 30s.
	GCInterval time.Duration
}

// DefaultIndexConfig returns an IndexConfig sized for a few thousand
// indexed keys.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		NumCounters: 1e6,
		MaxCost:     64 * 1024 * 1024,
		BufferItems: 64,
		GCInterval:  30 * time.Second,
	}
}

// EvictionIndex is a bounded TinyLFU index of key -> BlobRef, used by a
// content-addressed store.StreamingManager (store/diskstore) to decide
// which entries stay live. When ristretto evicts a key under cost pressure,
// the index schedules deletion of that entry's header and blob through a
// bounded channel; if the channel is full, the reference is queued for the
// next periodic GC sweep instead, so eviction never blocks the hot path.
type EvictionIndex struct {
	cache       *ristretto.Cache[string, BlobRef]
	eraser      BlobEraser
	deleteQueue chan BlobRef

	mu      sync.Mutex
	pending []BlobRef

	stop      chan struct{}
	closeOnce sync.Once
}

// NewEvictionIndex builds an EvictionIndex that reclaims evicted entries
// through eraser.
func NewEvictionIndex(config IndexConfig, eraser BlobEraser) (*EvictionIndex, error) {
	def := DefaultIndexConfig()
	if config.NumCounters == 0 {
		config.NumCounters = def.NumCounters
	}
	if config.MaxCost == 0 {
		config.MaxCost = def.MaxCost
	}
	if config.BufferItems == 0 {
		config.BufferItems = def.BufferItems
	}
	if config.GCInterval == 0 {
		config.GCInterval = def.GCInterval
	}

	idx := &EvictionIndex{
		eraser:      eraser,
		deleteQueue: make(chan BlobRef, defaultDeleteQueueSize),
		stop:        make(chan struct{}),
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, BlobRef]{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: config.BufferItems,
		OnEvict: func(item *ristretto.Item[BlobRef]) {
			idx.scheduleDelete(item.Value)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ristrettostore: new eviction index: %w", err)
	}
	idx.cache = cache

	go idx.gcLoop(config.GCInterval)
	return idx, nil
}

// Track records that key's blob lives under digest, with cost bytes
// counting against the index's bound. A subsequent eviction of key
// schedules the (key, digest) pair for deletion.
func (idx *EvictionIndex) Track(key, digest string, cost int64) {
	idx.cache.Set(key, BlobRef{Key: key, Digest: digest}, cost)
	idx.cache.Wait()
}

// Remove drops key from the index without scheduling a deletion -- for use
// when the caller is already erasing the entry itself (an explicit Delete).
func (idx *EvictionIndex) Remove(key string) {
	idx.cache.Del(key)
}

func (idx *EvictionIndex) scheduleDelete(ref BlobRef) {
	select {
	case idx.deleteQueue <- ref:
	default:
		idx.mu.Lock()
		idx.pending = append(idx.pending, ref)
		idx.mu.Unlock()
	}
}

func (idx *EvictionIndex) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case ref, ok := <-idx.deleteQueue:
			if !ok {
				return
			}
			_ = idx.eraser.EraseBlob(ref.Key, ref.Digest)
		case <-ticker.C:
			idx.flushPending()
		case <-idx.stop:
			return
		}
	}
}

func (idx *EvictionIndex) flushPending() {
	idx.mu.Lock()
	pending := idx.pending
	idx.pending = nil
	idx.mu.Unlock()
	for _, ref := range pending {
		_ = idx.eraser.EraseBlob(ref.Key, ref.Digest)
	}
}

// Close stops the background deletion goroutine and releases ristretto's
// own goroutines.
func (idx *EvictionIndex) Close() {
	idx.closeOnce.Do(func() {
		close(idx.stop)
		idx.cache.Close()
	})
}
