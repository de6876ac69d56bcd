// Package natsstore is a NATS JetStream Key/Value-backed
// store.BufferedManager. Grounded on the teacher's natskv/natskv.go cache,
// adapted from a raw []byte Cache to store.Entry via
// store.EncodeEntry/DecodeEntry.
package natsstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/cachekit/httpcache/engine"
	"github.com/cachekit/httpcache/store"
)

// Config holds NATS K/V connection settings, mirroring the teacher's
// natskv.Config shape.
type Config struct {
	NATSUrl     string
	Bucket      string
	Description string
	TTL         time.Duration
	NATSOptions []nats.Option
}

// Store is a NATS JetStream K/V-backed BufferedManager.
type Store struct {
	kv jetstream.KeyValue
	nc *nats.Conn
}

func cacheKey(key string) string {
	return "cachekit." + key
}

func (s *Store) Get(ctx context.Context, key string) (*store.Entry, bool, error) {
	e, err := s.kv.Get(ctx, cacheKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natsstore: get %q: %w", key, err)
	}
	entry, err := store.DecodeEntry(e.Value())
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
	if _, err := s.kv.Put(ctx, cacheKey(key), raw); err != nil {
		engine.GetLogger().Warn("failed to write to NATS K/V store", "key", key, "error", err)
		return nil, fmt.Errorf("natsstore: put %q: %w", key, err)
	}
	return decoded, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, cacheKey(key)); err != nil {
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			engine.GetLogger().Warn("failed to delete from NATS K/V store", "key", key, "error", err)
			return fmt.Errorf("natsstore: delete %q: %w", key, err)
		}
	}
	return nil
}

// Close closes the underlying NATS connection if it was created by New. A
// no-op when the Store was built with NewWithKeyValue.
func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

// New connects to NATS, opens a JetStream context and creates or updates
// the K/V bucket per config.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("natsstore: bucket name is required")
	}
	url := config.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, config.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("natsstore: connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsstore: jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: config.Description,
		TTL:         config.TTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsstore: create/update bucket: %w", err)
	}

	return &Store{kv: kv, nc: nc}, nil
}

// NewWithKeyValue wraps an already-configured jetstream.KeyValue. Close is a
// no-op since the caller owns the connection.
func NewWithKeyValue(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}
