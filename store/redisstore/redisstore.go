// Package redisstore is a Redis-backed store.BufferedManager. Grounded on
// the teacher's redis/redis.go cache, adapted from a raw []byte Cache to
// store.Entry via store.EncodeEntry/DecodeEntry, and upgraded from redigo's
// pool-of-connections model to github.com/redis/go-redis/v9's client, the
// library the rest of the retrieval pack standardizes on for Redis access.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cachekit/httpcache/store"
)

// Config holds Redis connection settings, mirroring the teacher's
// redis.Config shape.
type Config struct {
	Address  string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults, mirroring the
// teacher's DefaultConfig.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Store is a Redis-backed BufferedManager.
type Store struct {
	client *redis.Client
}

// cacheKey prefixes keys to avoid collision with other data in the same
// Redis keyspace, matching the teacher's cacheKey helper.
func cacheKey(key string) string {
	return "cachekit:" + key
}

// New dials Redis per config and returns a Store. It pings the server once
// up front, the same fail-fast behavior as the teacher's New.
func New(config Config) (*Store, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redisstore: address is required")
	}
	def := DefaultConfig()
	if config.DialTimeout == 0 {
		config.DialTimeout = def.DialTimeout
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = def.WriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an already-configured *redis.Client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) (*store.Entry, bool, error) {
	raw, err := s.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redisstore: get %q: %w", key, err)
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
	ttl := entry.TTL
	if err := s.client.Set(ctx, cacheKey(key), raw, ttl).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: set %q: %w", key, err)
	}
	return decoded, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %q: %w", key, err)
	}
	return nil
}
