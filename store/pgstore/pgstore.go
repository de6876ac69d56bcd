// Package pgstore is a PostgreSQL-backed store.BufferedManager. Grounded on
// the teacher's postgresql/postgresql.go Cache, adapted from a raw []byte
// Cache to store.Entry via store.EncodeEntry/DecodeEntry. The stale-marking
// columns (MarkStale/IsStale/GetStale in the teacher) aren't carried over:
// staleness here is entirely a function of the stored response's own
// headers, recomputed by policy.Policy on every read, so a separate stale
// flag in the row would just be a second source of truth to keep in sync.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cachekit/httpcache/store"
)

var (
	ErrNilPool = errors.New("pgstore: pool cannot be nil")
)

const (
	DefaultTableName = "cachekit_entries"
	DefaultKeyPrefix = "cache:"
)

// Config configures a Store.
type Config struct {
	TableName string
	KeyPrefix string
	Timeout   time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		TableName: DefaultTableName,
		KeyPrefix: DefaultKeyPrefix,
		Timeout:   5 * time.Second,
	}
}

// Store is a PostgreSQL-backed BufferedManager.
type Store struct {
	pool      *pgxpool.Pool
	tableName string
	keyPrefix string
	timeout   time.Duration
}

func (s *Store) cacheKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Get(ctx context.Context, key string) (*store.Entry, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var data []byte
	query := `SELECT data FROM ` + s.tableName + ` WHERE key = $1`
	if err := s.pool.QueryRow(ctx, query, s.cacheKey(key)).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pgstore: get %q: %w", key, err)
	}

	entry, err := store.DecodeEntry(data)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *Store) Put(ctx context.Context, key string, entry *store.Entry) (*store.Entry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, decoded, err := store.EncodeEntry(entry)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO ` + s.tableName + ` (key, data, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET data = $2, created_at = $3
	`
	if _, err := s.pool.Exec(ctx, query, s.cacheKey(key), raw, time.Now()); err != nil {
		return nil, fmt.Errorf("pgstore: set %q: %w", key, err)
	}
	return decoded, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM ` + s.tableName + ` WHERE key = $1`
	if _, err := s.pool.Exec(ctx, query, s.cacheKey(key)); err != nil {
		return fmt.Errorf("pgstore: delete %q: %w", key, err)
	}
	return nil
}

// CreateTable creates the backing table if it doesn't already exist.
func (s *Store) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// NewWithPool returns a Store using an already-configured pool.
func NewWithPool(pool *pgxpool.Pool, config *Config) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Store{pool: pool, tableName: config.TableName, keyPrefix: config.KeyPrefix, timeout: config.Timeout}, nil
}

// New dials Postgres via connString and creates the backing table.
func New(ctx context.Context, connString string, config *Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultConfig()
	}
	s := &Store{pool: pool, tableName: config.TableName, keyPrefix: config.KeyPrefix, timeout: config.Timeout}
	if err := s.CreateTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}
