// Package blobstore is a cloud-agnostic store.BufferedManager built on
// gocloud.dev's blob abstraction (S3, GCS, Azure Blob, filesystem, memory).
// Grounded on the teacher's blobcache/blobcache.go cache, adapted from a raw
// []byte Cache to store.Entry via store.EncodeEntry/DecodeEntry; the
// stale-marker blob is dropped for the same reason as the other adapters
// (staleness is recomputed from stored headers, not a side flag).
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/cachekit/httpcache/store"
)

// Config holds blob bucket settings, mirroring the teacher's blobcache.Config
// shape.
type Config struct {
	BucketURL string
	KeyPrefix string
	Timeout   time.Duration
	Bucket    *blob.Bucket
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "cache/",
		Timeout:   30 * time.Second,
	}
}

// Store is a gocloud.dev blob-backed BufferedManager.
type Store struct {
	bucket     *blob.Bucket
	keyPrefix  string
	timeout    time.Duration
	ownsBucket bool
}

// New opens a bucket per config.BucketURL (or uses config.Bucket if
// provided) and returns a Store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.BucketURL == "" && config.Bucket == nil {
		return nil, fmt.Errorf("blobstore: either BucketURL or Bucket must be provided")
	}
	def := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}

	if config.Bucket != nil {
		return &Store{bucket: config.Bucket, keyPrefix: config.KeyPrefix, timeout: config.Timeout}, nil
	}

	bucket, err := blob.OpenBucket(ctx, config.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open bucket: %w", err)
	}
	return &Store{bucket: bucket, keyPrefix: config.KeyPrefix, timeout: config.Timeout, ownsBucket: true}, nil
}

// NewWithBucket wraps an already-opened bucket. The caller owns closing it.
func NewWithBucket(bucket *blob.Bucket, keyPrefix string, timeout time.Duration) *Store {
	def := DefaultConfig()
	if keyPrefix == "" {
		keyPrefix = def.KeyPrefix
	}
	if timeout == 0 {
		timeout = def.Timeout
	}
	return &Store{bucket: bucket, keyPrefix: keyPrefix, timeout: timeout}
}

// blobKey hashes key with SHA-256 to sidestep character restrictions in
// cloud object-storage key namespaces.
func (s *Store) blobKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return s.keyPrefix + hex.EncodeToString(hash[:])
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

	reader, err := s.bucket.NewReader(ctx, s.blobKey(key), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("blobstore: get %q: %w", key, err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("blobstore: read %q: %w", key, err)
	}

	entry, err := store.DecodeEntry(raw)
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

	writer, err := s.bucket.NewWriter(ctx, s.blobKey(key), nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open writer for %q: %w", key, err)
	}
	_, writeErr := writer.Write(raw)
	closeErr := writer.Close()
	if writeErr != nil {
		return nil, fmt.Errorf("blobstore: write %q: %w", key, writeErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("blobstore: close writer for %q: %w", key, closeErr)
	}
	return decoded, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.bucket.Delete(ctx, s.blobKey(key)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("blobstore: delete %q: %w", key, err)
	}
	return nil
}

// Close closes the bucket if this Store opened it via New.
func (s *Store) Close() error {
	if s.ownsBucket {
		if err := s.bucket.Close(); err != nil {
			return fmt.Errorf("blobstore: close bucket: %w", err)
		}
	}
	return nil
}
