package security

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cachekit/httpcache/store"
)

// Store decorates an inner store.BufferedManager with key hashing and,
// optionally, AES-256-GCM encryption of the stored body -- the same two
// knobs the teacher's Transport.security offered, exposed here as a
// standalone decorator any BufferedManager can sit behind.
type Store struct {
	inner     store.BufferedManager
	encryptor *Encryptor
}

// NewStore wraps inner. encryptor may be nil, in which case only key
// hashing is applied.
func NewStore(inner store.BufferedManager, encryptor *Encryptor) *Store {
	return &Store{inner: inner, encryptor: encryptor}
}

func (s *Store) Get(ctx context.Context, key string) (*store.Entry, bool, error) {
	wrapped, ok, err := s.inner.Get(ctx, HashKey(key))
	if err != nil || !ok {
		return nil, ok, err
	}
	if s.encryptor == nil {
		return wrapped, true, nil
	}

	ciphertext, err := io.ReadAll(wrapped.Response.Body)
	if err != nil {
		return nil, false, fmt.Errorf("security: read encrypted blob for %q: %w", key, err)
	}
	wrapped.Response.Body.Close()

	raw, err := s.encryptor.Decrypt(ciphertext)
	if err != nil {
		return nil, false, fmt.Errorf("security: decrypt %q: %w", key, err)
	}
	entry, err := store.DecodeEntry(raw)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *Store) Put(ctx context.Context, key string, entry *store.Entry) (*store.Entry, error) {
	if s.encryptor == nil {
		if _, err := s.inner.Put(ctx, HashKey(key), entry); err != nil {
			return nil, err
		}
		return entry, nil
	}

	raw, decoded, err := store.EncodeEntry(entry)
	if err != nil {
		return nil, err
	}
	ciphertext, err := s.encryptor.Encrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("security: encrypt %q: %w", key, err)
	}

	wrapped := &store.Entry{
		Response: &http.Response{
			StatusCode: http.StatusOK,
			Proto:      "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
			Header: http.Header{},
			Body:   io.NopCloser(bytes.NewReader(ciphertext)),
		},
		StoredAt: entry.StoredAt,
		TTL:      entry.TTL,
	}
	if _, err := s.inner.Put(ctx, HashKey(key), wrapped); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, HashKey(key))
}
