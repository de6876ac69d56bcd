// Package compresscache decorates a store.BufferedManager with automatic
// compression, supporting gzip, brotli and snappy. Grounded on the
// teacher's wrapper/compresscache package (baseCompressCache + the marker-
// byte scheme in gzip.go/brotli.go/snappy.go), generalized from compressing
// a raw []byte Cache value to compressing the store.EncodeEntry wire format
// of a store.Entry: the decorator stores a compressed blob in a synthetic
// entry, so any BufferedManager (memstore, redisstore, pgstore, ...) can sit
// underneath it without knowing compression is happening.
package compresscache

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"

	"github.com/cachekit/httpcache/store"
)

// Algorithm selects the compression codec.
type Algorithm int

const (
	Gzip Algorithm = iota
	Brotli
	Snappy
)

func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Stats holds compression statistics.
type Stats struct {
	CompressedBytes   int64
	UncompressedBytes int64
	CompressedCount   int64
	SavingsPercent    float64
}

const headerAlgorithm = "X-Cachekit-Compress-Algorithm"

// Store decorates inner with compression. Build one via New{Gzip,Brotli,Snappy}.
type Store struct {
	inner     store.BufferedManager
	algorithm Algorithm
	compress  func([]byte) ([]byte, error)
	decompress func([]byte) ([]byte, error)

	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
	compressedCount   atomic.Int64
}

// Config configures a compressing Store.
type Config struct {
	// Store is the underlying BufferedManager (required).
	Store store.BufferedManager
	// Level is the compression level; meaning depends on the algorithm
	// (gzip: -2..9, brotli: 0..11, ignored for snappy). Zero picks each
	// algorithm's own default.
	Level int
}

// NewGzip decorates config.Store with gzip compression.
func NewGzip(config Config) (*Store, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("compresscache: store is required")
	}
	level := config.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("compresscache: invalid gzip level %d", level)
	}
	return &Store{
		inner:     config.Store,
		algorithm: Gzip,
		compress: func(data []byte) ([]byte, error) {
			var buf bytes.Buffer
			w, err := gzip.NewWriterLevel(&buf, level)
			if err != nil {
				return nil, err
			}
			if _, err := w.Write(data); err != nil {
				w.Close()
				return nil, err
			}
			if err := w.Close(); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		decompress: func(data []byte) ([]byte, error) {
			r, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			defer r.Close()
			return io.ReadAll(r)
		},
	}, nil
}

// NewBrotli decorates config.Store with brotli compression.
func NewBrotli(config Config) (*Store, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("compresscache: store is required")
	}
	level := config.Level
	if level == 0 {
		level = 6
	}
	return &Store{
		inner:     config.Store,
		algorithm: Brotli,
		compress: func(data []byte) ([]byte, error) {
			var buf bytes.Buffer
			w := brotli.NewWriterLevel(&buf, level)
			if _, err := w.Write(data); err != nil {
				w.Close()
				return nil, err
			}
			if err := w.Close(); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		decompress: func(data []byte) ([]byte, error) {
			return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
		},
	}, nil
}

// NewSnappy decorates config.Store with snappy compression.
func NewSnappy(config Config) (*Store, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("compresscache: store is required")
	}
	return &Store{
		inner:     config.Store,
		algorithm: Snappy,
		compress: func(data []byte) ([]byte, error) {
			return snappy.Encode(nil, data), nil
		},
		decompress: func(data []byte) ([]byte, error) {
			return snappy.Decode(nil, data)
		},
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*store.Entry, bool, error) {
	wrapped, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}

	compressed, err := io.ReadAll(wrapped.Response.Body)
	if err != nil {
		return nil, false, fmt.Errorf("compresscache: read compressed blob for %q: %w", key, err)
	}
	wrapped.Response.Body.Close()

	raw, err := s.decompress(compressed)
	if err != nil {
		return nil, false, fmt.Errorf("compresscache: decompress %q (%s): %w", key, s.algorithm, err)
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

	compressed, err := s.compress(raw)
	if err != nil {
		return nil, fmt.Errorf("compresscache: compress %q (%s): %w", key, s.algorithm, err)
	}
	s.compressedBytes.Add(int64(len(compressed)))
	s.uncompressedBytes.Add(int64(len(raw)))
	s.compressedCount.Add(1)

	wrapped := &store.Entry{
		Response: &http.Response{
			StatusCode: http.StatusOK,
			Proto:      "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
			Header: http.Header{headerAlgorithm: []string{s.algorithm.String()}},
			Body:   io.NopCloser(bytes.NewReader(compressed)),
		},
		StoredAt: entry.StoredAt,
		TTL:      entry.TTL,
	}
	if _, err := s.inner.Put(ctx, key, wrapped); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Stats returns compression statistics accumulated since construction.
func (s *Store) Stats() Stats {
	compressed := s.compressedBytes.Load()
	uncompressed := s.uncompressedBytes.Load()
	var savings float64
	if uncompressed > 0 {
		savings = (1.0 - float64(compressed)/float64(uncompressed)) * 100
	}
	return Stats{
		CompressedBytes:   compressed,
		UncompressedBytes: uncompressed,
		CompressedCount:   s.compressedCount.Load(),
		SavingsPercent:    savings,
	}
}
