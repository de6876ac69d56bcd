package diskstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cachekit/httpcache/store"
	"github.com/cachekit/httpcache/store/ristrettostore"
)

// digestFor reads back the body digest a key's header envelope points at,
// for asserting content-addressed blob sharing directly.
func digestFor(t *testing.T, s *Store, key string) string {
	t.Helper()
	raw, err := s.headers.Read(keyHash(key))
	require.NoError(t, err)
	var env headerEnvelope
	require.NoError(t, gob.NewDecoder(bytes.NewReader(raw)).Decode(&env))
	return env.BodyDigest
}

func newHeader(url string) *store.Header {
	return &store.Header{
		Status:   200,
		Proto:    "HTTP/1.1",
		Headers:  http.Header{"Content-Type": []string{"text/plain"}},
		URL:      url,
		StoredAt: time.Now(),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	ctx := context.Background()

	header := newHeader("http://example.com/a")
	err := s.Put(ctx, "GET:http://example.com/a", header, store.SliceStream([]byte("hello world"), 0), []byte("meta"))
	require.NoError(t, err)

	got, stream, found, err := s.Get(ctx, "GET:http://example.com/a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 200, got.Status)
	require.Equal(t, []byte("meta"), got.Metadata)
	require.Equal(t, "hello world", string(store.CollectStream(stream)))
}

func TestGetMissReturnsFalseWithoutError(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	_, _, found, err := s.Get(context.Background(), "GET:http://example.com/missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestIdenticalBodiesShareOneBlob(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	ctx := context.Background()
	body := []byte("duplicate payload")

	err := s.Put(ctx, "GET:http://example.com/a", newHeader("http://example.com/a"), store.SliceStream(body, 0), nil)
	require.NoError(t, err)
	err = s.Put(ctx, "GET:http://example.com/b", newHeader("http://example.com/b"), store.SliceStream(body, 0), nil)
	require.NoError(t, err)

	require.Equal(t, digestFor(t, s, "GET:http://example.com/a"), digestFor(t, s, "GET:http://example.com/b"),
		"two entries with byte-identical bodies must share one blob file")

	_, streamA, foundA, err := s.Get(ctx, "GET:http://example.com/a")
	require.NoError(t, err)
	require.True(t, foundA)
	require.Equal(t, body, store.CollectStream(streamA))

	_, streamB, foundB, err := s.Get(ctx, "GET:http://example.com/b")
	require.NoError(t, err)
	require.True(t, foundB)
	require.Equal(t, body, store.CollectStream(streamB))
}

func TestDeleteRemovesOnlyItsOwnBlobWhenShared(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	ctx := context.Background()
	body := []byte("shared payload")

	require.NoError(t, s.Put(ctx, "GET:http://example.com/a", newHeader("http://example.com/a"), store.SliceStream(body, 0), nil))
	require.NoError(t, s.Put(ctx, "GET:http://example.com/b", newHeader("http://example.com/b"), store.SliceStream(body, 0), nil))

	require.NoError(t, s.Delete(ctx, "GET:http://example.com/a"))

	_, _, found, err := s.Get(ctx, "GET:http://example.com/a")
	require.NoError(t, err)
	require.False(t, found)

	// The blob is content-addressed and still referenced by /b's header, so
	// deleting /a only drops /a's reference and the shared blob must
	// survive.
	_, streamB, foundB, err := s.Get(ctx, "GET:http://example.com/b")
	require.NoError(t, err)
	require.True(t, foundB)
	require.Equal(t, body, store.CollectStream(streamB))
}

func TestPutRejectsBodyOverMaxBodySize(t *testing.T) {
	s := New(t.TempDir(), 8, nil)
	ctx := context.Background()

	err := s.Put(ctx, "GET:http://example.com/big", newHeader("http://example.com/big"), store.SliceStream([]byte("this body is way over the limit"), 0), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrBodyTooLarge))

	_, _, found, getErr := s.Get(ctx, "GET:http://example.com/big")
	require.NoError(t, getErr)
	require.False(t, found, "a rejected Put must not leave a partial entry behind")
}

func TestPutAllowsBodyAtExactMaxBodySize(t *testing.T) {
	s := New(t.TempDir(), 5, nil)
	ctx := context.Background()

	err := s.Put(ctx, "GET:http://example.com/exact", newHeader("http://example.com/exact"), store.SliceStream([]byte("exact"), 0), nil)
	require.NoError(t, err)

	_, stream, found, err := s.Get(ctx, "GET:http://example.com/exact")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "exact", string(store.CollectStream(stream)))
}

func TestNewDefaultsMaxBodySize(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	require.Equal(t, int64(DefaultMaxBodySize), s.MaxBodySize)
}

// blockingEraser records every (key, digest) pair it is asked to erase and
// blocks until released, letting tests force the bounded deletion channel
// to overflow.
type blockingEraser struct {
	release chan struct{}
	erased  chan ristrettostore.BlobRef
}

func newBlockingEraser() *blockingEraser {
	return &blockingEraser{release: make(chan struct{}), erased: make(chan ristrettostore.BlobRef, 64)}
}

func (b *blockingEraser) EraseBlob(key, digest string) error {
	<-b.release
	b.erased <- ristrettostore.BlobRef{Key: key, Digest: digest}
	return nil
}

func TestEvictionIndexSchedulesBlobDeletionOnEvict(t *testing.T) {
	eraser := newBlockingEraser()
	close(eraser.release) // don't block; just record immediately

	idx, err := ristrettostore.NewEvictionIndex(ristrettostore.IndexConfig{
		NumCounters: 100,
		MaxCost:     10,
		BufferItems: 64,
	}, eraser)
	require.NoError(t, err)
	defer idx.Close()

	idx.Track("a", "digest-a", 6)
	idx.Track("b", "digest-b", 6) // pushes "a" out under MaxCost=10

	select {
	case ref := <-eraser.erased:
		require.Contains(t, []string{"a", "b"}, ref.Key)
		require.Contains(t, []string{"digest-a", "digest-b"}, ref.Digest)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an evicted blob to be scheduled for deletion")
	}
}

func TestEvictionIndexDropsToGCWhenChannelFull(t *testing.T) {
	eraser := newBlockingEraser() // release never closed: EraseBlob blocks forever

	idx, err := ristrettostore.NewEvictionIndex(ristrettostore.IndexConfig{
		NumCounters: 1000,
		MaxCost:     1,
		BufferItems: 64,
		GCInterval:  50 * time.Millisecond,
	}, eraser)
	require.NoError(t, err)
	defer idx.Close()

	// Evict far more keys than the deletion channel can hold; none of this
	// must block the caller even though eraser.EraseBlob never returns.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			idx.Track(string(rune('a'+i%26))+"-key", "digest", 1)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Track must never block the hot path even when deletion is stalled")
	}
}

func TestDiskstoreWithEvictionIndexErasesOrphanedBlobs(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	erasedFromSelf := make(chan string, 64)
	eraser := eraserFunc(func(key, digest string) error {
		erasedFromSelf <- key
		return s.EraseBlob(key, digest)
	})

	idx, err := ristrettostore.NewEvictionIndex(ristrettostore.IndexConfig{
		NumCounters: 100,
		MaxCost:     16,
		BufferItems: 64,
	}, eraser)
	require.NoError(t, err)
	defer idx.Close()
	s.index = idx

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "GET:http://example.com/a", newHeader("http://example.com/a"), store.SliceStream([]byte("aaaaaaaaaa"), 0), nil))
	require.NoError(t, s.Put(ctx, "GET:http://example.com/b", newHeader("http://example.com/b"), store.SliceStream([]byte("bbbbbbbbbb"), 0), nil))

	var evictedKey string
	select {
	case evictedKey = <-erasedFromSelf:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the index to schedule deletion of the evicted key's blob")
	}

	// The evicted key's header must be gone too, not just its blob -- a
	// surviving header pointing at an erased blob would turn every future
	// Get for it into a permanent "missing blob" error.
	_, _, found, err := s.Get(ctx, evictedKey)
	require.NoError(t, err)
	require.False(t, found, "eviction must erase the header, not just the blob")
}

type eraserFunc func(key, digest string) error

func (f eraserFunc) EraseBlob(key, digest string) error { return f(key, digest) }
