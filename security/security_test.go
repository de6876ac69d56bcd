package security

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachekit/httpcache/store"
)

func TestHashKeyConsistentAndDistinct(t *testing.T) {
	hash1 := HashKey("https://example.com/test")
	hash2 := HashKey("https://example.com/test")
	require.Equal(t, hash1, hash2)
	require.Len(t, hash1, 64)
	require.NotEqual(t, hash1, HashKey("https://example.com/other"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("test-passphrase-12345")
	require.NoError(t, err)

	plaintext := []byte("Hello, World! This is a test message for encryption.")
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestDecryptShortCiphertext(t *testing.T) {
	enc, err := NewEncryptor("test-passphrase-12345")
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte("short"))
	require.Error(t, err)
}

type memManager struct {
	data map[string][]byte
}

func newMemManager() *memManager { return &memManager{data: map[string][]byte{}} }

func (m *memManager) Get(_ context.Context, key string) (*store.Entry, bool, error) {
	raw, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	resp := &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(newReader(raw))}
	return &store.Entry{Response: resp}, true, nil
}

func (m *memManager) Put(_ context.Context, key string, entry *store.Entry) (*store.Entry, error) {
	body, _ := io.ReadAll(entry.Response.Body)
	m.data[key] = body
	return entry, nil
}

func (m *memManager) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func newReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

type sliceReader struct{ b []byte }

func (r *sliceReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func mustResp(body string) *http.Response {
	return &http.Response{
		StatusCode: 200,
		Proto:      "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   io.NopCloser(newReader([]byte(body))),
	}
}

func TestSecureStoreHashesKeysAndEncrypts(t *testing.T) {
	inner := newMemManager()
	enc, err := NewEncryptor("test-passphrase")
	require.NoError(t, err)
	sec := NewStore(inner, enc)

	ctx := context.Background()
	key := "https://example.com/test"
	entry := &store.Entry{Response: mustResp("Hello, World!")}

	_, err = sec.Put(ctx, key, entry)
	require.NoError(t, err)

	hashedKey := HashKey(key)
	stored, ok := inner.data[hashedKey]
	require.True(t, ok, "entry should be stored under the hashed key")
	require.NotContains(t, string(stored), "Hello, World!")

	got, ok, err := sec.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	body, err := io.ReadAll(got.Response.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "Hello, World!")
}

func TestSecureStoreWithoutEncryptionOnlyHashesKeys(t *testing.T) {
	inner := newMemManager()
	sec := NewStore(inner, nil)

	ctx := context.Background()
	key := "https://example.com/test"
	entry := &store.Entry{Response: mustResp("plain data")}

	_, err := sec.Put(ctx, key, entry)
	require.NoError(t, err)

	_, ok := inner.data[HashKey(key)]
	require.True(t, ok)
}
