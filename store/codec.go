package store

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"
)

// Byte-oriented backends (memstore, redisstore, pgstore, memcachestore, ...)
// round-trip an *Entry as a single []byte blob. EncodeEntry/DecodeEntry give
// every such adapter one shared wire format instead of each inventing its
// own, the way the teacher's cacheGet/cacheSet treat a cached response as an
// opaque byte slice produced by httputil.DumpResponse.
//
// StoredAt, TTL and Metadata have no place in a raw HTTP response, so they
// travel as a short-lived header prefix stripped back off on decode -- the
// same trick httpcache.go uses for XCachedTime.
const (
	headerStoredAt = "X-Cachekit-Stored-At"
	headerTTL      = "X-Cachekit-Ttl"
	headerMetadata = "X-Cachekit-Metadata"
)

// EncodeEntry serializes entry to bytes and returns the decoded form it read
// back from (so callers can hand the caller-visible *Entry the exact value
// that will come back out of storage, body included).
func EncodeEntry(entry *Entry) ([]byte, *Entry, error) {
	if entry == nil || entry.Response == nil {
		return nil, nil, fmt.Errorf("store: cannot encode nil entry or response")
	}

	body, err := io.ReadAll(entry.Response.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("store: read entry body: %w", err)
	}
	entry.Response.Body.Close()
	entry.Response.Body = io.NopCloser(bytes.NewReader(body))

	clone := *entry.Response
	resp := &clone
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.Header = resp.Header.Clone()
	resp.Header.Set(headerStoredAt, entry.StoredAt.UTC().Format(time.RFC3339Nano))
	resp.Header.Set(headerTTL, entry.TTL.String())
	if len(entry.Metadata) > 0 {
		resp.Header.Set(headerMetadata, base64.StdEncoding.EncodeToString(entry.Metadata))
	}

	dumped, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, nil, fmt.Errorf("store: dump response: %w", err)
	}

	entry.Response.Body = io.NopCloser(bytes.NewReader(body))
	decoded, err := DecodeEntry(dumped)
	if err != nil {
		return nil, nil, err
	}
	return dumped, decoded, nil
}

// DecodeEntry is EncodeEntry's inverse.
func DecodeEntry(raw []byte) (*Entry, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return nil, fmt.Errorf("store: read response: %w", err)
	}

	entry := &Entry{}

	if v := resp.Header.Get(headerStoredAt); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			entry.StoredAt = t
		}
		resp.Header.Del(headerStoredAt)
	}
	if v := resp.Header.Get(headerTTL); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			entry.TTL = d
		}
		resp.Header.Del(headerTTL)
	}
	if v := resp.Header.Get(headerMetadata); v != "" {
		if b, err := base64.StdEncoding.DecodeString(v); err == nil {
			entry.Metadata = b
		}
		resp.Header.Del(headerMetadata)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("store: read decoded body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))

	entry.Response = resp
	return entry, nil
}
