// Package servercache implements the response-first, server-mode decision
// engine (spec.md §4.2): a handler runs on every lookup miss or stale hit,
// and the storage decision is made after seeing the response headers
// rather than before making a request. Grounded on the teacher's
// Authorization/private/Vary handling (cachecontrol.go, vary.go) and on
// original_source/http-cache-tower-server/src/lib.rs's ServerCacheLayer,
// which sits in front of a handler instead of in front of an origin call
// the way the teacher's Transport does.
package servercache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cachekit/httpcache/cachekey"
	"github.com/cachekit/httpcache/engine"
	"github.com/cachekit/httpcache/policy"
	"github.com/cachekit/httpcache/rewriter"
	"github.com/cachekit/httpcache/store"
)

// Config mirrors the original's ServerCacheOptions: the should-cache
// thresholds (§4.2.1) plus the write-behind worker pool sizing (§4.2.3).
type Config struct {
	// DefaultTTL is used when a response is cacheable but names no
	// explicit lifetime (a bare "public" directive, or cache_by_default).
	DefaultTTL time.Duration
	// MaxTTL/MinTTL clamp every computed TTL, explicit or default.
	MaxTTL time.Duration
	MinTTL time.Duration
	// MaxBodySize is the hard cap on a cacheable response body; larger
	// bodies are served but never written to storage.
	MaxBodySize int64
	// CacheByDefault caches non-Authorization responses that name no
	// caching directive at all (§4.2.1 rule 11).
	CacheByDefault bool
	// RespectVary delegates stored/request match to the policy oracle.
	RespectVary bool
	// RespectAuthorization requires an explicit public/s-maxage/
	// must-revalidate directive before caching a response to a request
	// that carried an Authorization header (§4.2.1 rule 3).
	RespectAuthorization bool
	// CacheStatusHeaders toggles x-cache / x-cache-lookup emission.
	CacheStatusHeaders bool
	// WriteBehindWorkers is the number of goroutines draining the
	// write-behind queue. WriteBehindQueueSize bounds that queue; once
	// full, a write is dropped and logged rather than blocking the
	// response path (§4.2.3, §5's resource-model "never blocks the hot
	// path" requirement reused from the streaming variant).
	WriteBehindWorkers   int
	WriteBehindQueueSize int
}

// DefaultConfig matches the original Rust ServerCacheOptions::default().
func DefaultConfig() Config {
	return Config{
		DefaultTTL:           60 * time.Second,
		MaxTTL:               time.Hour,
		MaxBodySize:          128 * 1024 * 1024,
		CacheByDefault:       false,
		RespectVary:          true,
		RespectAuthorization: true,
		CacheStatusHeaders:   true,
		WriteBehindWorkers:   4,
		WriteBehindQueueSize: 256,
	}
}

// Option configures a Layer, mirroring engine.Option's functional-options
// pattern.
type Option func(*Layer)

// WithCacheKeyFunc overrides cache-key derivation (default cachekey.Default).
func WithCacheKeyFunc(fn func(req *http.Request) string) Option {
	return func(l *Layer) { l.cacheKeyFn = fn }
}

// Layer is the server-mode cache: a store.BufferedManager plus the
// should-cache/Vary/write-behind policy wrapped around it.
type Layer struct {
	storage     store.BufferedManager
	config      Config
	cacheKeyFn  func(req *http.Request) string
	writeBehind *writeBehind
}

// New builds a Layer backed by storage. Call Close when done to drain the
// write-behind worker pool.
func New(storage store.BufferedManager, config Config, opts ...Option) *Layer {
	l := &Layer{storage: storage, config: config}
	for _, opt := range opts {
		opt(l)
	}
	l.writeBehind = newWriteBehind(storage, config.WriteBehindWorkers, config.WriteBehindQueueSize)
	return l
}

// Close stops accepting new write-behind jobs and waits for the queue to
// drain.
func (l *Layer) Close() {
	l.writeBehind.Close()
}

func (l *Layer) cacheKey(req *http.Request) string {
	if l.cacheKeyFn != nil {
		return l.cacheKeyFn(req)
	}
	return cachekey.Default(req)
}

// Analysis is the spec's analyze_request result: the key this request
// addresses and whether it's eligible for cache lookup at all.
type Analysis struct {
	Key         string
	ShouldCache bool
}

// analyzeRequest implements analyze_request: only GET/HEAD participate in
// lookup or storage, matching the client-mode engine's own cacheable test.
func (l *Layer) analyzeRequest(req *http.Request) Analysis {
	return Analysis{
		Key:         l.cacheKey(req),
		ShouldCache: req.Method == http.MethodGet || req.Method == http.MethodHead,
	}
}

// Middleware wraps next with the server-mode cache, per spec.md §4.2's
// func(http.Handler) http.Handler shape.
func (l *Layer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.serve(w, r, next)
	})
}

func (l *Layer) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	analysis := l.analyzeRequest(r)

	if !analysis.ShouldCache {
		next.ServeHTTP(w, r)
		return
	}

	entry, found := l.lookupCachedResponse(ctx, analysis.Key)
	now := time.Now()

	if found && l.isFresh(r, entry, now) {
		l.writeCached(w, entry, rewriter.StatusHit)
		return
	}

	req := r
	if found {
		req = prepareConditionalRequest(r, entry)
	}

	capture := newCaptureWriter()
	next.ServeHTTP(capture, req)

	if found && capture.status == http.StatusNotModified {
		l.handleNotModified(ctx, w, req, entry, capture, analysis.Key)
		return
	}

	lookupStatus := rewriter.StatusMiss
	if found {
		lookupStatus = rewriter.StatusHit
	}
	l.processResponse(ctx, w, req, analysis, capture, lookupStatus)
}

// lookupCachedResponse implements lookup_cached_response. Storage errors
// are logged and treated as a miss, matching the client-mode engine's own
// policy of never failing a request because storage is unavailable.
func (l *Layer) lookupCachedResponse(ctx context.Context, key string) (*store.Entry, bool) {
	entry, found, err := l.storage.Get(ctx, key)
	if err != nil {
		debug(engine.GetLogger(), "storage lookup failed, treating as miss", "key", key, "error", err)
		return nil, false
	}
	return entry, found
}

// isFresh implements §4.2.2's effective freshness rule: an explicit
// response TTL (max-age/s-maxage) defers entirely to the policy oracle; a
// TTL assigned only via public/Expires/cache_by_default is authoritative
// via the engine's own cached_at+ttl test, except that a Vary mismatch
// always wins.
func (l *Layer) isFresh(req *http.Request, entry *store.Entry, now time.Time) bool {
	if l.config.RespectVary && !policy.Matches(entry.Response.Header, req) {
		return false
	}

	respCC := policy.ParseCacheControl(entry.Response.Header, engine.GetLogger())
	hasExplicitTTL := respCC.Has(policy.MaxAge) || respCC.Has(policy.SMaxAge)
	if hasExplicitTTL {
		p := policy.New(req, entry.Response, policy.Options{IsPublicCache: true, Log: engine.GetLogger()})
		return p.BeforeRequest(req.Header, now).Fresh
	}
	return now.Before(entry.StoredAt.Add(entry.TTL))
}

// prepareConditionalRequest implements prepare_conditional_request: a
// stale-but-present entry's validators are attached to the request handed
// to the local handler, giving a handler backed by its own conditional
// logic the chance to answer 304 instead of regenerating the full body.
func prepareConditionalRequest(r *http.Request, entry *store.Entry) *http.Request {
	etag := entry.Response.Header.Get("Etag")
	lastModified := entry.Response.Header.Get("Last-Modified")
	if etag == "" && lastModified == "" {
		return r
	}

	clone := r.Clone(r.Context())
	if etag != "" && clone.Header.Get("If-None-Match") == "" {
		clone.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" && clone.Header.Get("If-Modified-Since") == "" {
		clone.Header.Set("If-Modified-Since", lastModified)
	}
	return clone
}

// handleNotModified implements handle_not_modified: the handler answered
// 304 to a conditional request prepared from a stale entry, so the stored
// headers are refreshed from the 304's end-to-end headers (reusing the
// client-mode engine's own revalidation merge via policy.AfterResponse)
// and re-queued for write-behind with a fresh StoredAt.
func (l *Layer) handleNotModified(ctx context.Context, w http.ResponseWriter, req *http.Request, entry *store.Entry, capture *captureWriter, key string) {
	notModified := &http.Response{StatusCode: http.StatusNotModified, Header: capture.header}
	p := policy.New(req, entry.Response, policy.Options{IsPublicCache: true, Log: engine.GetLogger()})
	result := p.AfterResponse(req, notModified, policy.Options{Log: engine.GetLogger()})
	rewriter.UpdateHeaders(entry.Response.Header, result.UpdatedHeaders)

	var body []byte
	if entry.Response.Body != nil {
		var err error
		body, err = io.ReadAll(entry.Response.Body)
		entry.Response.Body.Close()
		if err != nil {
			debug(engine.GetLogger(), "failed to read stored body for revalidated entry", "key", key, "error", err)
			body = nil
		}
	}

	// The served copy and the write-behind copy each get their own Body
	// reader over the same immutable bytes, so the request goroutine and
	// the write-behind worker never race on the same io.Reader.
	l.writeBehind.submit(ctx, key, &store.Entry{
		Response: withBody(entry.Response, body),
		Metadata: entry.Metadata,
		StoredAt: time.Now(),
		TTL:      entry.TTL,
	})
	l.writeCached(w, &store.Entry{Response: withBody(entry.Response, body)}, rewriter.StatusHit)
}

// withBody returns a shallow copy of resp with a fresh Body reader over
// body, leaving the original resp (and any concurrent reader of it)
// untouched.
func withBody(resp *http.Response, body []byte) *http.Response {
	clone := *resp
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	return &clone
}

// processResponse implements process_response and the §4.2.3 write-behind
// path: the handler's response drives the should-cache decision; if
// cacheable and within the body-size cap, a copy is handed to the
// write-behind pool while the original is returned to the caller
// immediately.
func (l *Layer) processResponse(ctx context.Context, w http.ResponseWriter, req *http.Request, analysis Analysis, capture *captureWriter, lookupStatus rewriter.Status) {
	body := capture.body.Bytes()
	respForDecision := &http.Response{StatusCode: capture.status, Header: capture.header}

	if ttl, cacheable := shouldCache(req, respForDecision, l.config); cacheable {
		if int64(len(body)) <= l.config.MaxBodySize {
			stored := buildStoredEntry(req, capture.status, capture.header, body, ttl)
			l.writeBehind.submit(ctx, analysis.Key, stored)
		} else {
			debug(engine.GetLogger(), "skipped caching response, body exceeds max_body_size", "key", analysis.Key, "size", len(body))
		}
	}

	for name, values := range capture.header {
		w.Header()[name] = values
	}
	if l.config.CacheStatusHeaders {
		rewriter.SetCacheStatus(&http.Response{Header: w.Header()}, lookupStatus, rewriter.StatusMiss)
	}
	w.WriteHeader(capture.status)
	if len(body) > 0 {
		w.Write(body) //nolint:errcheck
	}
}

// writeCached serves a stored entry directly, consuming its buffered body.
func (l *Layer) writeCached(w http.ResponseWriter, entry *store.Entry, lookupStatus rewriter.Status) {
	for name, values := range entry.Response.Header {
		w.Header()[name] = values
	}
	if l.config.CacheStatusHeaders {
		rewriter.SetCacheStatus(&http.Response{Header: w.Header()}, lookupStatus, rewriter.StatusHit)
	}
	w.WriteHeader(entry.Response.StatusCode)
	if entry.Response.Body != nil {
		defer entry.Response.Body.Close()
		io.Copy(w, entry.Response.Body) //nolint:errcheck
	}
}

func buildStoredEntry(req *http.Request, status int, header http.Header, body []byte, ttl time.Duration) *store.Entry {
	respHeader := header.Clone()
	if respHeader.Get("Date") == "" {
		respHeader.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if varyNames := policy.VaryNames(respHeader); len(varyNames) > 0 {
		policy.StoreVaryHeaders(respHeader, req, varyNames)
	}
	resp := &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        respHeader,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	return &store.Entry{Response: resp, StoredAt: time.Now(), TTL: ttl}
}

func debug(log interface{ Debug(string, ...any) }, msg string, args ...any) {
	if log != nil {
		log.Debug(msg, args...)
	}
}
