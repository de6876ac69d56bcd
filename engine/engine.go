// Package engine implements the client-mode cache decision engine
// (spec.md §4.1): the CacheMode state machine, the conditional-request /
// revalidation protocol, and unsafe-method invalidation. Restructured
// from httpcache.go's Transport.RoundTrip around an explicit CacheMode
// instead of the teacher's implicit always-Default behavior.
package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cachekit/httpcache/cachekey"
	"github.com/cachekit/httpcache/policy"
	"github.com/cachekit/httpcache/rewriter"
	"github.com/cachekit/httpcache/store"
)

// ErrNoStorage is returned by New when no buffered storage backend was
// supplied.
var ErrNoStorage = errors.New("engine: storage backend is required")

// Engine is the client-mode decision engine. It is stateless across
// requests; all state lives in the storage backend.
type Engine struct {
	storage            store.BufferedManager
	isPublicCache      bool
	cacheModeFn        func(req *http.Request) CacheMode
	cacheKeyFn         func(req *http.Request) string
	cacheBustFn        func(req *http.Request) []string
	cacheStatusHeaders bool
	metadataProvider   func(req *http.Request, resp *http.Response) []byte
}

// New builds an Engine backed by storage, applying opts in order.
func New(storage store.BufferedManager, opts ...Option) (*Engine, error) {
	if storage == nil {
		return nil, ErrNoStorage
	}
	e := &Engine{storage: storage, cacheStatusHeaders: true}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) mode(req *http.Request) CacheMode {
	if e.cacheModeFn != nil {
		return e.cacheModeFn(req)
	}
	return ModeDefault
}

func (e *Engine) cacheKey(req *http.Request) string {
	if e.cacheKeyFn != nil {
		return e.cacheKeyFn(req)
	}
	return cachekey.Default(req)
}

// Run drives middleware through the full decision sequence and returns
// the response to hand back to the caller.
func (e *Engine) Run(ctx context.Context, mw Middleware) (resp *http.Response, err error) {
	defer func() {
		if !e.cacheStatusHeaders && resp != nil && resp.Header != nil {
			resp.Header.Del(rewriter.HeaderXCache)
			resp.Header.Del("x-cache-lookup")
		}
	}()

	req := mw.Request()
	mode := e.mode(req)
	key := e.cacheKey(req)

	cacheable := mw.IsMethodGetHead() && mode != ModeNoStore && mode != ModeReload

	if !cacheable {
		return e.runUncacheable(ctx, mw, req, key, mode)
	}

	entry, found, err := e.storage.Get(ctx, key)
	if err != nil {
		debug(GetLogger(), "storage lookup failed, treating as miss", "key", key, "error", err)
		found = false
	}

	if !found {
		if mode == ModeOnlyIfCached {
			return rewriter.NewGatewayTimeoutResponse(req), nil
		}
		resp, err := mw.RemoteFetch(ctx)
		if err != nil {
			return nil, err
		}
		return e.storeFetchResult(ctx, mw, req, resp, key, mode, rewriter.StatusMiss)
	}

	stripOneXXWarnings(entry.Response)

	switch mode {
	case ModeForceCache, ModeOnlyIfCached:
		resp := entry.Response
		rewriter.AddWarning(resp, rewriter.WarningDisconnectedOp)
		rewriter.SetCacheStatus(resp, rewriter.StatusHit, rewriter.StatusHit)
		return resp, nil

	case ModeIgnoreRules:
		resp := entry.Response
		rewriter.SetCacheStatus(resp, rewriter.StatusHit, rewriter.StatusHit)
		return resp, nil

	case ModeNoCache:
		mw.SetNoCache()
		resp, err := mw.RemoteFetch(ctx)
		if err != nil {
			return nil, err
		}
		return e.storeFetchResult(ctx, mw, req, resp, key, mode, rewriter.StatusHit)

	default: // ModeDefault
		return e.conditionalFetch(ctx, mw, req, entry, key)
	}
}

// runUncacheable handles requests the pre-check routes straight to the
// origin: unsafe methods, and GET/HEAD under NoStore/Reload.
func (e *Engine) runUncacheable(ctx context.Context, mw Middleware, req *http.Request, key string, mode CacheMode) (*http.Response, error) {
	resp, err := mw.RemoteFetch(ctx)
	if isUnsafeMethod(req.Method) && err == nil {
		e.invalidateUnsafe(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return e.storeFetchResult(ctx, mw, req, resp, key, mode, rewriter.StatusMiss)
}

// conditionalFetch implements §4.1.2 for a stored entry under ModeDefault.
func (e *Engine) conditionalFetch(ctx context.Context, mw Middleware, req *http.Request, entry *store.Entry, key string) (*http.Response, error) {
	now := time.Now()
	entryPolicy := mw.Policy(entry.Response)
	before := entryPolicy.BeforeRequest(req.Header, now)

	if before.Fresh {
		rewriter.UpdateHeaders(entry.Response.Header, before.UpdatedHeaders)
		if before.StaleWhileRevalidate {
			rewriter.AddStaleWarning(entry.Response)
			e.asyncRevalidate(mw, key)
		} else if policy.IsActuallyStale(entry.Response.Header, now, GetLogger()) {
			// Served only because the request's own max-stale tolerance
			// allowed it; the entry is genuinely stale.
			rewriter.AddStaleWarning(entry.Response)
		}
		rewriter.SetCacheStatus(entry.Response, rewriter.StatusHit, rewriter.StatusHit)
		return entry.Response, nil
	}

	if before.Matches {
		mw.UpdateHeaders(before.RequestHeaders)
	}

	fetchResp, fetchErr := mw.RemoteFetch(ctx)
	return e.handleRevalidationResponse(ctx, req, entryPolicy, entry.Response, key, fetchResp, fetchErr)
}

// handleRevalidationResponse implements the outcome table in §4.1.2 once
// a conditional (or forced) remote fetch has returned.
func (e *Engine) handleRevalidationResponse(ctx context.Context, req *http.Request, entryPolicy *policy.Policy, stored *http.Response, key string, fetchResp *http.Response, fetchErr error) (*http.Response, error) {
	mustRevalidate := entryPolicy.MustRevalidate()
	canFallback := func() bool {
		return !mustRevalidate || entryPolicy.CanStaleOnError(req.Header, time.Now())
	}

	if fetchErr != nil {
		if !canFallback() {
			return nil, fetchErr
		}
		rewriter.AddRevalidationFailedWarning(stored)
		rewriter.SetCacheStatus(stored, rewriter.StatusHit, rewriter.StatusHit)
		return stored, nil
	}

	switch {
	case fetchResp.StatusCode >= 500:
		if mustRevalidate && !canFallback() {
			return fetchResp, nil
		}
		rewriter.DrainAndClose(fetchResp)
		rewriter.AddRevalidationFailedWarning(stored)
		rewriter.SetCacheStatus(stored, rewriter.StatusHit, rewriter.StatusHit)
		return stored, nil

	case fetchResp.StatusCode == http.StatusNotModified:
		rewriter.DrainAndClose(fetchResp)
		result := entryPolicy.AfterResponse(req, fetchResp, policy.Options{IsPublicCache: e.isPublicCache, Log: GetLogger()})
		rewriter.UpdateHeaders(stored.Header, result.UpdatedHeaders)
		if _, err := e.storage.Put(ctx, key, &store.Entry{Response: stored, StoredAt: time.Now()}); err != nil {
			debug(GetLogger(), "failed to persist revalidated entry", "key", key, "error", err)
		}
		rewriter.SetCacheStatus(stored, rewriter.StatusHit, rewriter.StatusHit)
		return stored, nil

	case fetchResp.StatusCode == http.StatusOK:
		body, err := bufferBody(fetchResp)
		if err != nil {
			return nil, err
		}
		live := cloneWithBody(fetchResp, body)
		persisted := cloneWithBody(fetchResp, body)
		rewriter.SetCacheStatus(live, rewriter.StatusHit, rewriter.StatusMiss)
		if _, err := e.storage.Put(ctx, key, &store.Entry{Response: persisted, StoredAt: time.Now()}); err != nil {
			debug(GetLogger(), "failed to persist revalidated entry", "key", key, "error", err)
		}
		return live, nil

	default:
		rewriter.SetCacheStatus(fetchResp, rewriter.StatusHit, rewriter.StatusMiss)
		return fetchResp, nil
	}
}

// storeFetchResult implements §4.1.3's MISS-path storability rule, shared
// by the genuine-miss path, NoCache, and the uncacheable (unsafe-method /
// NoStore / Reload) path.
func (e *Engine) storeFetchResult(ctx context.Context, mw Middleware, req *http.Request, resp *http.Response, key string, mode CacheMode, lookupStatus rewriter.Status) (*http.Response, error) {
	if resp.StatusCode != http.StatusOK {
		rewriter.SetCacheStatus(resp, lookupStatus, rewriter.StatusMiss)
		return resp, nil
	}

	body, err := bufferBody(resp)
	if err != nil {
		return nil, err
	}
	live := cloneWithBody(resp, body)
	rewriter.SetCacheStatus(live, lookupStatus, rewriter.StatusMiss)

	canStore := mw.IsMethodGetHead() && mode != ModeNoStore && mode != ModeReload
	if !canStore {
		return live, nil
	}

	p := mw.Policy(resp)
	if p.IsStorable() || mode == ModeIgnoreRules {
		stored := cloneWithBody(resp, body)
		var meta []byte
		if e.metadataProvider != nil {
			meta = e.metadataProvider(req, resp)
		}
		if _, err := e.storage.Put(ctx, key, &store.Entry{Response: stored, Metadata: meta, StoredAt: time.Now()}); err != nil {
			debug(GetLogger(), "failed to store response", "key", key, "error", err)
		}
	}
	return live, nil
}

// invalidateUnsafe implements §4.1.6: unconditional GET:<URL> deletion
// after a successful unsafe-method request, plus any cache_bust keys.
func (e *Engine) invalidateUnsafe(ctx context.Context, req *http.Request) {
	key := cachekey.ForInvalidation(req)
	if err := e.storage.Delete(ctx, key); err != nil {
		debug(GetLogger(), "failed to invalidate entry", "key", key, "error", err)
	}
	if e.cacheBustFn == nil {
		return
	}
	for _, bustKey := range e.cacheBustFn(req) {
		if err := e.storage.Delete(ctx, bustKey); err != nil {
			debug(GetLogger(), "failed to invalidate cache-bust entry", "key", bustKey, "error", err)
		}
	}
}

// asyncRevalidate kicks off a background no-cache refetch for an entry
// served via stale-while-revalidate, grounded on Transport.asyncRevalidate.
func (e *Engine) asyncRevalidate(mw Middleware, key string) {
	go func() {
		mw.SetNoCache()
		resp, err := mw.RemoteFetch(context.Background())
		if err != nil {
			debug(GetLogger(), "async revalidation failed", "key", key, "error", err)
			return
		}
		if _, err := e.storeFetchResult(context.Background(), mw, mw.Request(), resp, key, ModeDefault, rewriter.StatusHit); err != nil {
			debug(GetLogger(), "async revalidation store failed", "key", key, "error", err)
		}
	}()
}

func isUnsafeMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// stripOneXXWarnings enforces I4: warn-code 1xx values never survive being
// served from storage across calls; 2xx codes (none currently emitted by
// this engine) would survive.
func stripOneXXWarnings(resp *http.Response) {
	values := resp.Header.Values("Warning")
	if len(values) == 0 {
		return
	}
	kept := values[:0]
	for _, v := range values {
		if len(v) >= 3 && v[0] == '1' {
			continue
		}
		kept = append(kept, v)
	}
	resp.Header.Del("Warning")
	for _, v := range kept {
		resp.Header.Add("Warning", v)
	}
}

func bufferBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func cloneWithBody(resp *http.Response, body []byte) *http.Response {
	clone := *resp
	clone.Header = resp.Header.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	return &clone
}

func debug(log interface{ Debug(string, ...any) }, msg string, args ...any) {
	if log != nil {
		log.Debug(msg, args...)
	}
}
