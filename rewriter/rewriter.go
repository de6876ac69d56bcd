// Package rewriter applies the response-header bookkeeping the engines need
// after a lookup/fetch/revalidate decision has been made: RFC 7234 §5.5
// Warning codes, cache-status instrumentation headers, and Age stamping.
// Generalizes the teacher's inlined XFromCache/addWarningHeader constants
// and helpers (httpcache.go, warning.go) into a package both the client-mode
// engine and the server-mode middleware share.
package rewriter

import (
	"net/http"

	"github.com/cachekit/httpcache/policy"
)

// Warning header codes, RFC 7234 §5.5. RFC 9111 formally obsoletes Warning,
// but 110/111/112/113 remain the only interoperable stale/error signal
// widely understood by HTTP tooling, so the engine still emits them.
const (
	WarningResponseIsStale     = `110 - "Response is Stale"`
	WarningRevalidationFailed  = `111 - "Revalidation Failed"`
	WarningDisconnectedOp      = `112 - "Disconnected Operation"`
	WarningHeuristicExpiration = `113 - "Heuristic Expiration"`

	headerWarning = "Warning"
)

// Status is the cache-status instrumentation verdict attached to every
// response the engine returns, lowercase per the spec's header naming
// (the teacher uses X-From-Cache/X-Cache-Freshness; this module folds both
// into one pair of headers: x-cache and x-cache-lookup).
type Status string

const (
	StatusHit  Status = "HIT"
	StatusMiss Status = "MISS"
)

const (
	headerXCache       = "x-cache"
	headerXCacheLookup = "x-cache-lookup"
	headerXFreshness   = "x-cache-freshness"
)

// HeaderXCache is the exported name of the served-status header SetCacheStatus
// stamps, for callers (e.g. metrics instrumentation) that need to read it back
// off a response rather than set it.
const HeaderXCache = headerXCache

// AddWarning appends a Warning header. Warning headers stack, so Add is
// used rather than Set.
func AddWarning(resp *http.Response, code string) {
	resp.Header.Add(headerWarning, code)
}

// AddStaleWarning attaches "110 - Response is Stale".
func AddStaleWarning(resp *http.Response) {
	AddWarning(resp, WarningResponseIsStale)
}

// AddRevalidationFailedWarning attaches "111 - Revalidation Failed".
func AddRevalidationFailedWarning(resp *http.Response) {
	AddWarning(resp, WarningRevalidationFailed)
}

// AddDisconnectedOperationWarning attaches "112 - Disconnected Operation",
// the code the client-mode engine puts on entries served under
// ForceCache/OnlyIfCached without contacting the origin.
func AddDisconnectedOperationWarning(resp *http.Response) {
	AddWarning(resp, WarningDisconnectedOp)
}

// SetCacheStatus stamps the x-cache / x-cache-lookup instrumentation pair.
// lookup reflects whether an entry existed in storage at all; served
// reflects whether this particular response body came from that entry.
func SetCacheStatus(resp *http.Response, lookup, served Status) {
	resp.Header.Set(headerXCacheLookup, string(lookup))
	resp.Header.Set(headerXCache, string(served))
}

// SetFreshness stamps the diagnostic x-cache-freshness header with the
// freshness verdict that produced this response.
func SetFreshness(resp *http.Response, f policy.Freshness) {
	resp.Header.Set(headerXFreshness, f.String())
}

// UpdateHeaders merges src onto dst in place, used to apply a policy's
// BeforeRequest/AfterResponse UpdatedHeaders onto a stored or synthesized
// response before it's returned to the caller.
func UpdateHeaders(dst, src http.Header) {
	for name, values := range src {
		dst[http.CanonicalHeaderKey(name)] = values
	}
}

// NewGatewayTimeoutResponse synthesizes a 504 for when a cache miss with
// only-if-cached leaves the engine with nothing to serve.
func NewGatewayTimeoutResponse(req *http.Request) *http.Response {
	resp := &http.Response{
		Status:     "504 Gateway Timeout",
		StatusCode: http.StatusGatewayTimeout,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Request:    req,
	}
	SetBody(resp, "GatewayTimeout")
	SetCacheStatus(resp, StatusMiss, StatusMiss)
	return resp
}
