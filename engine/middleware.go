package engine

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cachekit/httpcache/policy"
)

// Middleware is the narrow capability the engine drives (spec.md §6.1).
// Concrete HTTP client adapters implement it; the engine never reaches
// past this surface into a specific client library.
type Middleware interface {
	// IsMethodGetHead reports whether the wrapped request's method is GET
	// or HEAD -- the only methods the engine will look up in storage.
	IsMethodGetHead() bool
	// Policy derives a Policy from resp using the middleware's own request
	// context and the engine's default options.
	Policy(resp *http.Response) *policy.Policy
	// PolicyWithOptions derives a Policy from resp with caller-supplied
	// options (e.g. explicit RequestTime/ResponseTime for Age accuracy).
	PolicyWithOptions(resp *http.Response, opts policy.Options) *policy.Policy
	// UpdateHeaders overwrites headers on the middleware's own pending
	// request, last-value-wins per name.
	UpdateHeaders(h http.Header)
	// SetNoCache idempotently writes Cache-Control: no-cache onto the
	// pending request.
	SetNoCache()
	// Request returns the middleware's live, mutable request.
	Request() *http.Request
	// URL returns the pending request's URL.
	URL() *url.URL
	// Method returns the pending request's upper-cased method.
	Method() string
	// RemoteFetch performs the actual network call and returns the raw
	// response. The engine inspects headers/status only; it never
	// re-parses the body.
	RemoteFetch(ctx context.Context) (*http.Response, error)
}

// RoundTripperMiddleware adapts an http.RoundTripper into a Middleware,
// the way Transport.RoundTrip wraps an underlying http.RoundTripper in
// httpcache.go. This is the engine's reference adapter; other HTTP client
// stacks implement Middleware directly rather than going through
// net/http.
type RoundTripperMiddleware struct {
	req           *http.Request
	next          http.RoundTripper
	isPublicCache bool
}

// NewRoundTripperMiddleware builds a Middleware around req, dispatching
// RemoteFetch to next (http.DefaultTransport if nil).
func NewRoundTripperMiddleware(req *http.Request, next http.RoundTripper, isPublicCache bool) *RoundTripperMiddleware {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RoundTripperMiddleware{req: req, next: next, isPublicCache: isPublicCache}
}

func (m *RoundTripperMiddleware) IsMethodGetHead() bool {
	return m.req.Method == http.MethodGet || m.req.Method == http.MethodHead
}

func (m *RoundTripperMiddleware) Policy(resp *http.Response) *policy.Policy {
	return m.PolicyWithOptions(resp, policy.Options{IsPublicCache: m.isPublicCache})
}

func (m *RoundTripperMiddleware) PolicyWithOptions(resp *http.Response, opts policy.Options) *policy.Policy {
	if opts.Log == nil {
		opts.Log = GetLogger()
	}
	return policy.New(m.req, resp, opts)
}

func (m *RoundTripperMiddleware) UpdateHeaders(h http.Header) {
	for name, values := range h {
		m.req.Header[http.CanonicalHeaderKey(name)] = values
	}
}

func (m *RoundTripperMiddleware) SetNoCache() {
	m.req.Header.Set("Cache-Control", "no-cache")
}

func (m *RoundTripperMiddleware) Request() *http.Request { return m.req }
func (m *RoundTripperMiddleware) URL() *url.URL          { return m.req.URL }
func (m *RoundTripperMiddleware) Method() string         { return strings.ToUpper(m.req.Method) }

func (m *RoundTripperMiddleware) RemoteFetch(ctx context.Context) (*http.Response, error) {
	return m.next.RoundTrip(m.req.WithContext(ctx))
}
