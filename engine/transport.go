package engine

import (
	"net/http"
)

// Transport adapts an Engine into an http.RoundTripper, the client-mode
// entrypoint real callers build an *http.Client around. Grounded on the
// teacher's httpcache.go Transport/Transport.RoundTrip/Transport.Client,
// generalized to drive the engine's own CacheMode state machine via a
// RoundTripperMiddleware built fresh for each request instead of the
// teacher's single long-lived struct mixing transport config and cache
// options together.
type Transport struct {
	Engine *Engine
	// Next is the underlying http.RoundTripper used for origin requests. If
	// nil, http.DefaultTransport is used.
	Next http.RoundTripper
	// IsPublicCache enables shared-cache rules for every request this
	// transport drives, matching the Engine's own configuration.
	IsPublicCache bool
}

// NewTransport builds a Transport driving e. next is the upstream
// RoundTripper (http.DefaultTransport if nil).
func NewTransport(e *Engine, next http.RoundTripper) *Transport {
	return &Transport{Engine: e, Next: next, IsPublicCache: e.isPublicCache}
}

// Client returns an *http.Client using this Transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper by running req through the Engine.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	mw := NewRoundTripperMiddleware(req, t.Next, t.IsPublicCache)
	return t.Engine.Run(req.Context(), mw)
}
