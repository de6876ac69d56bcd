package engine

import (
	"net/http"
)

// Option configures an Engine, mirroring options.go's TransportOption
// functional-options pattern.
type Option func(*Engine) error

// WithPublicCache enables shared-cache rules (Authorization/private/
// s-maxage handling per RFC 9111 §3.5). Default: false (private cache).
func WithPublicCache(isPublic bool) Option {
	return func(e *Engine) error {
		e.isPublicCache = isPublic
		return nil
	}
}

// WithCacheModeFunc overrides the cache mode per request.
func WithCacheModeFunc(fn func(req *http.Request) CacheMode) Option {
	return func(e *Engine) error {
		e.cacheModeFn = fn
		return nil
	}
}

// WithCacheKeyFunc overrides cache-key derivation (default cachekey.Default).
func WithCacheKeyFunc(fn func(req *http.Request) string) Option {
	return func(e *Engine) error {
		e.cacheKeyFn = fn
		return nil
	}
}

// WithCacheBustFunc supplies extra keys to delete on unsafe-method success,
// beyond the mandatory GET:<URL> invalidation.
func WithCacheBustFunc(fn func(req *http.Request) []string) Option {
	return func(e *Engine) error {
		e.cacheBustFn = fn
		return nil
	}
}

// WithCacheStatusHeaders toggles emission of x-cache / x-cache-lookup.
// Default: true.
func WithCacheStatusHeaders(enabled bool) Option {
	return func(e *Engine) error {
		e.cacheStatusHeaders = enabled
		return nil
	}
}

// WithMetadataProvider attaches opaque bytes alongside stored entries.
func WithMetadataProvider(fn func(req *http.Request, resp *http.Response) []byte) Option {
	return func(e *Engine) error {
		e.metadataProvider = fn
		return nil
	}
}
