// Package cachekey computes the cache key used to address stored entries.
//
// The default form is "METHOD:URL"; callers may override derivation
// entirely (engine.WithCacheKeyFunc) or fold request headers into the key
// (WithHeaders) to separate entries by e.g. Authorization or
// Accept-Language.
package cachekey

import (
	"net/http"
	"sort"
	"strings"
)

// Default returns the cache key for req: "<METHOD>:<url>" for every method
// (so a HEAD request keys as "HEAD:<url>"). The method is always upper-cased.
func Default(req *http.Request) string {
	return strings.ToUpper(req.Method) + ":" + req.URL.String()
}

// ForInvalidation returns the key an unsafe-method request should delete:
// invalidation always targets the GET entry for the same URL, regardless
// of the triggering method (spec invariant I3).
func ForInvalidation(req *http.Request) string {
	return "GET:" + req.URL.String()
}

// WithHeaders appends the canonicalized values of the named request
// headers to the base key, sorted for determinism. Headers absent or
// empty on the request are skipped.
func WithHeaders(req *http.Request, headers []string) string {
	key := Default(req)
	if len(headers) == 0 {
		return key
	}

	parts := make([]string, 0, len(headers))
	for _, h := range headers {
		canonical := http.CanonicalHeaderKey(h)
		if v := req.Header.Get(canonical); v != "" {
			parts = append(parts, canonical+":"+v)
		}
	}
	if len(parts) == 0 {
		return key
	}
	sort.Strings(parts)
	return key + "|" + strings.Join(parts, "|")
}

// WithVary appends normalized values of the response's Vary-named request
// headers to the base key, implementing per-variant cache entries.
func WithVary(req *http.Request, varyHeaders []string) string {
	key := Default(req)
	if len(varyHeaders) == 0 {
		return key
	}

	parts := make([]string, 0, len(varyHeaders))
	for _, h := range varyHeaders {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(h))
		if canonical == "" || canonical == "*" {
			continue
		}
		parts = append(parts, canonical+":"+normalize(req.Header.Get(canonical)))
	}
	if len(parts) == 0 {
		return key
	}
	sort.Strings(parts)
	return key + "|vary:" + strings.Join(parts, "|")
}

// normalize collapses internal whitespace so that equivalent header
// values ("en, fr" vs "en,fr") produce the same key fragment.
func normalize(v string) string {
	v = strings.TrimSpace(v)
	var b strings.Builder
	prevSpace := false
	for _, r := range v {
		switch r {
		case ' ', '\t', '\n', '\r':
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.ReplaceAll(b.String(), ", ", ",")
}
