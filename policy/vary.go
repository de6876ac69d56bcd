package policy

import (
	"net/http"
	"strings"
)

// varyHeaderPrefix marks the request-header snapshot the engine stores
// alongside a cached response so a later request can be vary-matched
// against it without replaying the whole original request.
const varyHeaderPrefix = "X-Varied-"

// VaryNames returns the header names listed in resp's Vary header.
func VaryNames(h http.Header) []string {
	var names []string
	for _, v := range h.Values("Vary") {
		for _, part := range strings.Split(v, ",") {
			if name := strings.TrimSpace(part); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// NormalizeHeaderValue collapses whitespace so equivalent header values
// ("en, fr" vs "en,fr") compare and key identically, per RFC 9111 §4.1's
// field-matching rule.
func NormalizeHeaderValue(v string) string {
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

// StoreVaryHeaders snapshots the current request's Vary-named header
// values into storedHeaders (the headers that will be persisted alongside
// the response), so a later request can be matched against them.
func StoreVaryHeaders(storedHeaders http.Header, req *http.Request, varyNames []string) {
	for _, name := range varyNames {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
		if canonical == "" || canonical == "*" {
			continue
		}
		storedHeaders.Set(varyHeaderPrefix+canonical, NormalizeHeaderValue(req.Header.Get(canonical)))
	}
}

// Matches reports whether req satisfies the Vary constraints of a stored
// entry. storedHeaders must be the headers persisted by StoreVaryHeaders
// (or equivalent) alongside the entry.
func Matches(storedHeaders http.Header, req *http.Request) bool {
	varyNames := VaryNames(storedHeaders)

	// RFC 9111 §4.1: "Vary: *" never matches.
	for _, name := range varyNames {
		if strings.TrimSpace(name) == "*" {
			return false
		}
	}

	for _, name := range varyNames {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
		if canonical == "" || canonical == "*" {
			continue
		}
		current := req.Header.Get(canonical)
		stored := storedHeaders.Get(varyHeaderPrefix + canonical)
		if NormalizeHeaderValue(current) != stored {
			return false
		}
	}
	return true
}
