package policy

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Freshness is the policy's verdict on whether a stored entry can be
// served without contacting the origin.
type Freshness int

const (
	// Fresh: the stored entry may be served as-is.
	Fresh Freshness = iota
	// Stale: the stored entry requires revalidation before being served.
	Stale
	// Transparent: the stored entry must not be used to satisfy the request
	// at all (request forces a bypass, e.g. Cache-Control: no-cache).
	Transparent
	// StaleWhileRevalidate: the stored entry may be served immediately
	// while a revalidation happens in the background.
	StaleWhileRevalidate
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Transparent:
		return "transparent"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "unknown"
	}
}

// GetFreshness evaluates the freshness of a stored response given the
// current request's headers, per RFC 9111 §4.2.
func GetFreshness(respHeaders, reqHeaders http.Header, now time.Time, log *slog.Logger) Freshness {
	respCC := ParseCacheControl(respHeaders, log)
	reqCC := ParseCacheControl(reqHeaders, log)

	if result, done := checkRequestDirectives(respCC, reqCC, reqHeaders); done {
		return result
	}

	date, err := Date(respHeaders)
	if err != nil {
		return Stale
	}
	currentAge := now.Sub(date)
	lifetime := calculateLifetime(respCC, respHeaders, date)

	currentAge, lifetime, forcedFresh := adjustForRequestControls(respCC, reqCC, currentAge, lifetime)
	if forcedFresh {
		return Fresh
	}
	if lifetime > currentAge {
		return Fresh
	}

	if swr, ok := respCC.Duration(StaleWhileRevalidateDir); ok {
		if lifetime+swr > currentAge {
			return StaleWhileRevalidate
		}
	}

	return Stale
}

func checkRequestDirectives(respCC, reqCC Directives, reqHeaders http.Header) (Freshness, bool) {
	if reqCC.Has(NoCache) {
		return Transparent, true
	}
	// RFC 7234 §5.4: an absent Cache-Control with Pragma: no-cache is
	// treated like Cache-Control: no-cache for HTTP/1.0 compatibility.
	if len(reqCC) == 0 && strings.EqualFold(reqHeaders.Get(HeaderPragma), pragmaNoCache) {
		return Transparent, true
	}
	if respCC.Has(NoCache) {
		return Stale, true
	}
	if reqCC.Has(OnlyIfCached) {
		return Fresh, true
	}
	return 0, false
}

func calculateLifetime(respCC Directives, respHeaders http.Header, date time.Time) time.Duration {
	// max-age overrides Expires even when Expires is more restrictive.
	if d, ok := respCC.Duration(MaxAge); ok {
		return d
	}
	if expiresHeader := respHeaders.Get("Expires"); expiresHeader != "" {
		if expires, err := time.Parse(time.RFC1123, expiresHeader); err == nil {
			return expires.Sub(date)
		}
	}
	return 0
}

func adjustForRequestControls(respCC, reqCC Directives, currentAge, lifetime time.Duration) (adjAge, adjLifetime time.Duration, forcedFresh bool) {
	if d, ok := reqCC.Duration(MaxAge); ok {
		lifetime = d
	}
	if d, ok := reqCC.Duration("min-fresh"); ok {
		currentAge += d
	}

	// must-revalidate forbids honoring the request's max-stale tolerance.
	if respCC.Has(MustRevalidateDir) {
		return currentAge, lifetime, false
	}

	if v, ok := reqCC["max-stale"]; ok {
		if v == "" {
			return currentAge, lifetime, true
		}
		if d, ok := reqCC.Duration("max-stale"); ok {
			currentAge -= d
		}
	}

	return currentAge, lifetime, false
}

// IsActuallyStale reports whether a response is stale ignoring the
// client's own max-stale tolerance -- used when deciding whether to
// attach a Warning 110 to a response served only because of max-stale.
func IsActuallyStale(respHeaders http.Header, now time.Time, log *slog.Logger) bool {
	respCC := ParseCacheControl(respHeaders, log)
	date, err := Date(respHeaders)
	if err != nil {
		return true
	}
	currentAge := now.Sub(date)
	lifetime := calculateLifetime(respCC, respHeaders, date)

	if swr, ok := respCC.Duration(StaleWhileRevalidateDir); ok {
		if lifetime+swr > currentAge {
			return false
		}
	}
	return lifetime <= currentAge
}

// CanStaleOnError reports whether a stale response may be returned in
// place of a transport error or 5xx, per the stale-if-error extension
// (RFC 5861) layered on top of the spec's mandatory must-revalidate gate.
func CanStaleOnError(respHeaders, reqHeaders http.Header, now time.Time, log *slog.Logger) bool {
	respCC := ParseCacheControl(respHeaders, log)
	reqCC := ParseCacheControl(reqHeaders, log)

	lifetime := time.Duration(-1)
	haveLifetime := false

	if respLifetime, acceptAny, found := parseStaleIfError(respCC); found {
		if acceptAny {
			return true
		}
		lifetime, haveLifetime = respLifetime, true
	}
	if reqLifetime, acceptAny, found := parseStaleIfError(reqCC); found {
		if acceptAny {
			return true
		}
		lifetime, haveLifetime = reqLifetime, true
	}

	if !haveLifetime {
		return false
	}

	date, err := Date(respHeaders)
	if err != nil {
		return false
	}
	staleness := now.Sub(date) - calculateLifetime(respCC, respHeaders, date)
	return lifetime > staleness
}

func parseStaleIfError(cc Directives) (lifetime time.Duration, acceptAny, found bool) {
	v, ok := cc[StaleIfError]
	if !ok {
		return 0, false, false
	}
	if v == "" {
		return 0, true, true
	}
	d, durOK := cc.Duration(StaleIfError)
	if !durOK {
		return 0, false, true
	}
	return d, false, true
}
