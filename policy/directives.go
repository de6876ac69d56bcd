// Package policy implements the RFC 9111 cache-control and freshness
// semantics the engine treats as an opaque capability (spec.md calls it
// the "policy oracle"). No package in the retrieval pack exposes this as
// an importable, engine-agnostic library — every example repo, including
// the teacher, inlines it in its root package — so this package is built
// directly on the standard library, generalizing the teacher's
// cachecontrol.go/freshness.go/age.go/vary.go into a standalone unit.
package policy

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Well-known Cache-Control directive names.
const (
	OnlyIfCached         = "only-if-cached"
	NoCache              = "no-cache"
	StaleWhileRevalidateDir = "stale-while-revalidate"
	MaxAge               = "max-age"
	SMaxAge              = "s-maxage"
	NoStore              = "no-store"
	Private              = "private"
	Public               = "public"
	MustRevalidateDir    = "must-revalidate"
	MustUnderstand       = "must-understand"
	StaleIfError         = "stale-if-error"

	HeaderPragma  = "Pragma"
	pragmaNoCache = "no-cache"
)

// understoodStatusCodes lists the status codes RFC 9111 §5.2.2.3 considers
// understood by the cache; must-understand overrides no-store for these.
var understoodStatusCodes = map[int]bool{
	200: true, 203: true, 204: true, 206: true,
	300: true, 301: true, 404: true, 405: true,
	410: true, 414: true, 501: true,
}

// Directives is a parsed Cache-Control header: directive name -> value
// (empty string for valueless directives such as "no-store").
type Directives map[string]string

// Has reports whether name is present, matching exact directive names
// only -- "no-store-custom" does not satisfy Has("no-store").
func (d Directives) Has(name string) bool {
	_, ok := d[name]
	return ok
}

// Duration parses name's value as a <seconds> duration. ok is false if the
// directive is absent or its value doesn't parse as an integer number of
// seconds; a negative value yields 0 with ok true.
func (d Directives) Duration(name string) (dur time.Duration, ok bool) {
	v, present := d[name]
	if !present || v == "" || strings.Contains(v, ".") {
		return 0, false
	}
	parsed, err := time.ParseDuration(v + "s")
	if err != nil {
		return 0, false
	}
	if parsed < 0 {
		return 0, true
	}
	return parsed, true
}

// ParseCacheControl splits the Cache-Control header into directives.
// RFC 9111 §4.2.1 compliance notes, logged at Warn when log is non-nil:
//   - duplicate directives: first occurrence wins, later ones are dropped
//   - invalid max-age/s-maxage values: dropped (float) or clamped to 0 (negative)
func ParseCacheControl(h http.Header, log *slog.Logger) Directives {
	cc := Directives{}
	seen := make(map[string]bool)

	for _, part := range strings.Split(h.Get("Cache-Control"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var name, value string
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			value = strings.TrimSpace(part[idx+1:])
		} else {
			name = part
		}

		if seen[name] {
			warn(log, "duplicate Cache-Control directive, using first value", "directive", name)
			continue
		}
		seen[name] = true
		cc[name] = value
	}

	validateAgeDirective(cc, MaxAge, log)
	validateAgeDirective(cc, SMaxAge, log)

	return cc
}

func validateAgeDirective(cc Directives, name string, log *slog.Logger) {
	value, ok := cc[name]
	if !ok || value == "" {
		return
	}
	if strings.Contains(value, ".") {
		warn(log, "invalid Cache-Control value (float not allowed), ignoring directive", "directive", name, "value", value)
		delete(cc, name)
		return
	}
	d, err := time.ParseDuration(value + "s")
	if err != nil {
		warn(log, "invalid Cache-Control value (non-numeric), ignoring directive", "directive", name, "value", value)
		delete(cc, name)
		return
	}
	if d < 0 {
		warn(log, "invalid Cache-Control value (negative), treating as 0", "directive", name, "value", value)
		cc[name] = "0"
	}
}

// IsStorable implements the general RFC 9111 §3 / §5.2.2.3 storability
// test shared by the client- and server-mode engines. isPublicCache
// distinguishes a shared cache (stricter) from a private one.
func IsStorable(req *http.Request, reqCC, respCC Directives, isPublicCache bool, status int, log *slog.Logger) bool {
	if respCC.Has(MustUnderstand) {
		if !understoodStatusCodes[status] {
			return false
		}
		// Status understood: must-understand overrides no-store.
	} else {
		if respCC.Has(NoStore) || reqCC.Has(NoStore) {
			return false
		}
	}

	if isPublicCache && req.Header.Get("Authorization") != "" {
		if !respCC.Has(Public) && !respCC.Has(MustRevalidateDir) && !respCC.Has(SMaxAge) {
			debug(log, "refusing to cache Authorization request in shared cache", "url", req.URL.String())
			return false
		}
	}

	if respCC.Has(Private) && isPublicCache {
		return false
	}

	return true
}

// MustRevalidate reports whether the response's Cache-Control contains the
// must-revalidate directive. Implemented as token-parsed matching (not the
// substring test the teacher uses) per the spec's REDESIGN FLAG.
func MustRevalidate(respCC Directives) bool {
	return respCC.Has(MustRevalidateDir)
}

func warn(log *slog.Logger, msg string, args ...any) {
	if log != nil {
		log.Warn(msg, args...)
	}
}

func debug(log *slog.Logger, msg string, args ...any) {
	if log != nil {
		log.Debug(msg, args...)
	}
}
