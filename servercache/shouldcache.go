package servercache

import (
	"net/http"
	"time"

	"github.com/cachekit/httpcache/engine"
	"github.com/cachekit/httpcache/policy"
)

// shouldCache implements §4.2.1's should-cache decision: an ordered list
// of rules, first match wins. Grounded on the original's should_cache
// (http-cache-tower-server/src/lib.rs), re-expressed on top of the
// policy package's directive parser instead of hand-rolled substring
// matching, so server mode shares exactly the same Cache-Control
// semantics (duplicate-directive/invalid-value handling included) as the
// client-mode engine.
func shouldCache(req *http.Request, resp *http.Response, cfg Config) (ttl time.Duration, ok bool) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false
	}

	respCC := policy.ParseCacheControl(resp.Header, engine.GetLogger())
	hasAuthorization := req.Header.Get("Authorization") != ""

	if hasAuthorization && cfg.RespectAuthorization {
		permitted := respCC.Has(policy.Public) || respCC.Has(policy.SMaxAge) || respCC.Has(policy.MustRevalidateDir)
		if !permitted {
			return 0, false
		}
	}

	if respCC.Has(policy.NoStore) {
		return 0, false
	}
	// RFC 9111 treats no-cache as "store but always revalidate"; this
	// variant refuses no-cache responses outright and never stores them.
	if respCC.Has(policy.NoCache) {
		return 0, false
	}
	if respCC.Has(policy.Private) {
		return 0, false
	}

	if d, present := respCC.Duration(policy.SMaxAge); present {
		return clampTTL(d, cfg), true
	}
	if d, present := respCC.Duration(policy.MaxAge); present {
		return clampTTL(d, cfg), true
	}
	if respCC.Has(policy.Public) {
		return clampTTL(cfg.DefaultTTL, cfg), true
	}

	if expiresStr := resp.Header.Get("Expires"); expiresStr != "" {
		if t, err := http.ParseTime(expiresStr); err == nil {
			if d := time.Until(t); d > 0 {
				return clampTTL(d, cfg), true
			}
		}
	}

	if !hasAuthorization && cfg.CacheByDefault {
		return clampTTL(cfg.DefaultTTL, cfg), true
	}

	return 0, false
}

// clampTTL implements clamp(d) = min(max_ttl, max(min_ttl, d)), treating
// an unset (zero) bound as neutral.
func clampTTL(d time.Duration, cfg Config) time.Duration {
	if cfg.MaxTTL > 0 && d > cfg.MaxTTL {
		d = cfg.MaxTTL
	}
	if cfg.MinTTL > 0 && d < cfg.MinTTL {
		d = cfg.MinTTL
	}
	return d
}
