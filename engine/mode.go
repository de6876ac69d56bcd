package engine

// CacheMode selects the decision engine's behavior for a single request,
// mirroring the Fetch standard's `cache` option plus the IgnoreRules
// extension (spec.md §3 CacheMode).
type CacheMode int

const (
	// ModeDefault runs the full freshness/conditional-fetch protocol.
	ModeDefault CacheMode = iota
	// ModeNoStore bypasses lookup and storage entirely.
	ModeNoStore
	// ModeReload bypasses lookup and always fetches, but does not store the
	// result -- a reload is a one-off cache-busting fetch, not a refresh.
	ModeReload
	// ModeNoCache forces revalidation (Cache-Control: no-cache on the
	// outgoing request) even for a fresh stored entry.
	ModeNoCache
	// ModeForceCache serves any stored entry without a freshness check.
	ModeForceCache
	// ModeOnlyIfCached serves a stored entry without a freshness check, or
	// synthesizes 504 on a miss; never contacts the origin.
	ModeOnlyIfCached
	// ModeIgnoreRules treats every response as storable and every stored
	// entry as fresh, bypassing the policy oracle's storability and
	// freshness checks. The client-mode engine applies no TTL clamp here;
	// entries it stores carry no TTL.
	ModeIgnoreRules
)

func (m CacheMode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeNoStore:
		return "no-store"
	case ModeReload:
		return "reload"
	case ModeNoCache:
		return "no-cache"
	case ModeForceCache:
		return "force-cache"
	case ModeOnlyIfCached:
		return "only-if-cached"
	case ModeIgnoreRules:
		return "ignore-rules"
	default:
		return "unknown"
	}
}
