package policy

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// hopByHopHeaders are excluded when merging a 304 response's headers onto
// a stored entry; matches the set net/http/httputil's reverse proxy
// strips for the same reason (RFC 7230 §6.1).
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Policy is the spec's opaque capability derived from a (request, response,
// reference-time) triple. It answers storability, freshness and
// revalidation questions without exposing its internal representation.
type Policy struct {
	reqMethod     string
	reqURL        *url.URL
	reqHeaders    http.Header
	respHeaders   http.Header
	status        int
	isPublicCache bool
	requestTime   time.Time
	responseTime  time.Time
	log           *slog.Logger
}

// Options configures policy derivation.
type Options struct {
	// IsPublicCache enables shared-cache rules (private/Authorization/s-maxage).
	IsPublicCache bool
	// RequestTime/ResponseTime feed the RFC 9111 §4.2.3 Age calculation;
	// zero values fall back to a Date-header-only approximation.
	RequestTime  time.Time
	ResponseTime time.Time
	Log          *slog.Logger
}

// New derives a Policy from a request/response pair.
func New(req *http.Request, resp *http.Response, opts Options) *Policy {
	return &Policy{
		reqMethod:     req.Method,
		reqURL:        req.URL,
		reqHeaders:    req.Header.Clone(),
		respHeaders:   resp.Header.Clone(),
		status:        resp.StatusCode,
		isPublicCache: opts.IsPublicCache,
		requestTime:   opts.RequestTime,
		responseTime:  opts.ResponseTime,
		log:           opts.Log,
	}
}

// ResponseHeaders returns the headers this policy was derived from (or has
// since merged in via AfterResponse). Callers use this to stamp Age, merge
// onto the stored HttpResponseView, etc.
func (p *Policy) ResponseHeaders() http.Header { return p.respHeaders }

// IsStorable reports whether the response this policy was derived from may
// be stored, per RFC 9111 §3 / §5.2.2.3.
func (p *Policy) IsStorable() bool {
	respCC := ParseCacheControl(p.respHeaders, p.log)
	reqCC := ParseCacheControl(p.reqHeaders, p.log)
	syntheticReq := &http.Request{Method: p.reqMethod, URL: p.reqURL, Header: p.reqHeaders}
	return IsStorable(syntheticReq, reqCC, respCC, p.isPublicCache, p.status, p.log)
}

// MustRevalidate reports whether the stored response forbids stale-fallback
// on origin failure (must-revalidate directive).
func (p *Policy) MustRevalidate() bool {
	return MustRevalidate(ParseCacheControl(p.respHeaders, p.log))
}

// CanStaleOnError reports whether, given the *current* request's headers,
// a transport error or 5xx may be masked by serving this stale entry.
func (p *Policy) CanStaleOnError(currentReqHeaders http.Header, now time.Time) bool {
	return CanStaleOnError(p.respHeaders, currentReqHeaders, now, p.log)
}

// BeforeRequest is the spec's before_request(req, now) operation.
type BeforeRequestResult struct {
	// Fresh indicates the stored entry may be served without contacting
	// the origin.
	Fresh bool
	// StaleWhileRevalidate indicates the stored entry may be served
	// immediately, but a background revalidation should be started.
	StaleWhileRevalidate bool
	// UpdatedHeaders are merged onto the stored entry before it is served
	// (e.g. a recalculated Age header).
	UpdatedHeaders http.Header
	// RequestHeaders are the conditional-request headers to send upstream
	// when the entry is not fresh.
	RequestHeaders http.Header
	// Matches is true when conditional validators (If-None-Match /
	// If-Modified-Since) were available and attached to RequestHeaders.
	Matches bool
}

// BeforeRequest evaluates freshness against reqHeaders (the live request
// about to be issued) and produces either a Fresh verdict or the
// conditional request headers needed to revalidate.
func (p *Policy) BeforeRequest(reqHeaders http.Header, now time.Time) BeforeRequestResult {
	freshness := GetFreshness(p.respHeaders, reqHeaders, now, p.log)

	updated := http.Header{}
	if age, err := CalculateAge(p.respHeaders, p.requestTime, p.responseTime, now); err == nil {
		updated.Set("Age", FormatAge(age))
	}

	switch freshness {
	case Fresh:
		return BeforeRequestResult{Fresh: true, UpdatedHeaders: updated}
	case StaleWhileRevalidate:
		return BeforeRequestResult{Fresh: true, StaleWhileRevalidate: true, UpdatedHeaders: updated}
	default:
		reqOut, matches := p.addValidators(reqHeaders)
		return BeforeRequestResult{RequestHeaders: reqOut, Matches: matches}
	}
}

func (p *Policy) addValidators(reqHeaders http.Header) (http.Header, bool) {
	etag := p.respHeaders.Get("Etag")
	lastModified := p.respHeaders.Get("Last-Modified")

	needsEtag := etag != "" && reqHeaders.Get("If-None-Match") == ""
	needsLastModified := lastModified != "" && reqHeaders.Get("If-Modified-Since") == ""
	if !needsEtag && !needsLastModified {
		return reqHeaders, false
	}

	out := reqHeaders.Clone()
	if needsEtag {
		out.Set("If-None-Match", etag)
	}
	if needsLastModified {
		out.Set("If-Modified-Since", lastModified)
	}
	return out, true
}

// AfterResponseResult is the spec's after_response(req, resp, now) operation.
type AfterResponseResult struct {
	// Modified is true for a 200 (replace stored body), false for a 304
	// (reuse stored body, merge headers).
	Modified bool
	// Policy is the replacement policy to store going forward.
	Policy *Policy
	// UpdatedHeaders are the headers to merge onto the stored entry.
	UpdatedHeaders http.Header
}

// AfterResponse interprets a revalidation response.
func (p *Policy) AfterResponse(req *http.Request, resp *http.Response, opts Options) AfterResponseResult {
	if resp.StatusCode == http.StatusNotModified {
		endToEnd := endToEndHeaders(resp.Header)
		merged := p.respHeaders.Clone()
		for name, values := range endToEnd {
			merged[name] = values
		}
		newPolicy := &Policy{
			reqMethod: p.reqMethod, reqURL: p.reqURL, reqHeaders: req.Header.Clone(),
			respHeaders: merged, status: p.status, isPublicCache: p.isPublicCache,
			requestTime: opts.RequestTime, responseTime: opts.ResponseTime, log: p.log,
		}
		return AfterResponseResult{Modified: false, Policy: newPolicy, UpdatedHeaders: endToEnd}
	}

	newPolicy := New(req, resp, Options{
		IsPublicCache: p.isPublicCache, RequestTime: opts.RequestTime,
		ResponseTime: opts.ResponseTime, Log: p.log,
	})
	return AfterResponseResult{Modified: true, Policy: newPolicy, UpdatedHeaders: resp.Header.Clone()}
}

func endToEndHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	return out
}
