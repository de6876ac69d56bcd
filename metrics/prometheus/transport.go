package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cachekit/httpcache/metrics"
	"github.com/cachekit/httpcache/rewriter"
)

// InstrumentedTransport wraps an http.RoundTripper (typically an
// *engine.Transport) with Prometheus metrics. Grounded on the teacher's
// metrics/prometheus InstrumentedTransport, adapted to read cache status off
// the rewriter package's x-cache header instead of the teacher's
// X-From-Cache marker, so it works against the engine-mode client transport.
type InstrumentedTransport struct {
	underlying http.RoundTripper
	collector  metrics.Collector
}

// NewInstrumentedTransport wraps next, recording metrics for every request.
// If collector is nil, metrics.DefaultCollector (a no-op) is used.
func NewInstrumentedTransport(next http.RoundTripper, collector metrics.Collector) *InstrumentedTransport {
	if collector == nil {
		collector = metrics.DefaultCollector
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &InstrumentedTransport{underlying: next, collector: collector}
}

// RoundTrip executes req through the wrapped transport, recording metrics.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.underlying.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		return resp, err
	}

	cacheStatus := "miss"
	switch {
	case resp.Header.Get(rewriter.HeaderXCache) == string(rewriter.StatusHit):
		cacheStatus = "hit"
	case resp.StatusCode == http.StatusNotModified:
		cacheStatus = "revalidated"
	}

	t.collector.RecordHTTPRequest(req.Method, cacheStatus, resp.StatusCode, duration)

	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
			t.collector.RecordHTTPResponseSize(cacheStatus, size)
		}
	}

	return resp, nil
}

// Client returns an *http.Client using this instrumented transport.
func (t *InstrumentedTransport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// Verify interface implementation at compile time
var _ http.RoundTripper = (*InstrumentedTransport)(nil)
