package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cachekit/httpcache/engine"
	"github.com/cachekit/httpcache/store/memstore"
)

func newTestTransport(collector *Collector) *InstrumentedTransport {
	e, err := engine.New(memstore.New())
	if err != nil {
		panic(err)
	}
	return NewInstrumentedTransport(engine.NewTransport(e, nil), collector)
}

func TestInstrumentedTransportRecordsHitAndMiss(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollectorWithRegistry(registry)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=300")
		w.Header().Set("Content-Length", "13")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("test response"))
	}))
	defer server.Close()

	client := newTestTransport(collector).Client()

	resp1, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	io.Copy(io.Discard, resp1.Body)
	resp1.Body.Close()

	resp2, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	io.Copy(io.Discard, resp2.Body)
	resp2.Body.Close()

	expectedHTTP := `
		# HELP httpcache_http_requests_total Total number of HTTP requests
		# TYPE httpcache_http_requests_total counter
		httpcache_http_requests_total{cache_status="hit",method="GET",status_code="200"} 1
		httpcache_http_requests_total{cache_status="miss",method="GET",status_code="200"} 1
	`
	if err := testutil.CollectAndCompare(collector.httpRequests, strings.NewReader(expectedHTTP)); err != nil {
		t.Errorf("unexpected HTTP metrics: %v", err)
	}

	expectedSize := `
		# HELP httpcache_http_response_size_bytes_total Total size of HTTP responses in bytes
		# TYPE httpcache_http_response_size_bytes_total counter
		httpcache_http_response_size_bytes_total{cache_status="hit"} 13
		httpcache_http_response_size_bytes_total{cache_status="miss"} 13
	`
	if err := testutil.CollectAndCompare(collector.httpResponseSize, strings.NewReader(expectedSize)); err != nil {
		t.Errorf("unexpected size metrics: %v", err)
	}
}

func TestInstrumentedTransportWithNilCollectorDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=300")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("test"))
	}))
	defer server.Close()

	e, err := engine.New(memstore.New())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	transport := NewInstrumentedTransport(engine.NewTransport(e, nil), nil)
	client := transport.Client()

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
}

func TestInstrumentedTransportDifferentStatusCodes(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollectorWithRegistry(registry)
	client := newTestTransport(collector).Client()

	statusCodes := []int{200, 404, 500}
	for _, code := range statusCodes {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		server.Close()
	}

	metrics, _ := registry.Gather()
	statusCodesFound := map[string]bool{}
	for _, m := range metrics {
		if m.GetName() != "httpcache_http_requests_total" {
			continue
		}
		for _, metric := range m.Metric {
			for _, label := range metric.Label {
				if label.GetName() == "status_code" {
					statusCodesFound[label.GetValue()] = true
				}
			}
		}
	}

	if len(statusCodesFound) < 2 {
		t.Errorf("expected multiple status codes recorded, got %d", len(statusCodesFound))
	}
}
