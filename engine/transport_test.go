package engine

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachekit/httpcache/rewriter"
)

func TestTransportCachesAcrossRequests(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Cache-Control", "max-age=3600")
		fmt.Fprintf(w, "response %d", hits)
	}))
	defer server.Close()

	e, err := New(newMemManager())
	require.NoError(t, err)
	client := NewTransport(e, nil).Client()

	resp1, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp1.Body.Close()
	require.Equal(t, string(rewriter.StatusMiss), resp1.Header.Get(rewriter.HeaderXCache))

	resp2, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, string(rewriter.StatusHit), resp2.Header.Get(rewriter.HeaderXCache))

	require.Equal(t, 1, hits, "a fresh cached response must not reach the origin twice")
}

func TestTransportBypassesCacheForNoStore(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Cache-Control", "no-store")
		fmt.Fprint(w, "uncached")
	}))
	defer server.Close()

	e, err := New(newMemManager())
	require.NoError(t, err)
	client := NewTransport(e, nil).Client()

	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Equal(t, 2, hits, "no-store responses must never be served from cache")
}
