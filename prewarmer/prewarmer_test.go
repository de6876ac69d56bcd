package prewarmer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cachekit/httpcache/engine"
	"github.com/cachekit/httpcache/rewriter"
	"github.com/cachekit/httpcache/store/memstore"
)

func newCachedClient(t *testing.T) *http.Client {
	t.Helper()
	e, err := engine.New(memstore.New())
	require.NoError(t, err)
	return engine.NewTransport(e, nil).Client()
}

func newTestServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=3600")
		fmt.Fprintf(w, "body for %s", r.URL.Path)
	}))
	return server, &hits
}

// newSitemapServer starts a server whose /sitemap.xml lists its own pages at
// the given paths. The server must be listening before its own base URL is
// known, so the sitemap body is built lazily from the *httptest.Server once
// it has a URL.
func newSitemapServer(t *testing.T, pagePaths []string) *httptest.Server {
	t.Helper()
	var mux http.ServeMux
	var server *httptest.Server

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		var entries string
		for _, path := range pagePaths {
			entries += fmt.Sprintf("<url><loc>%s%s</loc></url>", server.URL, path)
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><urlset>%s</urlset>`, entries)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=3600")
		fmt.Fprintf(w, "body for %s", r.URL.Path)
	})

	server = httptest.NewServer(&mux)
	return server
}

func TestNew(t *testing.T) {
	t.Run("requires a client", func(t *testing.T) {
		_, err := New(Config{})
		require.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		p, err := New(Config{Client: &http.Client{}})
		require.NoError(t, err)
		require.Equal(t, "cachekit-prewarmer/1.0", p.userAgent)
		require.Equal(t, 30*time.Second, p.timeout)
	})

	t.Run("honors custom config", func(t *testing.T) {
		p, err := New(Config{
			Client:       &http.Client{},
			UserAgent:    "custom-agent/2.0",
			Timeout:      5 * time.Second,
			ForceRefresh: true,
		})
		require.NoError(t, err)
		require.Equal(t, "custom-agent/2.0", p.userAgent)
		require.Equal(t, 5*time.Second, p.timeout)
		require.True(t, p.forceRefresh)
	})
}

func TestPrewarm(t *testing.T) {
	server, hits := newTestServer(t)
	defer server.Close()

	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	urls := []string{server.URL + "/a", server.URL + "/b", server.URL + "/c"}
	stats, err := p.Prewarm(context.Background(), urls)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 3, stats.Successful)
	require.Equal(t, 0, stats.Failed)
	require.EqualValues(t, 3, atomic.LoadInt32(hits))
}

func TestPrewarmWithErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "max-age=3600")
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	urls := []string{server.URL + "/good", server.URL + "/bad"}
	stats, err := p.Prewarm(context.Background(), urls)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Successful)
	require.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Errors, 1)
}

func TestPrewarmWithCallback(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	urls := []string{server.URL + "/a", server.URL + "/b"}
	var calls int
	_, err = p.PrewarmWithCallback(context.Background(), urls, func(result *Result, completed, total int) {
		calls++
		require.Equal(t, 2, total)
		require.Equal(t, calls, completed)
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestPrewarmConcurrent(t *testing.T) {
	server, hits := newTestServer(t)
	defer server.Close()

	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	var urls []string
	for i := 0; i < 10; i++ {
		urls = append(urls, fmt.Sprintf("%s/page%d", server.URL, i))
	}

	stats, err := p.PrewarmConcurrent(context.Background(), urls, 4)
	require.NoError(t, err)
	require.Equal(t, 10, stats.Total)
	require.Equal(t, 10, stats.Successful)
	require.EqualValues(t, 10, atomic.LoadInt32(hits))
}

func TestPrewarmConcurrentWithCallback(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	var urls []string
	for i := 0; i < 5; i++ {
		urls = append(urls, fmt.Sprintf("%s/page%d", server.URL, i))
	}

	var mu sync.Mutex
	var completedCalls []int
	_, err = p.PrewarmConcurrentWithCallback(context.Background(), urls, 3, func(result *Result, completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		completedCalls = append(completedCalls, completed)
		require.Equal(t, 5, total)
	})
	require.NoError(t, err)
	require.Len(t, completedCalls, 5)
}

func TestPrewarmContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Cache-Control", "max-age=3600")
		fmt.Fprint(w, "slow")
	}))
	defer server.Close()

	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	urls := []string{server.URL + "/a", server.URL + "/b"}
	_, err = p.Prewarm(ctx, urls)
	require.Error(t, err)
}

func TestPrewarmFromSitemap(t *testing.T) {
	server := newSitemapServer(t, []string{"/page1", "/page2"})
	defer server.Close()

	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	stats, err := p.PrewarmFromSitemap(context.Background(), server.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 2, stats.Successful)
}

func TestPrewarmFromSitemapConcurrent(t *testing.T) {
	var paths []string
	for i := 0; i < 6; i++ {
		paths = append(paths, fmt.Sprintf("/page%d", i))
	}
	server := newSitemapServer(t, paths)
	defer server.Close()

	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	stats, err := p.PrewarmFromSitemapConcurrent(context.Background(), server.URL+"/sitemap.xml", 3)
	require.NoError(t, err)
	require.Equal(t, 6, stats.Total)
	require.Equal(t, 6, stats.Successful)
}

func TestPrewarmCachePopulation(t *testing.T) {
	server, hits := newTestServer(t)
	defer server.Close()

	client := newCachedClient(t)
	p, err := New(Config{Client: client})
	require.NoError(t, err)

	url := server.URL + "/cached"
	_, err = p.Prewarm(context.Background(), []string{url})
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(hits))

	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, string(rewriter.StatusHit), resp.Header.Get(rewriter.HeaderXCache))
	require.EqualValues(t, 1, atomic.LoadInt32(hits), "a warmed URL must be served from cache, not the origin")
}

func TestPrewarmForceRefresh(t *testing.T) {
	server, hits := newTestServer(t)
	defer server.Close()

	client := newCachedClient(t)
	url := server.URL + "/refresh"

	p, err := New(Config{Client: client})
	require.NoError(t, err)
	_, err = p.Prewarm(context.Background(), []string{url})
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(hits))

	refresher, err := New(Config{Client: client, ForceRefresh: true})
	require.NoError(t, err)
	_, err = refresher.Prewarm(context.Background(), []string{url})
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(hits), "ForceRefresh must bypass the warmed entry")
}

func TestPrewarmEmptyURLs(t *testing.T) {
	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	stats, err := p.Prewarm(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Total)
	require.Equal(t, 0, stats.Successful)
	require.Equal(t, 0, stats.Failed)
}

func TestPrewarmInvalidURL(t *testing.T) {
	p, err := New(Config{Client: newCachedClient(t)})
	require.NoError(t, err)

	stats, err := p.Prewarm(context.Background(), []string{"://not-a-valid-url"})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Errors, 1)
}

func TestResult(t *testing.T) {
	r := &Result{
		URL:        "http://example.com",
		Success:    true,
		StatusCode: 200,
		Duration:   10 * time.Millisecond,
		Size:       1024,
		FromCache:  true,
	}
	require.True(t, r.Success)
	require.True(t, r.FromCache)
	require.Nil(t, r.Error)
}
