package cachekey

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustReq(t *testing.T, method, rawurl string) *http.Request {
	t.Helper()
	u, err := url.Parse(rawurl)
	require.NoError(t, err)
	return &http.Request{Method: method, URL: u, Header: http.Header{}}
}

func TestDefault(t *testing.T) {
	assert.Equal(t, "GET:http://h/", Default(mustReq(t, "GET", "http://h/")))
	assert.Equal(t, "POST:http://h/", Default(mustReq(t, "post", "http://h/")))
}

func TestForInvalidation(t *testing.T) {
	assert.Equal(t, "GET:http://h/", ForInvalidation(mustReq(t, "POST", "http://h/")))
	assert.Equal(t, "GET:http://h/", ForInvalidation(mustReq(t, "DELETE", "http://h/")))
}

func TestWithHeaders(t *testing.T) {
	req := mustReq(t, "GET", "http://h/")
	req.Header.Set("Authorization", "Bearer x")
	req.Header.Set("Accept-Language", "en")

	key := WithHeaders(req, []string{"Accept-Language", "Authorization"})
	assert.Equal(t, "GET:http://h/|Accept-Language:en|Authorization:Bearer x", key)

	assert.Equal(t, Default(req), WithHeaders(req, nil))
}

func TestWithVary(t *testing.T) {
	req := mustReq(t, "GET", "http://h/")
	req.Header.Set("Accept-Language", "en, fr")

	key := WithVary(req, []string{"Accept-Language"})
	assert.Equal(t, "GET:http://h/|vary:Accept-Language:en,fr", key)

	assert.Equal(t, Default(req), WithVary(req, nil))
	assert.Equal(t, Default(req), WithVary(req, []string{"*"}))
}
