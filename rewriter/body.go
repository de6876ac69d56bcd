package rewriter

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

// SetBody replaces resp's body with the given string, stamping
// Content-Length to match. Used for synthesized responses (504 Gateway
// Timeout) where there is no upstream body to carry through.
func SetBody(resp *http.Response, body string) {
	resp.Body = io.NopCloser(strings.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

// DrainAndClose discards and closes a response body that is being
// discarded in favor of a cached copy (e.g. after a 304, or when a
// transport error response still carries a body). Draining before closing
// lets the underlying connection be reused by the transport's pool.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
