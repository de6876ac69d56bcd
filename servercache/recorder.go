package servercache

import (
	"bytes"
	"net/http"
)

// captureWriter buffers a handler's response so servercache can inspect
// status and headers before deciding whether (and how) to forward them to
// the real client, the way the original's ServerCacheService splits the
// handler's Response into parts before re-assembling one for the caller.
type captureWriter struct {
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: http.Header{}}
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.status = status
	c.wroteHeader = true
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.body.Write(b)
}
