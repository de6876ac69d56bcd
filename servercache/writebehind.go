package servercache

import (
	"context"
	"sync"

	"github.com/cachekit/httpcache/engine"
	"github.com/cachekit/httpcache/store"
)

// writeBehind is the §4.2.3 bounded worker pool: storage.Put calls run on
// background goroutines so the response path never blocks on storage,
// grounded on the teacher's asyncRevalidate detached-goroutine pattern in
// httpcache.go, generalized from "one goroutine per call" to a bounded
// pool with a drop-when-full queue (the streaming variant's §4.3 "bounded
// deletion channel, deferred... never blocks the hot path" rule applied
// here to writes instead of evictions).
type writeBehind struct {
	storage store.BufferedManager
	jobs    chan writeJob
	wg      sync.WaitGroup
}

type writeJob struct {
	ctx   context.Context
	key   string
	entry *store.Entry
}

func newWriteBehind(storage store.BufferedManager, workers, queueSize int) *writeBehind {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	wb := &writeBehind{storage: storage, jobs: make(chan writeJob, queueSize)}
	for i := 0; i < workers; i++ {
		wb.wg.Add(1)
		go wb.run()
	}
	return wb
}

func (wb *writeBehind) run() {
	defer wb.wg.Done()
	for job := range wb.jobs {
		if _, err := wb.storage.Put(job.ctx, job.key, job.entry); err != nil {
			debug(engine.GetLogger(), "write-behind store failed", "key", job.key, "error", err)
		}
	}
}

// submit enqueues a write, detaching it from the request's own context
// (request cancellation must not cancel a write-behind already queued) but
// preserving any deadline-free values callers set. If the queue is full
// the write is dropped and logged rather than applying backpressure to
// the response path.
func (wb *writeBehind) submit(ctx context.Context, key string, entry *store.Entry) {
	select {
	case wb.jobs <- writeJob{ctx: context.WithoutCancel(ctx), key: key, entry: entry}:
	default:
		debug(engine.GetLogger(), "write-behind queue full, dropping cache write", "key", key, "queue_size", cap(wb.jobs))
	}
}

// Close stops accepting new jobs and waits for queued writes to finish.
func (wb *writeBehind) Close() {
	close(wb.jobs)
	wb.wg.Wait()
}
