// Package jobs tracks in-flight transfers: the UUID-keyed table the
// GC loop sweeps, and the "started" gate a handler waits on before
// deciding whether a submission was admitted or had to queue past its
// deadline. Grounded on original_source/s4/server.py's io_jobs dict,
// new_uuid, and the start() helper.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jigth/s4/pkg/s4/shell"
)

// Future wraps a pool-submitted unit of work's eventual shell.Result.
// Started closes the instant the pool actually begins running the
// work (as opposed to still sitting in the queue), which is what lets
// a handler distinguish "admitted, now waiting on the subprocess" from
// "never got a worker, time out the request with 429".
type Future struct {
	started chan struct{}
	done    chan struct{}
	result  shell.Result
	err     error

	startOnce sync.Once
	doneOnce  sync.Once
	cancelled bool
	mu        sync.Mutex
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// MarkStarted closes the started gate. Safe to call at most
// meaningfully once; subsequent calls are no-ops.
func (f *Future) MarkStarted() {
	f.startOnce.Do(func() { close(f.started) })
}

// Started returns a channel that's closed once the work has begun
// executing on a pool worker.
func (f *Future) Started() <-chan struct{} {
	return f.started
}

// Resolve records the work's result and closes Done. Safe to call at
// most once.
func (f *Future) Resolve(result shell.Result, err error) {
	f.mu.Lock()
	f.result, f.err = result, err
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
}

// Done returns a channel closed once Resolve has been called.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the resolved result and error. Only meaningful after
// Done is closed.
func (f *Future) Result() (shell.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Cancel marks the future cancelled. This is best-effort: it does not
// kill an in-flight subprocess by itself, it only flags the future so
// callers stop waiting on it; the pool worker running the subprocess
// is responsible for observing its own context cancellation.
func (f *Future) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
}

// Cancelled reports whether Cancel was called.
func (f *Future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Record is one in-flight transfer's bookkeeping: when it started (for
// GC's max_timeout reaping), its Future, and the path bookkeeping the
// confirm phase needs to finish or unwind the transfer.
type Record struct {
	UUID         string
	Start        time.Time
	Future       *Future
	TempPath     string
	Path         string
	DiskChecksum string
}

// Table is the UUID-keyed job table every prepare/confirm handler pair
// shares, guarded by a plain mutex the way original_source's io_jobs
// dict is guarded implicitly by Tornado's single-threaded event loop —
// Go has real threads, so here the mutex is load-bearing rather than
// vestigial.
type Table struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{records: map[string]*Record{}}
}

// NewUUID mints a fresh job id and reserves a Record for it in one
// step, mirroring new_uuid's collision-retry loop (practically
// unreachable with google/uuid, but kept for parity and as a sane
// bound if it ever weren't).
func (t *Table) NewUUID(rec *Record) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < 10; i++ {
		id := uuid.NewString()
		if _, exists := t.records[id]; !exists {
			rec.UUID = id
			rec.Start = time.Now()
			t.records[id] = rec
			return id
		}
	}
	panic("jobs: exhausted uuid retries")
}

// Get returns the record for id, if any.
func (t *Table) Get(id string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	return r, ok
}

// Pop removes and returns the record for id, if any, matching the
// original's io_jobs.pop(uuid) confirm-phase idiom.
func (t *Table) Pop(id string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if ok {
		delete(t.records, id)
	}
	return r, ok
}

// Sweep returns, and removes, every record whose Start is older than
// maxAge. Called by gc.Loop every 5 seconds.
func (t *Table) Sweep(maxAge time.Duration) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale []*Record
	now := time.Now()
	for id, r := range t.records {
		if now.Sub(r.Start) > maxAge {
			stale = append(stale, r)
			delete(t.records, id)
		}
	}
	return stale
}

// Len reports the number of in-flight jobs, exposed as a gauge on
// /metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
