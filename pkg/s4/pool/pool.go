// Package pool provides bounded worker pools: io, cpu, find, and solo.
// This generalizes the teacher's core.Invoker.Spawn (an unbounded
// "go func(){}" wrapped in a WaitGroup) into a semaphore-bounded
// scheduler, because spec.md's whole point for these pools is
// admission back-pressure — an unbounded spawn can't express a 429.
// Sizing is grounded on original_source/s4/server.py's
// max_io_jobs/max_cpu_jobs ThreadPoolExecutor construction.
package pool

import (
	"context"
	"sync"

	"github.com/jigth/s4/pkg/s4/jobs"
	"github.com/jigth/s4/pkg/s4/shell"
)

// Pool is a fixed-size worker pool. Submit does not block: it returns a
// *jobs.Future at once, and a goroutine waits for a free slot (or for
// ctx to be done) before running the work.
type Pool struct {
	name string
	sem  chan struct{}
	wg   sync.WaitGroup
}

// New returns a Pool with size concurrent workers.
func New(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{name: name, sem: make(chan struct{}, size)}
}

// Name returns the pool's name ("io", "cpu", "find", "solo"), used for
// log fields and /metrics labels.
func (p *Pool) Name() string { return p.name }

// InUse reports how many workers are currently busy, exposed as a
// /metrics gauge.
func (p *Pool) InUse() int { return len(p.sem) }

// Capacity reports the pool's fixed worker count.
func (p *Pool) Capacity() int { return cap(p.sem) }

// Submit runs fn on a pool worker. It returns a *jobs.Future whose
// Started channel closes the instant fn actually begins running (as
// opposed to still waiting for a slot); a caller selecting on Started
// with a deadline can distinguish "admitted" from "queue is full,
// treat this as overloaded" exactly the way original_source's
// start()/tornado.gen.with_timeout pairing does.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) (shell.Result, error)) *jobs.Future {
	f := jobs.NewFuture()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			f.Resolve(shell.Result{}, ctx.Err())
			return
		}
		defer func() { <-p.sem }()

		f.MarkStarted()
		if f.Cancelled() {
			f.Resolve(shell.Result{}, context.Canceled)
			return
		}
		res, err := fn(ctx)
		f.Resolve(res, err)
	}()
	return f
}

// Wait blocks until every Submit'd goroutine has returned. Used only
// by tests and graceful shutdown; the server itself never calls it on
// its main path.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Scheduler is the Node's full set of named pools: io, cpu, find, and
// solo. solo is always sized 1 — it is the sole mutator of the blob
// namespace, replacing what would otherwise need a per-key lock.
type Scheduler struct {
	IO   *Pool
	CPU  *Pool
	Find *Pool
	Solo *Pool
}

// NewScheduler builds the four pools from the given sizes.
func NewScheduler(ioJobs, cpuJobs, findJobs int) *Scheduler {
	return &Scheduler{
		IO:   New("io", ioJobs),
		CPU:  New("cpu", cpuJobs),
		Find: New("find", findJobs),
		Solo: New("solo", 1),
	}
}

// SubmitSolo runs fn to completion on the solo pool and returns its
// plain error, for the call sites (blob-namespace mutation, and the
// sidecar read in prepare_get) that don't need a Future, only mutual exclusion with
// every other solo-pool caller.
func (s *Scheduler) SubmitSolo(ctx context.Context, fn func() error) error {
	f := s.Solo.Submit(ctx, func(ctx context.Context) (shell.Result, error) {
		return shell.Result{}, fn()
	})
	select {
	case <-f.Done():
		_, err := f.Result()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
