// Package gc implements the background sweep that reaps abandoned
// jobs and stale temp files/dirs every 5 seconds. Grounded on
// original_source/s4/server.py:gc_jobs and
// util.misc.exceptions_kill_pid, whose "kill the process on an
// uncaught exception" behavior is realized here as recover() +
// Logger.Fatal, matching spec.md §4.K/§7's "supervised restart
// expected".
package gc

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jigth/s4/pkg/s4/layout"
	"github.com/jigth/s4/pkg/s4/node"
)

const interval = 5 * time.Second

// Loop owns the periodic sweep.
type Loop struct {
	Node *node.Node
}

// New returns a Loop bound to n.
func New(n *node.Node) *Loop {
	return &Loop{Node: n}
}

// Run blocks, sweeping every 5 seconds until ctx is cancelled. A panic
// inside a single sweep is logged at Fatal and re-panics, which kills
// the process; the caller (cmd/s4server) runs under a process
// supervisor that restarts it.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweepOnce()
		}
	}
}

func (l *Loop) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			l.Node.Log.Fatalf("gc: unrecoverable panic during sweep: %v", r)
			panic(r)
		}
	}()

	stale := l.Node.Jobs.Sweep(l.Node.Config.MaxTimeout)
	for _, rec := range stale {
		l.Node.Log.WithField("uuid", rec.UUID).Warn("gc: reaping abandoned job")
		if rec.TempPath != "" {
			_ = os.Remove(rec.TempPath)
		}
		if rec.Path != "" {
			if fi, err := os.Stat(layout.SidecarPath(rec.Path)); err == nil && fi.Size() == 0 {
				_ = os.Remove(layout.SidecarPath(rec.Path))
			}
		}
	}

	sweepDir(filepath.Join(l.Node.Config.DataRoot, "_tempfiles"), l.Node.Config.MaxTimeout+time.Minute, false)
	sweepDir(filepath.Join(l.Node.Config.DataRoot, "_tempdirs"), l.Node.Config.MaxTimeout+time.Minute, true)
}

func sweepDir(dir string, maxAge time.Duration, isDirs bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() != isDirs {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			_ = os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
}
