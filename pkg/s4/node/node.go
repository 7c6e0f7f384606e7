// Package node defines the Node aggregate: everything a handler or
// background loop needs, constructed once in cmd/s4server and passed
// explicitly from then on. spec.md's Design Notes call this out
// directly: job table and port set must not be module-level
// singletons, unlike original_source's module-global io_jobs dict and
// the teacher's own package-level InvokerInstance().
package node

import (
	"github.com/jigth/s4/pkg/s4/config"
	"github.com/jigth/s4/pkg/s4/jobs"
	"github.com/jigth/s4/pkg/s4/layout"
	"github.com/jigth/s4/pkg/s4/pool"
	"github.com/jigth/s4/pkg/s4/ports"
	"github.com/jigth/s4/pkg/s4/shardmap"
	"github.com/jigth/s4/pkg/s4/shell"
	"github.com/jigth/s4/pkg/s4/types"
)

// Node is the full set of constructed dependencies a running s4 server
// shares across its HTTP handlers and background loops.
type Node struct {
	Config    *config.Config
	Log       types.Logger
	Shards    *shardmap.Map
	Layout    *layout.Layout
	Shell     *shell.Runner
	Ports     *ports.Allocator
	Jobs      *jobs.Table
	Pools     *pool.Scheduler
	LocalAddr types.Address
}

// New constructs a Node from a loaded Config and a concrete Logger. It
// determines LocalAddr as the one entry of cfg.Servers normalized to
// "0.0.0.0" by config.Load (the server's own listen address), falling
// back to the first server if normalization found none (single-node
// dev setups).
func New(cfg *config.Config, log types.Logger) *Node {
	n := &Node{
		Config: cfg,
		Log:    log,
		Shards: shardmap.New(cfg.Servers),
		Layout: layout.New(cfg.DataRoot),
		Shell:  shell.NewRunner(),
		Ports:  ports.New(),
		Jobs:   jobs.NewTable(),
		Pools:  pool.NewScheduler(cfg.IOJobs, cfg.CPUJobs, cfg.FindJobs),
	}
	n.LocalAddr = localAddr(cfg.Servers)
	return n
}

func localAddr(servers []types.Address) types.Address {
	for _, s := range servers {
		if len(s) >= 7 && s[:7] == "0.0.0.0" {
			return s
		}
	}
	if len(servers) > 0 {
		return servers[0]
	}
	return ""
}

// Owns reports whether this node owns key.
func (n *Node) Owns(key types.Key) bool {
	return n.Shards.Owns(key, n.LocalAddr)
}

// Port returns the local port the HTTP server should listen on: the
// port component of LocalAddr.
func (n *Node) Port() string {
	for i := len(n.LocalAddr) - 1; i >= 0; i-- {
		if n.LocalAddr[i] == ':' {
			return string(n.LocalAddr[i+1:])
		}
	}
	return ""
}
