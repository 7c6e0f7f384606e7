// Package ports allocates ephemeral TCP ports for the side-channel
// send/recv transfers, standing in for original_source's
// util.net.free_port(). Grounded on spec.md §4.D.
package ports

import (
	"math/rand/v2"
	"net"
	"strconv"
	"sync"

	"github.com/jigth/s4/pkg/s4/types"
)

const (
	minPort   = 20000
	maxPort   = 60000
	maxTries  = 10
)

// Allocator hands out ports not currently in local use, tracking the
// ones it has handed out so two concurrent Acquire calls don't collide
// before either side has bound its listener.
type Allocator struct {
	mu     sync.Mutex
	inUse  map[int]bool
}

// New returns an empty Allocator.
func New() *Allocator {
	return &Allocator{inUse: map[int]bool{}}
}

// Acquire picks a random port in [20000, 60000), verifies it's free by
// binding and immediately closing a listener, and reserves it against
// concurrent callers until Release.
func (a *Allocator) Acquire() (int, *types.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < maxTries; i++ {
		p := minPort + rand.IntN(maxPort-minPort)
		if a.inUse[p] {
			continue
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(p)))
		if err != nil {
			continue
		}
		ln.Close()
		a.inUse[p] = true
		return p, nil
	}
	return 0, types.NewError(types.Overloaded, "no free port found after %d tries", maxTries)
}

// Release returns a previously acquired port to the pool.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}
