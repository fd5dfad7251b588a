// Package epoch provides the reclamation guard primitive backing the
// concurrent set: goroutines pin themselves before touching shared nodes,
// and destruction of removed nodes is deferred until every guard that
// could still observe them has been released.
package epoch

import (
	"sync"

	"github.com/denismitr/dll"
)

type (
	// Collector tracks pinned guards and retired callbacks for one or
	// more sets. Guards are kept in pin order, so the oldest active
	// guard is always at the head of the list.
	Collector struct {
		mu      sync.Mutex
		epoch   uint64
		pinned  *dll.DoublyLinkedList[*Guard]
		retired []deferred
	}

	deferred struct {
		stamp uint64
		fn    func()
	}

	// Guard - proof that the holder announced intent to access shared
	// nodes. While any guard is active, callbacks retired at or after
	// its pin are held back.
	Guard struct {
		c        *Collector
		epoch    uint64
		el       *dll.Element[*Guard]
		released bool
	}
)

func NewCollector() *Collector {
	return &Collector{
		pinned: dll.New[*Guard](),
	}
}

// Pin registers the caller as an active reader. Every call must be
// balanced by Guard.Release; guards are not meant to be shared between
// goroutines.
func (c *Collector) Pin() *Guard {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := &Guard{c: c, epoch: c.epoch}
	g.el = dll.NewElement(g)
	c.pinned.PushTail(g.el)
	return g
}

// Retire schedules fn to run once every guard pinned at or before this
// call has been released. Guards pinned afterwards do not hold it back.
// With nothing pinned fn runs immediately, on the calling goroutine.
func (c *Collector) Retire(fn func()) {
	c.mu.Lock()
	if c.pinned.Head() == nil {
		c.mu.Unlock()
		fn()
		return
	}
	c.retired = append(c.retired, deferred{stamp: c.epoch, fn: fn})
	c.epoch++
	c.mu.Unlock()
}

// Collector reports which collector pinned this guard.
func (g *Guard) Collector() *Collector {
	return g.c
}

// Active reports whether the guard still holds protection.
func (g *Guard) Active() bool {
	g.c.mu.Lock()
	defer g.c.mu.Unlock()
	return !g.released
}

// Release ends protection. Releasing the oldest active guard runs every
// retired callback it was holding back. Release is idempotent; calling
// it twice is a no-op, not a double-unpin.
func (g *Guard) Release() {
	g.c.mu.Lock()
	if g.released {
		g.c.mu.Unlock()
		return
	}
	g.released = true
	g.c.pinned.Remove(g.el)
	ready := g.c.collectLocked()
	g.c.mu.Unlock()

	// Callbacks run outside the collector lock so they may freely
	// touch collector-owned structures.
	for _, fn := range ready {
		fn()
	}
}

func (c *Collector) collectLocked() []func() {
	minActive := ^uint64(0)
	if head := c.pinned.Head(); head != nil {
		minActive = head.Value().epoch
	}

	var ready []func()
	keep := c.retired[:0]
	for _, d := range c.retired {
		if d.stamp < minActive {
			ready = append(ready, d.fn)
		} else {
			keep = append(keep, d)
		}
	}
	c.retired = keep
	return ready
}
