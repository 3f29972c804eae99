// Package flush batches and executes the cross-processor translation cache
// invalidation implied by mapping changes.
package flush

import (
	"sort"
	"sync"

	"github.com/sarchlab/pmap/vm"
)

// A Range is a pending invalidation of [Start, End) in one address space.
type Range struct {
	ASID  uint32
	Start vm.VAddr
	End   vm.VAddr
}

// A Context accumulates invalidation work that a caller asked to defer. It
// is safe to record into a context from several goroutines.
type Context struct {
	mu sync.Mutex

	cpus             map[int]struct{}
	invalidateGlobal bool
	pending          []Range
}

// Init zeroes the accumulator.
func (c *Context) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cpus = nil
	c.invalidateGlobal = false
	c.pending = nil
}

// Record adds processors and a range to the context. A global record asks
// the flush to drop everything cached on the processors.
func (c *Context) Record(cpus []int, r Range, global bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cpus == nil {
		c.cpus = make(map[int]struct{})
	}

	for _, id := range cpus {
		c.cpus[id] = struct{}{}
	}

	if global {
		c.invalidateGlobal = true
	}

	if r.End > r.Start {
		c.pending = append(c.pending, r)
	}
}

// Empty returns true if nothing is pending.
func (c *Context) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.cpus) == 0 && !c.invalidateGlobal && len(c.pending) == 0
}

// CPUs returns the recorded processors in ascending order.
func (c *Context) CPUs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int, 0, len(c.cpus))
	for id := range c.cpus {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	return ids
}

// InvalidateGlobal reports whether a global invalidation was recorded.
func (c *Context) InvalidateGlobal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.invalidateGlobal
}

// Pending returns a copy of the recorded ranges.
func (c *Context) Pending() []Range {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Range(nil), c.pending...)
}

// drain returns the recorded work and resets the context.
func (c *Context) drain() (cpus map[int]struct{}, global bool, pending []Range) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cpus, global, pending = c.cpus, c.invalidateGlobal, c.pending
	c.cpus = nil
	c.invalidateGlobal = false
	c.pending = nil

	return cpus, global, pending
}
