// Package cpu models the processors that run with an active address space
// and cache its translations.
package cpu

import (
	"fmt"
	"sync"

	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/tlb"
)

// A Space is an address space a processor can run with.
type Space interface {
	ASID() uint32
}

// A Processor holds the active translation context and a TLB.
type Processor struct {
	mu sync.Mutex

	id     int
	active Space
	tlb    tlb.Set

	// generation is bumped on every invalidation so that a translation
	// walked without the lock is not cached if a flush raced with it.
	generation uint64
	flushes    uint64
}

// NewProcessor creates a processor running with the given space.
func NewProcessor(id int, initial Space, numTLBEntries int) *Processor {
	if initial == nil {
		panic("a processor needs an initial address space")
	}

	return &Processor{
		id:     id,
		active: initial,
		tlb:    tlb.NewSet(numTLBEntries),
	}
}

// ID returns the processor number.
func (p *Processor) ID() int {
	return p.id
}

func (p *Processor) String() string {
	return fmt.Sprintf("cpu%d", p.id)
}

// Active returns the address space the processor runs with.
func (p *Processor) Active() Space {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.active
}

// Install makes next the active space and returns the previous one. It
// returns false if next was already active. A nil space is never installed,
// so the processor always has a translation context.
func (p *Processor) Install(next Space) (Space, bool) {
	if next == nil {
		panic("installing a nil address space")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.active
	if prev == next {
		return prev, false
	}

	p.active = next

	return prev, true
}

// Lookup searches the TLB.
func (p *Processor) Lookup(asid uint32, va vm.VAddr) (tlb.Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.tlb.Lookup(asid, va)
}

// Generation returns the invalidation generation.
func (p *Processor) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.generation
}

// Fill caches a translation if no invalidation happened since generation
// was read. It returns whether the entry was cached.
func (p *Processor) Fill(e tlb.Entry, generation uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generation != generation {
		return false
	}

	p.tlb.Insert(e)

	return true
}

// MarkDirty records that a write went through the cached translation.
func (p *Processor) MarkDirty(asid uint32, va vm.VAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tlb.MarkDirty(asid, va)
}

// InvalidateAll drops every cached translation.
func (p *Processor) InvalidateAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.flushes++

	return p.tlb.InvalidateAll()
}

// InvalidateASID drops the translations of one address space.
func (p *Processor) InvalidateASID(asid uint32) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.flushes++

	return p.tlb.InvalidateASID(asid)
}

// InvalidateRange drops the translations of one address space in
// [start, end).
func (p *Processor) InvalidateRange(asid uint32, start, end vm.VAddr) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.flushes++

	return p.tlb.InvalidateRange(asid, start, end)
}

// Flushes returns how many invalidations the processor received.
func (p *Processor) Flushes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.flushes
}

// CachedEntries returns a copy of the TLB contents.
func (p *Processor) CachedEntries() []tlb.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.tlb.Entries()
}
