// Package pmap implements the physical map: per-address-space translation
// tables, their lifecycle, nesting of shared regions, and the page-indexed
// operations that span every address space mapping a page.
package pmap

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/pmap/hooking"
	"github.com/sarchlab/pmap/tracing"
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/cpu"
	"github.com/sarchlab/pmap/vm/flush"
	"github.com/sarchlab/pmap/vm/ledger"
	"github.com/sarchlab/pmap/vm/phys"
	"github.com/sarchlab/pmap/vm/platform"
	"github.com/sarchlab/pmap/vm/trust"
)

// Manager owns the kernel address space, the processors, and every address
// space created through it.
type Manager struct {
	hooking.HookableBase

	name     string
	platform platform.Description
	db       *phys.DB
	pages    phys.Allocator
	ledgers  ledger.Service
	gate     trust.Evaluator
	flusher  *flush.Coordinator
	kernel   *Pmap

	nextASID atomic.Uint32

	// nestOps serializes nesting so the one-level-deep check and the new
	// window are seen together. It is taken before any other lock.
	nestOps sync.Mutex

	mu   sync.Mutex
	live map[uint32]*Pmap
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// Platform returns the platform description.
func (m *Manager) Platform() platform.Description {
	return m.platform
}

// PhysDB returns the physical page database.
func (m *Manager) PhysDB() *phys.DB {
	return m.db
}

// Gate returns the trust evaluator.
func (m *Manager) Gate() trust.Evaluator {
	return m.gate
}

// Flusher returns the flush coordinator.
func (m *Manager) Flusher() *flush.Coordinator {
	return m.flusher
}

// Processors returns the processors.
func (m *Manager) Processors() []*cpu.Processor {
	return m.flusher.Processors()
}

// Kernel returns the kernel address space.
func (m *Manager) Kernel() *Pmap {
	return m.kernel
}

// Pmaps returns every live address space, kernel first, ordered by ASID.
func (m *Manager) Pmaps() []*Pmap {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Pmap, 0, len(m.live))
	for _, p := range m.live {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].asid < out[j].asid })

	return out
}

// Lookup returns the live address space with the given ASID.
func (m *Manager) Lookup(asid uint32) (*Pmap, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.live[asid]

	return p, ok
}

// Require panics unless p is a live address space of this manager.
func (m *Manager) Require(p *Pmap) {
	if p == nil {
		panic("pmap: nil address space")
	}

	if p.mgr != m {
		panic(fmt.Sprintf("pmap: address space %d belongs to another manager",
			p.asid))
	}

	if p.destroyed.Load() {
		panic(fmt.Sprintf("pmap: address space %d used after destroy", p.asid))
	}
}

// Switch makes p the active address space of processor cpuID. Switching to
// the active space does nothing. The processor runs with the kernel space
// during the transition and drops what it cached for the space it leaves.
func (m *Manager) Switch(cpuID int, p *Pmap) {
	m.Require(p)

	proc := m.flusher.Processor(cpuID)
	if proc.Active() == cpu.Space(p) {
		return
	}

	taskID := m.startTask("switch", opDetail{ASID: p.asid})
	defer m.endTask(taskID, nil)

	prev, _ := proc.Install(m.kernel)
	if prev != cpu.Space(m.kernel) {
		proc.InvalidateASID(prev.ASID())
	}

	proc.Install(p)
}

// Active returns the address space running on processor cpuID.
func (m *Manager) Active(cpuID int) *Pmap {
	return m.flusher.Processor(cpuID).Active().(*Pmap)
}

// VerifyFree returns true if the page is not mapped anywhere.
func (m *Manager) VerifyFree(ppn vm.PPN) bool {
	return m.db.VerifyFree(ppn)
}

// LedgerAlloc allocates a ledger from the ledger service.
func (m *Manager) LedgerAlloc() (*ledger.Ledger, error) {
	return m.ledgers.Alloc()
}

// LedgerFree returns a ledger allocated by LedgerAlloc.
func (m *Manager) LedgerFree(l *ledger.Ledger) {
	m.ledgers.Free(l)
}

// LedgerVerifySize checks that ledgers have n entries.
func (m *Manager) LedgerVerifySize(n int) {
	m.ledgers.VerifySize(n)
}

func (m *Manager) register(p *Pmap) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.live[p.asid] = p
}

func (m *Manager) unregister(p *Pmap) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.live, p.asid)
}

// allocTablePage takes a page for a translation table, blocking unless
// NoWait is set.
func (m *Manager) allocTablePage(options vm.Options) (vm.PPN, error) {
	if options.Has(vm.OptionNoWait) {
		ppn, ok := m.pages.Alloc()
		if !ok {
			return 0, vm.Errorf(vm.KindResourceShortage, "expand",
				"no free page for a translation table")
		}

		return ppn, nil
	}

	return m.pages.AllocWait(), nil
}

func (m *Manager) startTask(what string, detail any) string {
	return tracing.StartTask("", m, "pmap", what, detail)
}

func (m *Manager) endTask(id string, err error) {
	tracing.EndTask(id, m, err)
}

// opDetail is the detail attached to traced operations.
type opDetail struct {
	ASID  uint32
	Start vm.VAddr
	End   vm.VAddr
	PPN   vm.PPN
}

func (d opDetail) String() string {
	switch {
	case d.End > d.Start:
		return fmt.Sprintf("asid=%d [%#x, %#x)", d.ASID, d.Start, d.End)
	case d.PPN != 0:
		return fmt.Sprintf("ppn=%#x", d.PPN)
	default:
		return fmt.Sprintf("asid=%d", d.ASID)
	}
}
