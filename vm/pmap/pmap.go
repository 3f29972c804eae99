package pmap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/cpu"
	"github.com/sarchlab/pmap/vm/flush"
	"github.com/sarchlab/pmap/vm/ledger"
)

// A Pmap is one address space.
type Pmap struct {
	mgr    *Manager
	asid   uint32
	kernel bool

	refcount  atomic.Int32
	destroyed atomic.Bool

	ledger     *ledger.Ledger
	ownsLedger bool
	flags      vm.CreateFlags
	sizeBound  vm.VAddr
	root       vm.PPN
	hasRoot    bool
	exotic     bool

	jit          atomic.Bool
	csEnforced   atomic.Bool
	tpro         atomic.Bool
	allowInvalid atomic.Bool
	userJOPOff   atomic.Bool

	procMu   sync.Mutex
	pid      int
	procName string

	// mu guards the translation tables and the windows this space nests.
	mu         sync.Mutex
	tables     map[vm.VAddr]*table
	resident   int
	compressed int
	wired      int
	nested     []*nesting

	// nestMu guards the windows through which other spaces show this one.
	// It is a leaf lock.
	nestMu   sync.Mutex
	nestedBy []*nesting
}

func newPmap(
	m *Manager,
	asid uint32,
	l *ledger.Ledger,
	flags vm.CreateFlags,
	sizeBound vm.VAddr,
) *Pmap {
	p := &Pmap{
		mgr:       m,
		asid:      asid,
		ledger:    l,
		flags:     flags,
		sizeBound: sizeBound,
		tables:    make(map[vm.VAddr]*table),
	}

	p.refcount.Store(1)
	p.csEnforced.Store(true)

	return p
}

// Create makes a new address space with a reference count of one. A nil
// ledger makes the manager allocate one that is freed with the space. A
// zero sizeBound selects the largest address the flags allow.
func (m *Manager) Create(
	l *ledger.Ledger,
	sizeBound uint64,
	flags vm.CreateFlags,
) (*Pmap, error) {
	taskID := m.startTask("create", opDetail{})

	p, err := m.create(l, sizeBound, flags)

	m.endTask(taskID, err)

	return p, err
}

func (m *Manager) create(
	l *ledger.Ledger,
	sizeBound uint64,
	flags vm.CreateFlags,
) (*Pmap, error) {
	if unknown := flags &^ m.platform.KnownCreateFlags; unknown != 0 {
		return nil, vm.Errorf(vm.KindInvalidArgument, "create",
			"unknown flags %#x", uint32(unknown))
	}

	limit := m.platform.MaxAddress32
	if flags&vm.Flag64Bit != 0 {
		limit = m.platform.MaxAddress64
	}

	if sizeBound == 0 {
		sizeBound = limit
	}

	if sizeBound > limit || !m.platform.PageAligned(vm.VAddr(sizeBound)) {
		return nil, vm.Errorf(vm.KindInvalidArgument, "create",
			"size bound %#x", sizeBound)
	}

	owns := false

	if l == nil {
		var err error

		l, err = m.ledgers.Alloc()
		if err != nil {
			return nil, err
		}

		owns = true
	}

	root, ok := m.pages.Alloc()
	if !ok {
		if owns {
			m.ledgers.Free(l)
		}

		return nil, vm.Errorf(vm.KindResourceShortage, "create",
			"no free page for the root table")
	}

	if err := l.Credit(ledger.PageTable, 1); err != nil {
		m.pages.Free(root)

		if owns {
			m.ledgers.Free(l)
		}

		return nil, err
	}

	p := newPmap(m, m.nextASID.Add(1), l, flags, vm.VAddr(sizeBound))
	p.ownsLedger = owns
	p.root = root
	p.hasRoot = true
	p.exotic = flags&(vm.FlagX86_64|vm.FlagRosetta) != 0
	p.userJOPOff.Store(flags&vm.FlagDisableJOP != 0)

	m.register(p)

	return p, nil
}

// Reference adds a reference to p.
func (m *Manager) Reference(p *Pmap) {
	m.Require(p)

	if p.refcount.Add(1) <= 1 {
		panic(fmt.Sprintf("pmap: address space %d referenced after release",
			p.asid))
	}
}

// Destroy releases a reference. The last release removes every mapping,
// every nesting window, and the ledger attachment. Releasing more
// references than were taken panics.
func (m *Manager) Destroy(p *Pmap) {
	m.Require(p)

	if p.kernel {
		panic("pmap: the kernel address space is never destroyed")
	}

	n := p.refcount.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("pmap: address space %d released too many times",
			p.asid))
	}

	if n > 0 {
		return
	}

	taskID := m.startTask("destroy", opDetail{ASID: p.asid})
	defer m.endTask(taskID, nil)

	m.teardown(p)
}

// RefCount returns the number of references held on p.
func (p *Pmap) RefCount() int32 {
	return p.refcount.Load()
}

func (m *Manager) teardown(p *Pmap) {
	for _, proc := range m.Processors() {
		if proc.Active() == cpu.Space(p) {
			panic(fmt.Sprintf("pmap: destroying address space %d active on %s",
				p.asid, proc))
		}
	}

	for _, sub := range p.unnestAll() {
		m.Destroy(sub)
	}

	p.removeRange(0, p.sizeBound, 0, nil)

	p.mu.Lock()
	for base, t := range p.tables {
		if len(t.entries) != 0 {
			panic(fmt.Sprintf("pmap: address space %d table %#x not empty",
				p.asid, base))
		}

		delete(p.tables, base)
		p.ledger.Debit(ledger.PageTable, 1)
		m.pages.Free(t.ppn)
	}
	p.mu.Unlock()

	f := m.flusher
	f.Invalidate(f.Targets(m.kernel), flush.Range{ASID: p.asid}, false)

	m.gate.ForgetSpace(p)

	if p.hasRoot {
		p.ledger.Debit(ledger.PageTable, 1)
		m.pages.Free(p.root)
	}

	if p.ownsLedger {
		m.ledgers.Free(p.ledger)
	}

	m.unregister(p)
	p.destroyed.Store(true)
}

// ASID returns the address space identifier.
func (p *Pmap) ASID() uint32 {
	return p.asid
}

// IsKernel returns true for the kernel address space.
func (p *Pmap) IsKernel() bool {
	return p.kernel
}

// Ledger returns the ledger attached to the space.
func (p *Pmap) Ledger() *ledger.Ledger {
	return p.ledger
}

// Flags returns the creation flags.
func (p *Pmap) Flags() vm.CreateFlags {
	return p.flags
}

// SizeBound returns one past the highest mappable address.
func (p *Pmap) SizeBound() vm.VAddr {
	return p.sizeBound
}

// SetJITEntitled allows the space to generate code. It cannot be revoked.
func (p *Pmap) SetJITEntitled() {
	p.jit.Store(true)
}

// JITEntitled returns true if the space may generate code.
func (p *Pmap) JITEntitled() bool {
	return p.jit.Load()
}

// SetCSEnforced turns code signing enforcement of the space on or off.
func (p *Pmap) SetCSEnforced(enforced bool) {
	p.csEnforced.Store(enforced)
}

// CSEnforced returns true if code signing is enforced for the space.
func (p *Pmap) CSEnforced() bool {
	return p.csEnforced.Load()
}

// SetTPRO enables the write-protect toggling region for the space.
func (p *Pmap) SetTPRO() {
	p.tpro.Store(true)
}

// TPRO returns true if the space has a write-protect toggling region.
func (p *Pmap) TPRO() bool {
	return p.tpro.Load()
}

// IsExotic returns true for translated address spaces.
func (p *Pmap) IsExotic() bool {
	return p.exotic
}

// DisableUserJOP turns off pointer authentication for user code.
func (p *Pmap) DisableUserJOP() {
	p.userJOPOff.Store(true)
}

// UserJOPDisabled returns true if pointer authentication is off.
func (p *Pmap) UserJOPDisabled() bool {
	return p.userJOPOff.Load()
}

// SetProcess records the owning process for debugging.
func (p *Pmap) SetProcess(pid int, name string) {
	p.procMu.Lock()
	defer p.procMu.Unlock()

	p.pid = pid
	p.procName = name
}

// Process returns the owning process recorded by SetProcess.
func (p *Pmap) Process() (int, string) {
	p.procMu.Lock()
	defer p.procMu.Unlock()

	return p.pid, p.procName
}

// QueryPageSize returns the translation page size of the space.
func (p *Pmap) QueryPageSize() uint64 {
	if p.flags&vm.FlagForce4KPages != 0 {
		return p.mgr.platform.MinPageSize
	}

	return p.mgr.platform.PageSize
}

// Stats returns the resident, compressed, and wired page counts.
func (p *Pmap) Stats() (resident, compressed, wired int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.resident, p.compressed, p.wired
}

func (p *Pmap) String() string {
	pid, name := p.Process()
	if name == "" {
		return fmt.Sprintf("pmap%d", p.asid)
	}

	return fmt.Sprintf("pmap%d(%s:%d)", p.asid, name, pid)
}

// NestedIn returns true if other shows this space through a nesting
// window.
func (p *Pmap) NestedIn(other flush.Space) bool {
	p.nestMu.Lock()
	defer p.nestMu.Unlock()

	for _, n := range p.nestedBy {
		if flush.Space(n.grand) == other {
			return true
		}
	}

	return false
}

// deferTo returns the context to defer invalidation into, or nil for an
// immediate flush.
func deferTo(options vm.Options, ctx *flush.Context) *flush.Context {
	if options.Has(vm.OptionNoFlush) {
		return ctx
	}

	return nil
}

// invalidate drops cached translations of [start, end) in p and in every
// space that shows p through a nesting window.
func (p *Pmap) invalidate(start, end vm.VAddr, ctx *flush.Context) {
	f := p.mgr.flusher
	f.InvalidateOrDefer(ctx, f.Targets(p),
		flush.Range{ASID: p.asid, Start: start, End: end}, false)

	p.nestMu.Lock()
	windows := make([]nesting, 0, len(p.nestedBy))
	for _, n := range p.nestedBy {
		windows = append(windows, *n)
	}
	p.nestMu.Unlock()

	for _, n := range windows {
		s, e := max(start, n.start), min(end, n.end)
		if s >= e {
			continue
		}

		f.InvalidateOrDefer(ctx, f.Targets(n.grand),
			flush.Range{ASID: n.grand.asid, Start: s, End: e}, false)
	}
}
