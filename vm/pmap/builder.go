package pmap

import (
	"fmt"

	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/flush"
	"github.com/sarchlab/pmap/vm/ledger"
	"github.com/sarchlab/pmap/vm/phys"
	"github.com/sarchlab/pmap/vm/platform"
	"github.com/sarchlab/pmap/vm/trust"
)

// Builder creates managers.
type Builder struct {
	platform      platform.Description
	db            *phys.DB
	pages         phys.Allocator
	ledgers       ledger.Service
	gate          trust.Evaluator
	numCPUs       int
	numTLBEntries int
	numPages      int
}

// MakeBuilder returns a builder for the arm64 preset with four processors
// and 1024 managed pages.
func MakeBuilder() Builder {
	return Builder{
		platform:      platform.ARM64(),
		numCPUs:       4,
		numTLBEntries: 64,
		numPages:      1024,
	}
}

// WithPlatform sets the platform description.
func (b Builder) WithPlatform(p platform.Description) Builder {
	b.platform = p
	return b
}

// WithPhysDB sets the page database. Its page size must be the platform
// page size.
func (b Builder) WithPhysDB(db *phys.DB) Builder {
	b.db = db
	return b
}

// WithNumPages sets how many pages the default page database manages.
func (b Builder) WithNumPages(n int) Builder {
	b.numPages = n
	return b
}

// WithAllocator sets the page allocator.
func (b Builder) WithAllocator(a phys.Allocator) Builder {
	b.pages = a
	return b
}

// WithLedgerService sets the ledger service.
func (b Builder) WithLedgerService(s ledger.Service) Builder {
	b.ledgers = s
	return b
}

// WithGate sets the trust evaluator.
func (b Builder) WithGate(g trust.Evaluator) Builder {
	b.gate = g
	return b
}

// WithNumCPUs sets the number of processors.
func (b Builder) WithNumCPUs(n int) Builder {
	b.numCPUs = n
	return b
}

// WithNumTLBEntries sets the TLB capacity of each processor.
func (b Builder) WithNumTLBEntries(n int) Builder {
	b.numTLBEntries = n
	return b
}

// Build creates the manager with its kernel address space.
func (b Builder) Build(name string) *Manager {
	b.platform.Validate()

	db := b.db
	if db == nil {
		db = phys.MakeBuilder().
			WithPageSize(b.platform.PageSize).
			WithNumPages(b.numPages).
			Build()
	}

	if db.PageSize() != b.platform.PageSize {
		panic(fmt.Sprintf("page database uses %d byte pages, platform %s uses %d",
			db.PageSize(), b.platform.Name, b.platform.PageSize))
	}

	pages := b.pages
	if pages == nil {
		pages = phys.NewAllocator(db)
	}

	ledgers := b.ledgers
	if ledgers == nil {
		ledgers = ledger.NewService(0)
	}

	ledgers.VerifySize(ledger.TemplateSize)

	gate := b.gate
	if gate == nil {
		gate = trust.MakeBuilder().
			WithPlatform(b.platform).
			Build(name + ".Gate")
	}

	m := &Manager{
		name:     name,
		platform: b.platform,
		db:       db,
		pages:    pages,
		ledgers:  ledgers,
		gate:     gate,
		live:     make(map[uint32]*Pmap),
	}

	m.kernel = b.buildKernel(m)
	m.register(m.kernel)

	m.flusher = flush.MakeBuilder().
		WithNumCPUs(b.numCPUs).
		WithNumTLBEntries(b.numTLBEntries).
		WithKernel(m.kernel).
		Build(name + ".Flush")

	return m
}

func (b Builder) buildKernel(m *Manager) *Pmap {
	l, err := m.ledgers.Alloc()
	if err != nil {
		panic(fmt.Sprintf("cannot allocate the kernel ledger: %v", err))
	}

	k := newPmap(m, 0, l, vm.DefaultCreateFlag, vm.VAddr(b.platform.MaxAddress64))
	k.kernel = true
	k.csEnforced.Store(false)

	return k
}
