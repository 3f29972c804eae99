package pmap

import (
	"sort"

	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/ledger"
	"github.com/sarchlab/pmap/vm/phys"
)

// An entry is one leaf of a translation table: a mapping or the marker
// left behind when the compressor took the page.
type entry struct {
	ppn        vm.PPN
	prot       vm.Prot
	wired      bool
	cacheAttr  vm.CacheAttr
	internal   bool
	reusable   bool
	altAcct    bool
	tpro       bool
	compressed bool
}

func (e *entry) present() bool {
	return !e.compressed
}

// A table maps one NestGranularity window. Each table occupies one
// physical page.
type table struct {
	ppn     vm.PPN
	base    vm.VAddr
	entries map[vm.VAddr]*entry
}

func (p *Pmap) windowBase(va vm.VAddr) vm.VAddr {
	return va &^ vm.VAddr(p.mgr.platform.NestGranularity-1)
}

func (p *Pmap) pageSize() vm.VAddr {
	return vm.VAddr(p.mgr.platform.PageSize)
}

func (p *Pmap) lookupLocked(va vm.VAddr) *entry {
	t, ok := p.tables[p.windowBase(va)]
	if !ok {
		return nil
	}

	return t.entries[va]
}

// forEachLocked visits the entries in [start, end) in address order.
func (p *Pmap) forEachLocked(
	start, end vm.VAddr,
	fn func(t *table, va vm.VAddr, e *entry),
) {
	bases := make([]vm.VAddr, 0, len(p.tables))
	for base := range p.tables {
		gran := vm.VAddr(p.mgr.platform.NestGranularity)
		if base+gran > start && base < end {
			bases = append(bases, base)
		}
	}

	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })

	for _, base := range bases {
		t := p.tables[base]

		vas := make([]vm.VAddr, 0, len(t.entries))
		for va := range t.entries {
			if va >= start && va < end {
				vas = append(vas, va)
			}
		}

		sort.Slice(vas, func(i, j int) bool { return vas[i] < vas[j] })

		for _, va := range vas {
			fn(t, va, t.entries[va])
		}
	}
}

// presentPagesLocked returns the pages mapped in [start, end).
func (p *Pmap) presentPagesLocked(start, end vm.VAddr) []vm.PPN {
	var ppns []vm.PPN

	p.forEachLocked(start, end, func(_ *table, _ vm.VAddr, e *entry) {
		if e.present() {
			ppns = append(ppns, e.ppn)
		}
	})

	return ppns
}

// expand makes sure a table covers va. It is called without locks held
// and may block for a page unless NoWait is set.
func (p *Pmap) expand(va vm.VAddr, options vm.Options) error {
	base := p.windowBase(va)

	p.mu.Lock()
	_, ok := p.tables[base]
	p.mu.Unlock()

	if ok {
		return nil
	}

	ppn, err := p.mgr.allocTablePage(options)
	if err != nil {
		return err
	}

	if err := p.ledger.Credit(ledger.PageTable, 1); err != nil {
		p.mgr.pages.Free(ppn)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tables[base]; ok {
		p.ledger.Debit(ledger.PageTable, 1)
		p.mgr.pages.Free(ppn)

		return nil
	}

	p.tables[base] = &table{
		ppn:     ppn,
		base:    base,
		entries: make(map[vm.VAddr]*entry),
	}

	return nil
}

// Collect releases tables that hold no entries.
func (p *Pmap) Collect() int {
	p.mgr.Require(p)

	p.mu.Lock()
	defer p.mu.Unlock()

	freed := 0

	for base, t := range p.tables {
		if len(t.entries) != 0 {
			continue
		}

		delete(p.tables, base)
		p.ledger.Debit(ledger.PageTable, 1)
		p.mgr.pages.Free(t.ppn)
		freed++
	}

	return freed
}

// NumTables returns how many translation tables the space holds.
func (p *Pmap) NumTables() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.tables)
}

// charges lists the ledger entries an entry is accounted to.
func charges(db *phys.DB, e *entry) []ledger.Entry {
	var out []ledger.Entry

	if e.compressed {
		out = append(out, ledger.Compressed)

		switch {
		case e.altAcct:
			out = append(out, ledger.AltAcctCompressed)
		case e.internal:
			out = append(out, ledger.InternalCompressed, ledger.PhysFootprint)
		}

		return out
	}

	if !db.IsManaged(e.ppn) {
		return nil
	}

	if e.wired {
		out = append(out, ledger.Wired)
	}

	switch {
	case e.altAcct:
		out = append(out, ledger.Internal, ledger.AltAcct)
	case e.internal && e.reusable:
		out = append(out, ledger.Internal, ledger.Reusable)
	case e.internal:
		out = append(out, ledger.Internal, ledger.PhysFootprint)
	}

	return out
}

// charge credits the ledger for e. On failure nothing is credited.
func (p *Pmap) charge(e *entry) error {
	credited := make([]ledger.Entry, 0, 4)

	for _, c := range charges(p.mgr.db, e) {
		if err := p.ledger.Credit(c, 1); err != nil {
			for _, done := range credited {
				p.ledger.Debit(done, 1)
			}

			return err
		}

		credited = append(credited, c)
	}

	return nil
}

func (p *Pmap) uncharge(e *entry) {
	for _, c := range charges(p.mgr.db, e) {
		p.ledger.Debit(c, 1)
	}
}

// installLocked stores e at va. The caller holds the page lock and the
// pmap lock and has charged e.
func (p *Pmap) installLocked(t *table, va vm.VAddr, e *entry) {
	t.entries[va] = e

	if e.compressed {
		p.compressed++
		return
	}

	p.resident++
	if e.wired {
		p.wired++
	}

	p.mgr.db.AddPVLocked(e.ppn, phys.PV{Owner: p, VA: va})
}

// recharge moves the charges of old over to next. Only what next adds is
// credited, so replacing an entry in place never needs room for both.
// Nothing changes if a credit fails.
func (p *Pmap) recharge(old, next *entry) error {
	delta := make(map[ledger.Entry]int64, 4)

	for _, c := range charges(p.mgr.db, next) {
		delta[c]++
	}

	for _, c := range charges(p.mgr.db, old) {
		delta[c]--
	}

	credited := make(map[ledger.Entry]int64, len(delta))

	for c, n := range delta {
		if n <= 0 {
			continue
		}

		if err := p.ledger.Credit(c, n); err != nil {
			for done, m := range credited {
				p.ledger.Debit(done, m)
			}

			return err
		}

		credited[c] = n
	}

	for c, n := range delta {
		if n < 0 {
			p.ledger.Debit(c, -n)
		}
	}

	return nil
}

// dropLocked removes the entry at va and uncharges it.
func (p *Pmap) dropLocked(t *table, va vm.VAddr, e *entry) {
	p.unlinkLocked(t, va, e)
	p.uncharge(e)
}

// unlinkLocked removes the entry at va and leaves the ledger alone.
func (p *Pmap) unlinkLocked(t *table, va vm.VAddr, e *entry) {
	delete(t.entries, va)

	if e.compressed {
		p.compressed--
		return
	}

	p.resident--
	if e.wired {
		p.wired--
	}

	p.mgr.db.RemovePVLocked(e.ppn, phys.PV{Owner: p, VA: va})
}
