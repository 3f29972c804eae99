package pmap

import (
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/tlb"
)

// Access simulates processor cpuID touching va with the given access
// rights in its active space. A TLB hit that allows the access is served
// from the cache. A miss walks the tables, following nesting windows and
// falling back to the kernel space, and marks the page referenced, or
// modified for writes. The first write through a clean cached translation
// marks the page modified too.
func (m *Manager) Access(cpuID int, va vm.VAddr, want vm.Prot) (vm.PPN, error) {
	proc := m.flusher.Processor(cpuID)
	space := proc.Active().(*Pmap)
	va = m.platform.TruncPage(va)
	write := want&vm.ProtWrite != 0

	if e, ok := proc.Lookup(space.asid, va); ok && e.Prot.Allows(want) {
		if write && !e.Dirty {
			m.db.MarkModified(e.PPN)
			proc.MarkDirty(space.asid, va)
		}

		return e.PPN, nil
	}

	gen := proc.Generation()

	e, owner, ok := space.translate(va)
	if !ok && space != m.kernel {
		e, owner, ok = m.kernel.translate(va)
	}

	if !ok || !e.present() {
		return 0, vm.Errorf(vm.KindNotFound, "access",
			"%#x is not mapped in %s", va, space)
	}

	if !e.prot.Allows(want) {
		return 0, vm.Errorf(vm.KindDenied, "access",
			"%s access to %#x mapped %s", want, va, e.prot)
	}

	if write {
		m.db.MarkModified(e.ppn)
	} else {
		m.db.MarkReferenced(e.ppn)
	}

	proc.Fill(tlb.Entry{
		ASID:   space.asid,
		VA:     va,
		PPN:    e.ppn,
		Prot:   e.prot,
		Dirty:  write,
		Global: owner.kernel,
	}, gen)

	return e.ppn, nil
}
