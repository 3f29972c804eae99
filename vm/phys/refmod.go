package phys

import "github.com/sarchlab/pmap/vm"

// MarkReferenced sets the referenced bit without taking the page lock. It
// is the path taken by translation walks.
func (db *DB) MarkReferenced(ppn vm.PPN) {
	if p := db.page(ppn); p != nil {
		p.refmod.Or(uint32(vm.RefModReferenced))
	}
}

// MarkModified sets both the modified and referenced bits without taking
// the page lock.
func (db *DB) MarkModified(ppn vm.PPN) {
	if p := db.page(ppn); p != nil {
		p.refmod.Or(uint32(vm.RefModAll))
	}
}

// GetRefMod returns the ref/mod bits of the page. Unmanaged pages report
// zero.
func (db *DB) GetRefMod(ppn vm.PPN) vm.RefMod {
	p := db.page(ppn)
	if p == nil {
		return 0
	}

	return vm.RefMod(p.refmod.Load())
}

// IsReferenced returns true if the referenced bit is set.
func (db *DB) IsReferenced(ppn vm.PPN) bool {
	return db.GetRefMod(ppn)&vm.RefModReferenced != 0
}

// IsModified returns true if the modified bit is set.
func (db *DB) IsModified(ppn vm.PPN) bool {
	return db.GetRefMod(ppn)&vm.RefModModified != 0
}

// SetModify sets the modified bit under the page lock.
func (db *DB) SetModify(ppn vm.PPN) {
	p := db.page(ppn)
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.refmod.Or(uint32(vm.RefModModified))
}

// ClearRefMod clears the requested bits under the page lock. Clearing an
// unmanaged or unmapped page is a no-op.
func (db *DB) ClearRefMod(ppn vm.PPN, mask vm.RefMod) {
	p := db.page(ppn)
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.refmod.And(^uint32(mask & vm.RefModAll))
}

// ClearRefModLocked is ClearRefMod for callers that hold the page lock. It
// returns the bits that were set before the clear.
func (db *DB) ClearRefModLocked(ppn vm.PPN, mask vm.RefMod) vm.RefMod {
	p := db.page(ppn)
	if p == nil {
		return 0
	}

	return vm.RefMod(p.refmod.And(^uint32(mask & vm.RefModAll)))
}

// ClearReference clears the referenced bit.
func (db *DB) ClearReference(ppn vm.PPN) {
	db.ClearRefMod(ppn, vm.RefModReferenced)
}

// ClearModify clears the modified bit.
func (db *DB) ClearModify(ppn vm.PPN) {
	db.ClearRefMod(ppn, vm.RefModModified)
}
