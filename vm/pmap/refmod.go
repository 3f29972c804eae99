package pmap

import (
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/flush"
	"github.com/sarchlab/pmap/vm/phys"
	"github.com/sarchlab/pmap/vm/platform"
)

// IsReferenced returns true if the page was accessed since the bit was
// cleared.
func (m *Manager) IsReferenced(ppn vm.PPN) bool {
	return m.db.IsReferenced(ppn)
}

// IsModified returns true if the page was written since the bit was
// cleared.
func (m *Manager) IsModified(ppn vm.PPN) bool {
	return m.db.IsModified(ppn)
}

// GetRefMod returns the ref/mod bits of the page.
func (m *Manager) GetRefMod(ppn vm.PPN) vm.RefMod {
	return m.db.GetRefMod(ppn)
}

// SetModify marks the page modified.
func (m *Manager) SetModify(ppn vm.PPN) {
	m.db.SetModify(ppn)
}

// ClearReference clears the referenced bit.
func (m *Manager) ClearReference(ppn vm.PPN) {
	m.ClearRefModOptions(ppn, vm.RefModReferenced, 0, nil)
}

// ClearModify clears the modified bit.
func (m *Manager) ClearModify(ppn vm.PPN) {
	m.ClearRefModOptions(ppn, vm.RefModModified, 0, nil)
}

// ClearRefMod clears the bits in mask. Clearing an unmapped page is
// allowed.
func (m *Manager) ClearRefMod(ppn vm.PPN, mask vm.RefMod) {
	m.ClearRefModOptions(ppn, mask, 0, nil)
}

// ClearRefModOptions clears the bits in mask and drops the cached
// translations of the page so the next access sets them again.
// SetReusable and ClearReusable also move the page's mappings in and out
// of reusable accounting.
func (m *Manager) ClearRefModOptions(
	ppn vm.PPN,
	mask vm.RefMod,
	options vm.Options,
	ctx *flush.Context,
) {
	if !m.db.IsManaged(ppn) {
		return
	}

	taskID := m.startTask("clear_refmod", opDetail{PPN: ppn})
	defer m.endTask(taskID, nil)

	m.db.LockPage(ppn)
	defer m.db.UnlockPage(ppn)

	old := m.db.ClearRefModLocked(ppn, mask)

	for _, pv := range m.db.PVsLocked(ppn) {
		owner := pv.Owner.(*Pmap)

		if options.Any(vm.OptionSetReusable | vm.OptionClearReusable) {
			owner.setReusableLocked(pv.VA, options.Has(vm.OptionSetReusable))
		}

		if old&mask != 0 {
			owner.invalidate(pv.VA, pv.VA+owner.pageSize(), deferTo(options, ctx))
		}
	}
}

// setReusableLocked moves the mapping at va in or out of reusable
// accounting. The caller holds the page lock.
func (p *Pmap) setReusableLocked(va vm.VAddr, reusable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.lookupLocked(va)
	if e == nil || !e.present() || !e.internal || e.reusable == reusable {
		return
	}

	next := *e
	next.reusable = reusable

	if p.charge(&next) != nil {
		return
	}

	p.uncharge(e)
	e.reusable = reusable
}

// ClearRefModRangeOptions clears the bits in mask for every page mapped in
// [start, end). It either clears all of them and returns true, or changes
// nothing and returns false, in which case the caller clears page by page.
func (p *Pmap) ClearRefModRangeOptions(
	start, end vm.VAddr,
	mask vm.RefMod,
	options vm.Options,
	ctx *flush.Context,
) bool {
	p.mgr.Require(p)

	if !p.mgr.platform.Supports(platform.RangeRefMod) {
		return false
	}

	if p.checkRange("clear_refmod_range", start, end) != nil {
		return false
	}

	taskID := p.mgr.startTask("clear_refmod_range",
		opDetail{ASID: p.asid, Start: start, End: end})

	ok := false

	var others []phys.PV

	p.lockPagesThen(
		func() []vm.PPN { return p.presentPagesLocked(start, end) },
		func() {
			if p.overlapsNestedLocked(start, end) {
				return
			}

			for _, ppn := range p.presentPagesLocked(start, end) {
				p.mgr.db.ClearRefModLocked(ppn, mask)

				for _, pv := range p.mgr.db.PVsLocked(ppn) {
					if pv.Owner != phys.Owner(p) {
						others = append(others, pv)
					}
				}
			}

			ok = true
		})

	if ok {
		p.invalidate(start, end, deferTo(options, ctx))

		for _, pv := range others {
			owner := pv.Owner.(*Pmap)
			owner.invalidate(pv.VA, pv.VA+owner.pageSize(), deferTo(options, ctx))
		}
	}

	var err error
	if !ok {
		err = vm.Errorf(vm.KindUnsupported, "clear_refmod_range",
			"range overlaps a nested window")
	}

	p.mgr.endTask(taskID, err)

	return ok
}
