package pmap

import (
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/flush"
	"github.com/sarchlab/pmap/vm/phys"
)

// Remove unmaps [start, end). Removing what is not mapped does nothing.
func (p *Pmap) Remove(start, end vm.VAddr) error {
	return p.RemoveOptions(start, end, 0, nil)
}

// RemoveOptions is Remove with option bits. Compressor leaves a compressed
// marker for internal pages; CompressorIfModified does so only for
// modified pages. With NoFlush the invalidation is recorded in ctx.
func (p *Pmap) RemoveOptions(
	start, end vm.VAddr,
	options vm.Options,
	ctx *flush.Context,
) error {
	p.mgr.Require(p)

	taskID := p.mgr.startTask("remove",
		opDetail{ASID: p.asid, Start: start, End: end})

	err := p.checkRange("remove", start, end)
	if err == nil {
		p.removeRange(start, min(end, p.sizeBound), options, deferTo(options, ctx))
	}

	p.mgr.endTask(taskID, err)

	return err
}

func (p *Pmap) checkRange(op string, start, end vm.VAddr) error {
	plat := p.mgr.platform

	if start > end || !plat.PageAligned(start) || !plat.PageAligned(end) {
		return vm.Errorf(vm.KindInvalidArgument, op,
			"bad range [%#x, %#x)", start, end)
	}

	return nil
}

func (p *Pmap) removeRange(
	start, end vm.VAddr,
	options vm.Options,
	ctx *flush.Context,
) {
	removed := false

	p.lockPagesThen(
		func() []vm.PPN { return p.presentPagesLocked(start, end) },
		func() {
			p.forEachLocked(start, end, func(t *table, va vm.VAddr, e *entry) {
				if p.removeEntryLocked(t, va, e, options) {
					removed = true
				}
			})
		})

	if removed {
		p.invalidate(start, end, ctx)
	}
}

// removeEntryLocked removes one entry, leaving a compressed marker when
// the options ask for it. It returns true if a translation went away.
func (p *Pmap) removeEntryLocked(
	t *table,
	va vm.VAddr,
	e *entry,
	options vm.Options,
) bool {
	if !e.present() {
		if !options.Any(vm.OptionCompressor | vm.OptionCompressorIfModified) {
			p.dropLocked(t, va, e)
		}

		return false
	}

	p.dropLocked(t, va, e)

	if p.leavesMarker(e, options) {
		marker := &entry{
			compressed: true,
			internal:   e.internal,
			altAcct:    e.altAcct,
		}

		if p.charge(marker) == nil {
			p.installLocked(t, va, marker)
		}
	}

	return true
}

func (p *Pmap) leavesMarker(e *entry, options vm.Options) bool {
	if !e.internal {
		return false
	}

	switch {
	case options.Has(vm.OptionCompressor):
		return true
	case options.Has(vm.OptionCompressorIfModified):
		return p.mgr.db.IsModified(e.ppn)
	default:
		return false
	}
}

// RemoveSomePhys removes every mapping of ppn in the space.
func (p *Pmap) RemoveSomePhys(ppn vm.PPN) {
	p.mgr.Require(p)

	db := p.mgr.db

	db.LockPage(ppn)
	defer db.UnlockPage(ppn)

	for _, pv := range db.PVsLocked(ppn) {
		if pv.Owner != phys.Owner(p) {
			continue
		}

		p.mu.Lock()
		t := p.tables[p.windowBase(pv.VA)]
		p.dropLocked(t, pv.VA, t.entries[pv.VA])
		p.mu.Unlock()

		p.invalidate(pv.VA, pv.VA+p.pageSize(), nil)
	}
}
