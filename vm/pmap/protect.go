package pmap

import (
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/flush"
)

// Protect changes the protection of the mappings in [start, end). Without
// ProtectImmediate it may only take rights away.
func (p *Pmap) Protect(start, end vm.VAddr, prot vm.Prot) error {
	return p.ProtectOptions(start, end, prot, 0, nil)
}

// ProtectOptions is Protect with option bits. A request that would widen a
// mapping without ProtectImmediate is denied and changes nothing. Removing
// every right removes the mappings.
func (p *Pmap) ProtectOptions(
	start, end vm.VAddr,
	prot vm.Prot,
	options vm.Options,
	ctx *flush.Context,
) error {
	p.mgr.Require(p)

	if prot == vm.ProtNone {
		return p.RemoveOptions(start, end, options, ctx)
	}

	taskID := p.mgr.startTask("protect",
		opDetail{ASID: p.asid, Start: start, End: end})

	err := p.checkRange("protect", start, end)
	if err == nil {
		err = p.protectRange(start, min(end, p.sizeBound), prot, options,
			deferTo(options, ctx))
	}

	p.mgr.endTask(taskID, err)

	return err
}

func (p *Pmap) protectRange(
	start, end vm.VAddr,
	prot vm.Prot,
	options vm.Options,
	ctx *flush.Context,
) (err error) {
	changed := false

	p.lockPagesThen(
		func() []vm.PPN { return p.presentPagesLocked(start, end) },
		func() {
			err = p.checkProtectLocked(start, end, prot, options)
			if err != nil {
				return
			}

			p.forEachLocked(start, end, func(_ *table, _ vm.VAddr, e *entry) {
				if e.present() && e.prot != prot {
					e.prot = prot
					changed = true
				}
			})
		})

	if changed {
		p.invalidate(start, end, ctx)
	}

	return err
}

// checkProtectLocked validates every mapping before any is changed.
func (p *Pmap) checkProtectLocked(
	start, end vm.VAddr,
	prot vm.Prot,
	options vm.Options,
) (err error) {
	p.forEachLocked(start, end, func(_ *table, va vm.VAddr, e *entry) {
		if err != nil || !e.present() {
			return
		}

		if e.prot.Widens(prot) && !options.Has(vm.OptionProtectImmediate) {
			err = vm.Errorf(vm.KindDenied, "protect",
				"widening %s to %s at %#x", e.prot, prot, va)

			return
		}

		if e.prot.Widens(prot) {
			err = p.evaluateLocked(e.ppn, prot, options)
		}
	})

	return err
}

// HasProtPolicy returns true if the space enforces a policy the VM layer
// must honor for mappings with prot.
func (p *Pmap) HasProtPolicy(translatedAllowExecute bool, prot vm.Prot) bool {
	if !prot.Allows(vm.ProtExecute) {
		return false
	}

	if p.exotic && translatedAllowExecute {
		return false
	}

	return p.CSEnforced() && p.mgr.gate.Enabled()
}
