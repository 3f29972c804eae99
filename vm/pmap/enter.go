package pmap

import (
	"fmt"

	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/trust"
)

// Enter maps the page at va. Entering the same mapping twice leaves one
// entry; entering over another page replaces it.
func (p *Pmap) Enter(
	va vm.VAddr,
	ppn vm.PPN,
	prot, faultType vm.Prot,
	attr vm.CacheAttr,
	wired bool,
) error {
	return p.EnterOptions(va, ppn, prot, faultType, attr, wired, 0)
}

// EnterOptions is Enter with option bits. NoWait fails with a resource
// shortage instead of blocking for a table page. NoEnter only grows the
// tables.
func (p *Pmap) EnterOptions(
	va vm.VAddr,
	ppn vm.PPN,
	prot, faultType vm.Prot,
	attr vm.CacheAttr,
	wired bool,
	options vm.Options,
) error {
	p.mgr.Require(p)

	taskID := p.mgr.startTask("enter",
		opDetail{ASID: p.asid, Start: va, End: va + p.pageSize()})

	err := p.enter(va, ppn, prot, faultType, attr, wired, options)

	p.mgr.endTask(taskID, err)

	return err
}

// EnterOptionsAddr is EnterOptions taking a physical address. The page
// containing pa is mapped.
func (p *Pmap) EnterOptionsAddr(
	va vm.VAddr,
	pa uint64,
	prot, faultType vm.Prot,
	attr vm.CacheAttr,
	wired bool,
	options vm.Options,
) error {
	ppn := vm.PPN(pa >> p.mgr.platform.Log2PageSize())
	return p.EnterOptions(p.mgr.platform.TruncPage(va), ppn, prot, faultType,
		attr, wired, options)
}

// EnterPage maps a page whose accounting options follow from its class.
func (p *Pmap) EnterPage(
	va vm.VAddr,
	class vm.PageClass,
	prot, faultType vm.Prot,
	wired bool,
	options vm.Options,
) error {
	options = vm.EnterOptions(class, options)

	return p.EnterOptions(va, class.PPN, prot, faultType, vm.CacheDefault,
		wired, options)
}

// PreExpand grows the tables covering [start, end) without mapping
// anything.
func (p *Pmap) PreExpand(start, end vm.VAddr, options vm.Options) error {
	gran := vm.VAddr(p.mgr.platform.NestGranularity)

	for base := p.windowBase(start); base < end; base += gran {
		if err := p.EnterOptions(base, 0, vm.ProtNone, vm.ProtNone,
			vm.CacheDefault, false, options|vm.OptionNoEnter); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pmap) checkEnter(
	va vm.VAddr,
	prot, faultType vm.Prot,
	options vm.Options,
) error {
	if !p.mgr.platform.PageAligned(va) || va >= p.sizeBound {
		return vm.Errorf(vm.KindInvalidArgument, "enter",
			"bad address %#x", va)
	}

	if !prot.Allows(faultType) {
		return vm.Errorf(vm.KindInvalidArgument, "enter",
			"fault type %s exceeds protection %s", faultType, prot)
	}

	if options.Has(vm.OptionMapTPRO) && !p.TPRO() {
		return vm.Errorf(vm.KindInvalidArgument, "enter",
			"space has no TPRO region")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nestedAtLocked(va) != nil {
		return vm.Errorf(vm.KindInvalidArgument, "enter",
			"%#x is inside a nested window", va)
	}

	return nil
}

func (p *Pmap) enter(
	va vm.VAddr,
	ppn vm.PPN,
	prot, faultType vm.Prot,
	attr vm.CacheAttr,
	wired bool,
	options vm.Options,
) error {
	if err := p.checkEnter(va, prot, faultType, options); err != nil {
		return err
	}

	for {
		if err := p.expand(va, options); err != nil {
			return err
		}

		if options.Has(vm.OptionNoEnter) {
			return nil
		}

		done, err := p.enterLeaf(va, ppn, prot, faultType, attr, wired, options)
		if done {
			return err
		}
	}
}

// enterLeaf installs the mapping. It returns false if the table went away
// after expand and the caller must grow it again.
func (p *Pmap) enterLeaf(
	va vm.VAddr,
	ppn vm.PPN,
	prot, faultType vm.Prot,
	attr vm.CacheAttr,
	wired bool,
	options vm.Options,
) (done bool, err error) {
	db := p.mgr.db

	pick := func() []vm.PPN {
		if old := p.lookupLocked(va); old != nil && old.present() {
			return []vm.PPN{old.ppn, ppn}
		}

		return []vm.PPN{ppn}
	}

	p.lockPagesThen(pick, func() {
		t, ok := p.tables[p.windowBase(va)]
		if !ok {
			return
		}

		done = true

		if p.nestedAtLocked(va) != nil {
			err = vm.Errorf(vm.KindInvalidArgument, "enter",
				"%#x is inside a nested window", va)
			return
		}

		if db.HasErrorLocked(ppn) {
			panic(fmt.Sprintf("pmap: entering page %#x that has an error", ppn))
		}

		if err = p.evaluateLocked(ppn, prot, options); err != nil {
			return
		}

		next := &entry{
			ppn:       ppn,
			prot:      prot,
			wired:     wired,
			cacheAttr: attr,
			internal:  options.Has(vm.OptionInternal),
			reusable:  options.Has(vm.OptionReusable),
			altAcct:   options.Has(vm.OptionAltAcct),
			tpro:      options.Has(vm.OptionMapTPRO),
		}

		if attr == vm.CacheDefault {
			next.cacheAttr = db.CacheAttributesLocked(ppn)
		}

		err = p.replaceLocked(t, va, next)
		if err != nil {
			return
		}

		if faultType != vm.ProtNone {
			db.MarkReferenced(ppn)
		}

		if faultType.Allows(vm.ProtWrite) {
			db.MarkModified(ppn)
		}
	})

	return done, err
}

// replaceLocked stores next at va, replacing what was there. Nothing
// changes if the ledger refuses the new entry.
func (p *Pmap) replaceLocked(t *table, va vm.VAddr, next *entry) error {
	old := t.entries[va]

	if old != nil && *old == *next {
		return nil
	}

	if old == nil {
		if err := p.charge(next); err != nil {
			return err
		}
	} else {
		if err := p.recharge(old, next); err != nil {
			return err
		}

		p.unlinkLocked(t, va, old)
	}

	p.installLocked(t, va, next)

	if old != nil && old.present() {
		p.invalidate(va, va+p.pageSize(), nil)
	}

	return nil
}

// evaluateLocked asks the trust gate about an executable mapping of ppn.
// The caller holds the page lock.
func (p *Pmap) evaluateLocked(
	ppn vm.PPN,
	prot vm.Prot,
	options vm.Options,
) error {
	if !prot.Allows(vm.ProtExecute) || !p.CSEnforced() {
		return nil
	}

	if p.exotic && options.Has(vm.OptionTranslatedAllowExecute) {
		return nil
	}

	hash, ok := p.mgr.db.CodeHashLocked(ppn)

	return p.mgr.gate.Evaluate(trust.Request{
		Space:    p,
		Hash:     hash,
		HasHash:  ok,
		Prot:     prot,
		JIT:      p.JITEntitled(),
		Enforced: true,
	})
}
