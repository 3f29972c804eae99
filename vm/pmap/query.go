package pmap

import (
	"github.com/sarchlab/pmap/vm"
)

// A Mapping describes one translation.
type Mapping struct {
	VA        vm.VAddr
	PPN       vm.PPN
	Prot      vm.Prot
	Wired     bool
	CacheAttr vm.CacheAttr

	// Owner is the space holding the entry. It differs from the queried
	// space when the address is inside a nesting window.
	Owner *Pmap
}

// translate looks va up, following nesting windows.
func (p *Pmap) translate(va vm.VAddr) (entry, *Pmap, bool) {
	p.mu.Lock()

	if e := p.lookupLocked(va); e != nil {
		found := *e
		p.mu.Unlock()

		return found, p, true
	}

	var sub *Pmap
	if n := p.nestedAtLocked(va); n != nil {
		sub = n.sub
	}

	p.mu.Unlock()

	if sub == nil {
		return entry{}, nil, false
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if e := sub.lookupLocked(va); e != nil {
		return *e, sub, true
	}

	return entry{}, nil, false
}

// Lookup returns the mapping at va, following nesting windows.
func (p *Pmap) Lookup(va vm.VAddr) (Mapping, bool) {
	va = p.mgr.platform.TruncPage(va)

	e, owner, ok := p.translate(va)
	if !ok || !e.present() {
		return Mapping{}, false
	}

	return Mapping{
		VA:        va,
		PPN:       e.ppn,
		Prot:      e.prot,
		Wired:     e.wired,
		CacheAttr: e.cacheAttr,
		Owner:     owner,
	}, true
}

// Extract returns the page mapped at va.
func (p *Pmap) Extract(va vm.VAddr) (vm.PPN, bool) {
	m, ok := p.Lookup(va)
	return m.PPN, ok
}

// QueryResident returns the bytes resident and the bytes compressed among
// the space's own entries in [start, end).
func (p *Pmap) QueryResident(start, end vm.VAddr) (resident, compressed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := uint64(p.pageSize())

	p.forEachLocked(start, end, func(_ *table, _ vm.VAddr, e *entry) {
		if e.present() {
			resident += size
		} else {
			compressed += size
		}
	})

	return resident, compressed
}

// QueryPageInfo returns the disposition of the page at va, following
// nesting windows.
func (p *Pmap) QueryPageInfo(va vm.VAddr) (vm.PageInfo, error) {
	if va >= p.sizeBound {
		return 0, vm.Errorf(vm.KindInvalidArgument, "query_page_info",
			"%#x is outside the space", va)
	}

	e, _, ok := p.translate(p.mgr.platform.TruncPage(va))
	if !ok {
		return 0, nil
	}

	var info vm.PageInfo

	if e.compressed {
		info |= vm.PageInfoCompressed
		if e.altAcct {
			info |= vm.PageInfoCompressedAltAcct
		}

		return info, nil
	}

	info |= vm.PageInfoPresent

	if e.altAcct {
		info |= vm.PageInfoAltAcct
	}

	if e.internal {
		info |= vm.PageInfoInternal
	}

	if e.reusable {
		info |= vm.PageInfoReusable
	}

	return info, nil
}
