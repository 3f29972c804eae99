package workload

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/pmap"
)

// A Scenario runs against an environment and reports what it saw.
type Scenario func(env *Env) Result

// SharedRegionBase is where NestedSharedRegion places its window.
const SharedRegionBase = vm.VAddr(0x7000_0000)

const sharedRegionSize = 0x10_0000

var scenarios = map[string]Scenario{
	"map-unmap":              MapUnmap,
	"nested-shared-region":   NestedSharedRegion,
	"protect-upgrade-denied": ProtectUpgradeDenied,
	"stress": func(env *Env) Result {
		return Stress(env, 8, 64)
	},
}

// Names lists the scenarios known to ByName.
func Names() []string {
	names := make([]string, 0, len(scenarios))
	for n := range scenarios {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// ByName returns the scenario with the given name.
func ByName(name string) (Scenario, error) {
	s, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}

	return s, nil
}

func (e *Env) create(r *recorder) (*pmap.Pmap, bool) {
	p, err := e.Manager.Create(nil, 0, vm.DefaultCreateFlag)
	if !r.must(err, "create") {
		return nil, false
	}

	return p, true
}

func (e *Env) allocPage(r *recorder) (vm.PPN, bool) {
	ppn, ok := e.Pages.Alloc()

	return ppn, r.expect(ok, "no free physical page")
}

// MapUnmap enters one read/write page, checks that it is present, removes
// it, and checks that it is gone.
func MapUnmap(env *Env) Result {
	r := newRecorder("map-unmap")

	p, ok := env.create(r)
	if !ok {
		return r.result()
	}
	defer env.Manager.Destroy(p)

	ppn, ok := env.allocPage(r)
	if !ok {
		return r.result()
	}

	va := env.PageSize()
	end := va + env.PageSize()

	if !r.must(p.Enter(va, ppn, vm.ProtDefault, vm.ProtNone,
		vm.CacheDefault, false), "enter") {
		return r.result()
	}
	env.step()

	info, err := p.QueryPageInfo(va)
	if r.must(err, "query after enter") {
		r.expect(info.Has(vm.PageInfoPresent),
			"%#x not present after enter: %#x", va, info)
	}
	r.logf("entered %#x -> ppn %#x, info %#x", va, ppn, info)

	if !r.must(p.Remove(va, end), "remove") {
		return r.result()
	}
	env.step()

	info, err = p.QueryPageInfo(va)
	if r.must(err, "query after remove") {
		r.expect(!info.Has(vm.PageInfoPresent),
			"%#x still present after remove", va)
	}

	r.expect(env.release(ppn), "ppn %#x still mapped after remove", ppn)

	return r.result()
}

// NestedSharedRegion nests one space into another, enters a page into the
// nested space inside the window, and checks that the page is visible
// through the outer space only until the window is removed.
func NestedSharedRegion(env *Env) Result {
	r := newRecorder("nested-shared-region")

	outer, ok := env.create(r)
	if !ok {
		return r.result()
	}
	defer env.Manager.Destroy(outer)

	shared, ok := env.create(r)
	if !ok {
		return r.result()
	}
	defer env.Manager.Destroy(shared)

	granule := outer.SharedRegionSizeMin()
	size := (uint64(sharedRegionSize) + granule - 1) / granule * granule
	base := SharedRegionBase
	va := base + env.PageSize()

	if !r.must(outer.Nest(shared, base, size), "nest") {
		return r.result()
	}
	r.logf("nested window [%#x, %#x)", base, base+vm.VAddr(size))
	env.step()

	ppn, ok := env.allocPage(r)
	if !ok {
		return r.result()
	}

	if !r.must(shared.Enter(va, ppn, vm.ProtRead, vm.ProtNone,
		vm.CacheDefault, false), "enter into nested space") {
		return r.result()
	}
	env.step()

	m, found := outer.Lookup(va)
	if r.expect(found, "%#x not visible through the outer space", va) {
		r.expect(m.PPN == ppn, "outer space sees ppn %#x, want %#x", m.PPN, ppn)
		r.expect(m.Owner == shared, "mapping owned by %s, want %s",
			m.Owner, shared)
	}

	if !r.must(outer.Unnest(base, size), "unnest") {
		return r.result()
	}
	env.step()

	_, found = outer.Lookup(va)
	r.expect(!found, "%#x still visible through the outer space after unnest", va)

	m, found = shared.Lookup(va)
	r.expect(found && m.PPN == ppn,
		"nested space lost its own mapping at %#x", va)

	if r.must(shared.Remove(va, va+env.PageSize()), "remove") {
		r.expect(env.release(ppn), "ppn %#x still mapped", ppn)
	}

	return r.result()
}

// ProtectUpgradeDenied tries to widen a read-only mapping without the
// immediate option and checks that it is denied and left unchanged.
func ProtectUpgradeDenied(env *Env) Result {
	r := newRecorder("protect-upgrade-denied")

	p, ok := env.create(r)
	if !ok {
		return r.result()
	}
	defer env.Manager.Destroy(p)

	ppn, ok := env.allocPage(r)
	if !ok {
		return r.result()
	}

	va := env.PageSize()
	end := va + env.PageSize()

	if !r.must(p.Enter(va, ppn, vm.ProtRead, vm.ProtNone,
		vm.CacheDefault, false), "enter") {
		return r.result()
	}
	env.step()

	err := p.Protect(va, end, vm.ProtDefault)
	r.expect(errors.Is(err, vm.ErrDenied),
		"widening protect returned %v, want denied", err)
	r.logf("widening protect: %v", err)
	env.step()

	m, found := p.Lookup(va)
	if r.expect(found, "%#x lost after denied protect", va) {
		r.expect(m.Prot == vm.ProtRead, "protection changed to %s", m.Prot)
	}

	if r.must(p.Remove(va, end), "remove") {
		r.expect(env.release(ppn), "ppn %#x still mapped", ppn)
	}

	return r.result()
}
