package pmap

import (
	"sort"

	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/platform"
)

// A nesting shows the translations of sub in [start, end) of grand. The
// window fields change only with grand.mu and sub.nestMu both held.
type nesting struct {
	grand *Pmap
	sub   *Pmap
	start vm.VAddr
	end   vm.VAddr
}

// A Window is a nesting window as seen from the grand space.
type Window struct {
	Sub   *Pmap
	Start vm.VAddr
	End   vm.VAddr
}

// UnnestFlags modify UnnestOptions.
type UnnestFlags uint32

// UnnestClean cleans the caches of the pages in the range before it
// becomes private.
const UnnestClean UnnestFlags = 1

func (p *Pmap) nestedAtLocked(va vm.VAddr) *nesting {
	for _, n := range p.nested {
		if va >= n.start && va < n.end {
			return n
		}
	}

	return nil
}

func (p *Pmap) overlapsNestedLocked(start, end vm.VAddr) bool {
	for _, n := range p.nested {
		if n.start < end && start < n.end {
			return true
		}
	}

	return false
}

// Windows returns the nesting windows of the space in address order.
func (p *Pmap) Windows() []Window {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Window, 0, len(p.nested))
	for _, n := range p.nested {
		out = append(out, Window{Sub: n.sub, Start: n.start, End: n.end})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	return out
}

// SharedRegionSizeMin returns the smallest size a nesting window can have.
func (p *Pmap) SharedRegionSizeMin() uint64 {
	return p.mgr.platform.NestGranularity
}

func (p *Pmap) checkWindow(op string, va vm.VAddr, size uint64) error {
	plat := p.mgr.platform
	end := va + vm.VAddr(size)

	if size == 0 || !plat.NestAligned(va) || !plat.NestAligned(vm.VAddr(size)) ||
		end < va || end > p.sizeBound {
		return vm.Errorf(vm.KindInvalidArgument, op,
			"window [%#x, +%#x) is not aligned to %#x",
			va, size, plat.NestGranularity)
	}

	return nil
}

// Nest shows the translations of sub in [va, va+size) of p. The window
// must be aligned to the nesting granularity, must not overlap another
// window, and p must have no entries of its own there. p holds a
// reference on sub while any window remains.
func (p *Pmap) Nest(sub *Pmap, va vm.VAddr, size uint64) error {
	m := p.mgr
	m.Require(p)
	m.Require(sub)

	taskID := m.startTask("nest",
		opDetail{ASID: p.asid, Start: va, End: va + vm.VAddr(size)})

	err := p.nest(sub, va, size)

	m.endTask(taskID, err)

	return err
}

func (p *Pmap) nest(sub *Pmap, va vm.VAddr, size uint64) error {
	if p == sub || p.kernel || sub.kernel {
		return vm.Errorf(vm.KindInvalidArgument, "nest",
			"cannot nest %s into %s", sub, p)
	}

	if err := p.checkWindow("nest", va, size); err != nil {
		return err
	}

	if err := sub.checkWindow("nest", va, size); err != nil {
		return err
	}

	p.mgr.nestOps.Lock()
	defer p.mgr.nestOps.Unlock()

	sub.mu.Lock()
	subNests := len(sub.nested) != 0
	sub.mu.Unlock()

	p.nestMu.Lock()
	isNested := len(p.nestedBy) != 0
	p.nestMu.Unlock()

	if subNests || isNested {
		return vm.Errorf(vm.KindInvalidArgument, "nest",
			"nesting is one level deep")
	}

	end := va + vm.VAddr(size)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.overlapsNestedLocked(va, end) {
		return vm.Errorf(vm.KindInvalidArgument, "nest",
			"[%#x, %#x) overlaps a nested window", va, end)
	}

	hasEntries := false
	p.forEachLocked(va, end, func(*table, vm.VAddr, *entry) { hasEntries = true })

	if hasEntries {
		return vm.Errorf(vm.KindInvalidArgument, "nest",
			"[%#x, %#x) has private mappings", va, end)
	}

	p.mgr.Reference(sub)

	n := &nesting{grand: p, sub: sub, start: va, end: end}
	p.nested = append(p.nested, n)

	sub.nestMu.Lock()
	sub.nestedBy = append(sub.nestedBy, n)
	sub.nestMu.Unlock()

	return nil
}

// Unnest removes [va, va+size) from the nesting windows of p.
func (p *Pmap) Unnest(va vm.VAddr, size uint64) error {
	return p.UnnestOptions(va, size, 0)
}

// UnnestOptions is Unnest with flags. A window may shrink or split in two.
// Unnesting where nothing is nested does nothing.
func (p *Pmap) UnnestOptions(va vm.VAddr, size uint64, flags UnnestFlags) error {
	m := p.mgr
	m.Require(p)

	taskID := m.startTask("unnest",
		opDetail{ASID: p.asid, Start: va, End: va + vm.VAddr(size)})

	err := p.checkWindow("unnest", va, size)
	if err == nil {
		p.unnest(va, va+vm.VAddr(size), flags)
	}

	m.endTask(taskID, err)

	return err
}

type detached struct {
	sub        *Pmap
	start, end vm.VAddr
	released   bool
}

func (p *Pmap) unnest(start, end vm.VAddr, flags UnnestFlags) {
	p.mu.Lock()

	var out []detached

	for _, n := range append([]*nesting(nil), p.nested...) {
		if n.end <= start || end <= n.start {
			continue
		}

		d := detached{sub: n.sub, start: max(start, n.start), end: min(end, n.end)}
		d.released = p.cutLocked(n, d.start, d.end)
		out = append(out, d)
	}

	p.mu.Unlock()

	for _, d := range out {
		p.invalidate(d.start, d.end, nil)

		if flags&UnnestClean != 0 {
			d.sub.clean(d.start, d.end)
		}

		if d.released {
			p.mgr.Destroy(d.sub)
		}
	}
}

// cutLocked removes [start, end) from window n, shrinking or splitting it.
// It returns true if the window disappeared and its reference must be
// released.
func (p *Pmap) cutLocked(n *nesting, start, end vm.VAddr) bool {
	sub := n.sub

	sub.nestMu.Lock()
	defer sub.nestMu.Unlock()

	left := n.start < start
	right := end < n.end

	switch {
	case left && right:
		tail := &nesting{grand: p, sub: sub, start: end, end: n.end}
		n.end = start
		p.nested = append(p.nested, tail)
		sub.nestedBy = append(sub.nestedBy, tail)
		sub.refcount.Add(1)

		return false
	case left:
		n.end = start
		return false
	case right:
		n.start = end
		return false
	}

	p.nested = removeNesting(p.nested, n)
	sub.nestedBy = removeNesting(sub.nestedBy, n)

	return true
}

func removeNesting(list []*nesting, n *nesting) []*nesting {
	for i, x := range list {
		if x == n {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}

// clean runs a cache clean over the pages mapped in [start, end).
func (p *Pmap) clean(start, end vm.VAddr) {
	db := p.mgr.db

	p.mu.Lock()
	ppns := p.presentPagesLocked(start, end)
	p.mu.Unlock()

	for _, ppn := range ppns {
		db.LockPage(ppn)
		db.CleanLocked(ppn)
		db.UnlockPage(ppn)
	}
}

// unnestAll removes every window and returns the spaces whose references
// must be released.
func (p *Pmap) unnestAll() []*Pmap {
	p.mu.Lock()

	windows := append([]*nesting(nil), p.nested...)

	var subs []*Pmap
	for _, n := range windows {
		if p.cutLocked(n, n.start, n.end) {
			subs = append(subs, n.sub)
		}
	}

	p.mu.Unlock()

	for _, n := range windows {
		p.invalidate(n.start, n.end, nil)
	}

	return subs
}

// Trim narrows the window through which p shows sub to
// [start, start+size). The new window must lie inside the current one.
func (p *Pmap) Trim(sub *Pmap, start vm.VAddr, size uint64) error {
	m := p.mgr
	m.Require(p)
	m.Require(sub)

	taskID := m.startTask("trim",
		opDetail{ASID: p.asid, Start: start, End: start + vm.VAddr(size)})

	err := p.trim(sub, start, size)

	m.endTask(taskID, err)

	return err
}

func (p *Pmap) trim(sub *Pmap, start vm.VAddr, size uint64) error {
	if err := p.checkWindow("trim", start, size); err != nil {
		return err
	}

	end := start + vm.VAddr(size)

	p.mu.Lock()

	var n *nesting

	for _, x := range p.nested {
		if x.sub == sub && start >= x.start && start < x.end {
			n = x
			break
		}
	}

	if n == nil {
		p.mu.Unlock()

		return vm.Errorf(vm.KindInvalidArgument, "trim",
			"%s is not nested at %#x", sub, start)
	}

	if end > n.end {
		p.mu.Unlock()

		return vm.Errorf(vm.KindInvalidArgument, "trim",
			"[%#x, %#x) would widen [%#x, %#x)", start, end, n.start, n.end)
	}

	oldStart, oldEnd := n.start, n.end

	sub.nestMu.Lock()
	n.start, n.end = start, end
	sub.nestMu.Unlock()

	p.mu.Unlock()

	if oldStart < start {
		p.invalidate(oldStart, start, nil)
	}

	if end < oldEnd {
		p.invalidate(end, oldEnd, nil)
	}

	return nil
}

// AdjustUnnestParameters widens [start, end) to nesting granularity if it
// touches a nesting window. It returns whether the range changed.
func (p *Pmap) AdjustUnnestParameters(
	start, end vm.VAddr,
) (vm.VAddr, vm.VAddr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.overlapsNestedLocked(start, end) {
		return start, end, false
	}

	gran := vm.VAddr(p.mgr.platform.NestGranularity)
	newStart := start &^ (gran - 1)
	newEnd := (end + gran - 1) &^ (gran - 1)

	return newStart, newEnd, newStart != start || newEnd != end
}

// ForkNest repeats the nesting windows of p in child, which must have
// none. It returns the bounds covering all windows. If a window cannot be
// repeated, the ones already added to child are removed again.
func (p *Pmap) ForkNest(child *Pmap) (start, end vm.VAddr, err error) {
	m := p.mgr
	m.Require(p)
	m.Require(child)

	if err := m.platform.Require(platform.NestedFork, "fork_nest"); err != nil {
		return 0, 0, err
	}

	if len(child.Windows()) != 0 {
		return 0, 0, vm.Errorf(vm.KindInvalidArgument, "fork_nest",
			"%s already nests", child)
	}

	var added []Window

	for i, w := range p.Windows() {
		if err := child.Nest(w.Sub, w.Start, uint64(w.End-w.Start)); err != nil {
			for _, a := range added {
				child.unnest(a.Start, a.End, 0)
			}

			return 0, 0, err
		}

		added = append(added, w)

		if i == 0 || w.Start < start {
			start = w.Start
		}

		end = max(end, w.End)
	}

	return start, end, nil
}
