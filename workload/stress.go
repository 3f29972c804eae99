package workload

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/pmap"
)

// Stress runs goroutines concurrently, each in its own address space, for
// the given number of iterations. Every space maps one shared read-only
// page next to private pages while another goroutine keeps clearing the
// shared page's ref/mod bits and write access. Goroutines that own a
// processor also access their pages through it and check that a protect
// is visible to the next access.
func Stress(env *Env, goroutines, iterations int) Result {
	r := newRecorder("stress")

	shared, ok := env.allocPage(r)
	if !ok {
		return r.result()
	}

	var (
		wg   sync.WaitGroup
		done atomic.Bool
	)

	wg.Add(1)

	go func() {
		defer wg.Done()
		env.disturb(shared, &done)
	}()

	var workers sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		workers.Add(1)

		go func(i int) {
			defer workers.Done()
			env.stressOne(r, i, shared, iterations)
		}(i)
	}

	workers.Wait()
	done.Store(true)
	wg.Wait()

	r.expect(env.release(shared), "shared ppn %#x still mapped", shared)
	r.logf("%d goroutines x %d iterations", goroutines, iterations)

	return r.result()
}

func (e *Env) disturb(shared vm.PPN, done *atomic.Bool) {
	for !done.Load() {
		e.Manager.ClearRefMod(shared, vm.RefModAll)
		e.Manager.PageProtectOptions(shared, vm.ProtRead,
			vm.OptionClearWrite, nil)
		_ = e.Manager.GetRefMod(shared)
	}
}

func (e *Env) stressOne(r *recorder, id int, shared vm.PPN, iterations int) {
	p, ok := e.create(r)
	if !ok {
		return
	}
	defer e.Manager.Destroy(p)

	p.SetProcess(1000+id, "stress")

	cpuID := -1
	if id < len(e.Manager.Processors()) {
		cpuID = id
		e.Manager.Switch(cpuID, p)
		defer e.Manager.Switch(cpuID, e.Manager.Kernel())
	}

	ps := e.PageSize()
	sharedVA := ps
	privateVA := 2 * ps

	if !r.must(p.Enter(sharedVA, shared, vm.ProtRead, vm.ProtNone,
		vm.CacheDefault, false), "enter shared") {
		return
	}
	defer func() { _ = p.Remove(sharedVA, sharedVA+ps) }()

	for it := 0; it < iterations; it++ {
		e.begin()
		ok := e.stressIteration(r, p, cpuID, privateVA)
		e.finish()

		if !ok {
			return
		}
	}
}

func (e *Env) stressIteration(
	r *recorder,
	p *pmap.Pmap,
	cpuID int,
	va vm.VAddr,
) bool {
	ppn, ok := e.allocPage(r)
	if !ok {
		return false
	}

	end := va + e.PageSize()

	if !r.must(p.Enter(va, ppn, vm.ProtDefault, vm.ProtNone,
		vm.CacheDefault, false), "enter private") {
		e.Pages.Free(ppn)
		return false
	}

	if cpuID >= 0 && !e.checkAccess(r, p, cpuID, va, ppn) {
		return false
	}

	if !r.must(p.Remove(va, end), "remove private") {
		return false
	}

	return r.expect(e.release(ppn), "ppn %#x still mapped after remove", ppn)
}

// checkAccess writes through the processor, takes write access away, and
// expects the next write to be denied.
func (e *Env) checkAccess(
	r *recorder,
	p *pmap.Pmap,
	cpuID int,
	va vm.VAddr,
	ppn vm.PPN,
) bool {
	got, err := e.Manager.Access(cpuID, va, vm.ProtWrite)
	if !r.must(err, "write access") {
		return false
	}

	ok := r.expect(got == ppn, "access hit ppn %#x, want %#x", got, ppn)
	ok = r.expect(e.Manager.IsModified(ppn),
		"ppn %#x not modified after a write", ppn) && ok

	if !r.must(p.Protect(va, va+e.PageSize(), vm.ProtRead), "protect") {
		return false
	}

	_, err = e.Manager.Access(cpuID, va, vm.ProtWrite)
	ok = r.expect(errors.Is(err, vm.ErrDenied),
		"write after protect returned %v, want denied", err) && ok

	_, err = e.Manager.Access(cpuID, va-e.PageSize(), vm.ProtRead)
	ok = r.must(err, "read shared") && ok

	return ok
}
