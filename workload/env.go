// Package workload drives a pmap manager through scripted scenarios that
// exercise its public operations end to end.
package workload

import (
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/phys"
	"github.com/sarchlab/pmap/vm/platform"
	"github.com/sarchlab/pmap/vm/pmap"
)

// Progress receives the steps of a workload. Scripted scenarios finish
// their steps directly; Stress marks each iteration in progress first.
type Progress interface {
	IncrementInProgress(amount uint64)
	IncrementFinished(amount uint64)
	MoveInProgressToFinished(amount uint64)
}

// An Env is the machine a workload runs on. Data pages come from Pages,
// which the manager also uses for its translation tables.
type Env struct {
	Manager *pmap.Manager
	Pages   phys.Allocator

	// Progress, if set, is told about every step.
	Progress Progress
}

// PageSize returns the translation page size of the platform.
func (e *Env) PageSize() vm.VAddr {
	return vm.VAddr(e.Manager.Platform().PageSize)
}

func (e *Env) step() {
	if e.Progress != nil {
		e.Progress.IncrementFinished(1)
	}
}

func (e *Env) begin() {
	if e.Progress != nil {
		e.Progress.IncrementInProgress(1)
	}
}

func (e *Env) finish() {
	if e.Progress != nil {
		e.Progress.MoveInProgressToFinished(1)
	}
}

// release returns a data page to the allocator once nothing maps it.
func (e *Env) release(ppn vm.PPN) bool {
	if !e.Manager.VerifyFree(ppn) {
		return false
	}

	e.Pages.Free(ppn)

	return true
}

// Builder creates environments.
type Builder struct {
	platform platform.Description
	numPages int
	numCPUs  int
}

// MakeBuilder returns a builder for an arm64 machine with two processors.
func MakeBuilder() Builder {
	return Builder{
		platform: platform.ARM64(),
		numPages: 4096,
		numCPUs:  2,
	}
}

// WithPlatform sets the platform.
func (b Builder) WithPlatform(p platform.Description) Builder {
	b.platform = p
	return b
}

// WithNumPages sets the number of managed physical pages.
func (b Builder) WithNumPages(n int) Builder {
	b.numPages = n
	return b
}

// WithNumCPUs sets the number of processors.
func (b Builder) WithNumCPUs(n int) Builder {
	b.numCPUs = n
	return b
}

// Build creates the environment with a manager called name.
func (b Builder) Build(name string) *Env {
	db := phys.MakeBuilder().
		WithPageSize(b.platform.PageSize).
		WithNumPages(b.numPages).
		Build()
	pages := phys.NewAllocator(db)

	mgr := pmap.MakeBuilder().
		WithPlatform(b.platform).
		WithPhysDB(db).
		WithAllocator(pages).
		WithNumCPUs(b.numCPUs).
		Build(name)

	return &Env{Manager: mgr, Pages: pages}
}
