package phys

import (
	"fmt"
	"sync"

	"github.com/sarchlab/pmap/vm"
)

// An Allocator hands out free managed pages.
type Allocator interface {
	// Alloc returns a free page, or false if none is free.
	Alloc() (vm.PPN, bool)

	// AllocWait returns a free page, blocking until one is freed.
	AllocWait() vm.PPN

	// Free returns a page to the free list.
	Free(ppn vm.PPN)

	// FreeCount returns the number of free pages.
	FreeCount() int
}

// NewAllocator creates an allocator that initially owns every page of db.
func NewAllocator(db *DB) *FreeList {
	fl := &FreeList{
		db:    db,
		inUse: make([]bool, len(db.pages)),
	}
	fl.cond = sync.NewCond(&fl.mu)

	for i := len(db.pages) - 1; i >= 0; i-- {
		fl.free = append(fl.free, db.first+vm.PPN(i))
	}

	return fl
}

// FreeList is a LIFO free list of pages.
type FreeList struct {
	mu    sync.Mutex
	cond  *sync.Cond
	db    *DB
	free  []vm.PPN
	inUse []bool

	// stolen counts pages taken by NextPage; they are never freed.
	stolen int
}

// Alloc returns a free page, or false if none is free.
func (fl *FreeList) Alloc() (vm.PPN, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	return fl.allocLocked()
}

// AllocWait returns a free page, blocking until one is freed.
func (fl *FreeList) AllocWait() vm.PPN {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	for {
		if ppn, ok := fl.allocLocked(); ok {
			return ppn
		}

		fl.cond.Wait()
	}
}

func (fl *FreeList) allocLocked() (vm.PPN, bool) {
	if len(fl.free) == 0 {
		return 0, false
	}

	ppn := fl.free[len(fl.free)-1]
	fl.free = fl.free[:len(fl.free)-1]
	fl.inUse[ppn-fl.db.first] = true

	return ppn, true
}

// Free returns a page to the free list. Freeing a page twice panics.
func (fl *FreeList) Free(ppn vm.PPN) {
	if !fl.db.IsManaged(ppn) {
		panic(fmt.Sprintf("freeing unmanaged page %#x", ppn))
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	if !fl.inUse[ppn-fl.db.first] {
		panic(fmt.Sprintf("page %#x freed twice", ppn))
	}

	fl.inUse[ppn-fl.db.first] = false
	fl.free = append(fl.free, ppn)
	fl.cond.Signal()
}

// FreeCount returns the number of free pages.
func (fl *FreeList) FreeCount() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	return len(fl.free)
}

// FreeSpan returns the lowest and highest free page numbers.
func (fl *FreeList) FreeSpan() (lo, hi vm.PPN, ok bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if len(fl.free) == 0 {
		return 0, 0, false
	}

	lo, hi = fl.free[0], fl.free[0]
	for _, ppn := range fl.free {
		lo = min(lo, ppn)
		hi = max(hi, ppn)
	}

	return lo, hi, true
}

// NextPage permanently takes a page for early boot use.
func (fl *FreeList) NextPage() (vm.PPN, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	ppn, ok := fl.allocLocked()
	if ok {
		fl.stolen++
	}

	return ppn, ok
}

// StealMemory permanently takes enough pages to cover size bytes and
// returns them.
func (fl *FreeList) StealMemory(size uint64) ([]vm.PPN, error) {
	n := int((size + fl.db.pageSize - 1) / fl.db.pageSize)

	fl.mu.Lock()
	defer fl.mu.Unlock()

	if n > len(fl.free) {
		return nil, vm.Errorf(vm.KindResourceShortage, "steal_memory",
			"%d pages wanted, %d free", n, len(fl.free))
	}

	pages := make([]vm.PPN, 0, n)
	for i := 0; i < n; i++ {
		ppn, _ := fl.allocLocked()
		pages = append(pages, ppn)
	}

	fl.stolen += n

	return pages, nil
}

// Stolen returns how many pages were permanently taken.
func (fl *FreeList) Stolen() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	return fl.stolen
}
