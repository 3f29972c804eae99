// Package phys keeps per-physical-page state: the page lock, reference and
// modify bits, the list of virtual mappings of each page, page attributes,
// and page contents.
package phys

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/pmap/vm"
)

// An Owner is an address space that can appear in a page's mapping list.
type Owner interface {
	ASID() uint32
}

// A PV records that Owner maps the page at VA.
type PV struct {
	Owner Owner
	VA    vm.VAddr
}

type page struct {
	mu sync.Mutex

	// refmod is updated atomically by translation walks and under mu by
	// explicit clears.
	refmod atomic.Uint32

	pvs       []PV
	cacheAttr vm.CacheAttr
	hasError  bool
	noEncrypt bool
	badRAM    bool
	codeHash  vm.CDHash
	hasHash   bool
	contents  []byte

	dataSyncs  uint64
	attrSyncs  uint64
	cleanCount uint64
}

// DB is the database of managed physical pages.
type DB struct {
	first    vm.PPN
	pageSize uint64
	pages    []page
}

// First returns the first managed page number.
func (db *DB) First() vm.PPN {
	return db.first
}

// Last returns one past the last managed page number.
func (db *DB) Last() vm.PPN {
	return db.first + vm.PPN(len(db.pages))
}

// PageSize returns the size of each page in bytes.
func (db *DB) PageSize() uint64 {
	return db.pageSize
}

// IsManaged returns true if the page is tracked by the database.
func (db *DB) IsManaged(ppn vm.PPN) bool {
	return ppn >= db.first && ppn < db.Last()
}

// HasManagedPage returns true if any page in [first, last] is managed.
func (db *DB) HasManagedPage(first, last vm.PPN) bool {
	if first > last {
		return false
	}

	return first < db.Last() && last >= db.first
}

func (db *DB) page(ppn vm.PPN) *page {
	if !db.IsManaged(ppn) {
		return nil
	}

	return &db.pages[ppn-db.first]
}

func (db *DB) mustPage(ppn vm.PPN) *page {
	p := db.page(ppn)
	if p == nil {
		panic(fmt.Sprintf("page %#x is not managed", ppn))
	}

	return p
}

// LockPage acquires the lock of a managed page. Unmanaged pages have no
// lock and the call does nothing.
func (db *DB) LockPage(ppn vm.PPN) {
	if p := db.page(ppn); p != nil {
		p.mu.Lock()
	}
}

// UnlockPage releases the lock acquired by LockPage.
func (db *DB) UnlockPage(ppn vm.PPN) {
	if p := db.page(ppn); p != nil {
		p.mu.Unlock()
	}
}

// LockPages locks a set of pages in ascending order and returns the sorted,
// de-duplicated, managed subset, which must be passed to UnlockPages.
func (db *DB) LockPages(ppns []vm.PPN) []vm.PPN {
	locked := make([]vm.PPN, 0, len(ppns))
	for _, ppn := range ppns {
		if db.IsManaged(ppn) {
			locked = append(locked, ppn)
		}
	}

	sort.Slice(locked, func(i, j int) bool { return locked[i] < locked[j] })
	locked = dedup(locked)

	for _, ppn := range locked {
		db.pages[ppn-db.first].mu.Lock()
	}

	return locked
}

// UnlockPages releases locks taken by LockPages.
func (db *DB) UnlockPages(locked []vm.PPN) {
	for i := len(locked) - 1; i >= 0; i-- {
		db.pages[locked[i]-db.first].mu.Unlock()
	}
}

func dedup(s []vm.PPN) []vm.PPN {
	if len(s) < 2 {
		return s
	}

	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}

	return out
}

// AddPVLocked records a mapping of the page. The caller holds the page lock.
func (db *DB) AddPVLocked(ppn vm.PPN, pv PV) {
	p := db.page(ppn)
	if p == nil {
		return
	}

	for _, existing := range p.pvs {
		if existing == pv {
			panic(fmt.Sprintf("page %#x: duplicate mapping at %#x", ppn, pv.VA))
		}
	}

	p.pvs = append(p.pvs, pv)
}

// RemovePVLocked forgets a mapping of the page. The caller holds the page
// lock.
func (db *DB) RemovePVLocked(ppn vm.PPN, pv PV) {
	p := db.page(ppn)
	if p == nil {
		return
	}

	for i, existing := range p.pvs {
		if existing == pv {
			p.pvs = append(p.pvs[:i], p.pvs[i+1:]...)
			return
		}
	}

	panic(fmt.Sprintf("page %#x: no mapping at %#x", ppn, pv.VA))
}

// PVsLocked returns a copy of the page's mapping list. The caller holds the
// page lock.
func (db *DB) PVsLocked(ppn vm.PPN) []PV {
	p := db.page(ppn)
	if p == nil {
		return nil
	}

	return append([]PV(nil), p.pvs...)
}

// MappingCount returns how many mappings the page has.
func (db *DB) MappingCount(ppn vm.PPN) int {
	p := db.page(ppn)
	if p == nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.pvs)
}

// VerifyFree returns true if the page has no mappings.
func (db *DB) VerifyFree(ppn vm.PPN) bool {
	return db.MappingCount(ppn) == 0
}

// AssertFree panics if the page is still mapped.
func (db *DB) AssertFree(ppn vm.PPN) {
	if n := db.MappingCount(ppn); n != 0 {
		panic(fmt.Sprintf("page %#x is not free: %d mappings", ppn, n))
	}
}
