package phys

import (
	"fmt"

	"github.com/sarchlab/pmap/vm"
)

// CacheAttributes returns the cache attribute of the page.
func (db *DB) CacheAttributes(ppn vm.PPN) vm.CacheAttr {
	p := db.page(ppn)
	if p == nil {
		return vm.CacheInhibited
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cacheAttr
}

// CacheAttributesLocked is CacheAttributes for callers that hold the page
// lock.
func (db *DB) CacheAttributesLocked(ppn vm.PPN) vm.CacheAttr {
	p := db.page(ppn)
	if p == nil {
		return vm.CacheInhibited
	}

	return p.cacheAttr
}

// SetCacheAttributesLocked records the cache attribute. The caller holds
// the page lock.
func (db *DB) SetCacheAttributesLocked(ppn vm.PPN, attr vm.CacheAttr) {
	db.mustPage(ppn).cacheAttr = attr
}

// SetError flags the page as having failed to produce its contents.
func (db *DB) SetError(ppn vm.PPN, hasError bool) {
	p := db.mustPage(ppn)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.hasError = hasError
}

// HasErrorLocked returns the error flag. The caller holds the page lock.
func (db *DB) HasErrorLocked(ppn vm.PPN) bool {
	p := db.page(ppn)

	return p != nil && p.hasError
}

// IsNoEncrypt returns true if the page is excluded from hibernation
// encryption.
func (db *DB) IsNoEncrypt(ppn vm.PPN) bool {
	p := db.page(ppn)
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.noEncrypt
}

// SetNoEncrypt excludes the page from hibernation encryption.
func (db *DB) SetNoEncrypt(ppn vm.PPN) {
	db.setNoEncrypt(ppn, true)
}

// ClearNoEncrypt undoes SetNoEncrypt.
func (db *DB) ClearNoEncrypt(ppn vm.PPN) {
	db.setNoEncrypt(ppn, false)
}

func (db *DB) setNoEncrypt(ppn vm.PPN, v bool) {
	p := db.page(ppn)
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.noEncrypt = v
}

// MarkBadRAM records that the page failed a memory test.
func (db *DB) MarkBadRAM(ppn vm.PPN) {
	p := db.mustPage(ppn)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.badRAM = true
}

// IsBadRAM returns true if the page failed a memory test.
func (db *DB) IsBadRAM(ppn vm.PPN) bool {
	p := db.page(ppn)
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.badRAM
}

// SetCodeHash associates the page with the code directory hash of the
// signed code it holds.
func (db *DB) SetCodeHash(ppn vm.PPN, h vm.CDHash) {
	p := db.mustPage(ppn)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.codeHash = h
	p.hasHash = true
}

// ClearCodeHash removes the association set by SetCodeHash.
func (db *DB) ClearCodeHash(ppn vm.PPN) {
	p := db.mustPage(ppn)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.codeHash = vm.CDHash{}
	p.hasHash = false
}

// CodeHashLocked returns the page's code hash. The caller holds the page
// lock.
func (db *DB) CodeHashLocked(ppn vm.PPN) (vm.CDHash, bool) {
	p := db.page(ppn)
	if p == nil {
		return vm.CDHash{}, false
	}

	return p.codeHash, p.hasHash
}

// SyncPageData cleans the data cache lines of the page.
func (db *DB) SyncPageData(ppn vm.PPN) {
	p := db.page(ppn)
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.dataSyncs++
}

// SyncPageDataLocked is SyncPageData for callers holding the page lock.
func (db *DB) SyncPageDataLocked(ppn vm.PPN) {
	if p := db.page(ppn); p != nil {
		p.dataSyncs++
	}
}

// SyncPageAttributes makes a cache attribute change visible to the caches.
func (db *DB) SyncPageAttributes(ppn vm.PPN) {
	p := db.page(ppn)
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.attrSyncs++
}

// CleanLocked records a cache clean of the page, as requested when a
// nested range becomes private. The caller holds the page lock.
func (db *DB) CleanLocked(ppn vm.PPN) {
	if p := db.page(ppn); p != nil {
		p.cleanCount++
	}
}

// SyncStats returns how many data syncs, attribute syncs and cleans the
// page received.
func (db *DB) SyncStats(ppn vm.PPN) (data, attrs, cleans uint64) {
	p := db.page(ppn)
	if p == nil {
		return 0, 0, 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.dataSyncs, p.attrSyncs, p.cleanCount
}

func (db *DB) String() string {
	return fmt.Sprintf("phys.DB[%#x, %#x) %dB pages", db.first, db.Last(), db.pageSize)
}
