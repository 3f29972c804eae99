package phys

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/pmap/vm"
)

// contentsLocked returns the page's bytes, allocating them on first touch.
func (db *DB) contentsLocked(p *page) []byte {
	if p.contents == nil {
		p.contents = make([]byte, db.pageSize)
	}

	return p.contents
}

func (db *DB) mustFit(offset, length uint64) {
	if offset > db.pageSize || length > db.pageSize-offset {
		panic(fmt.Sprintf("range [%#x, +%#x) exceeds page size %#x",
			offset, length, db.pageSize))
	}
}

// ZeroPage fills the page with zeros.
func (db *DB) ZeroPage(ppn vm.PPN) {
	db.ZeroPartPage(ppn, 0, db.pageSize)
}

// ZeroPartPage zeroes length bytes starting at offset.
func (db *DB) ZeroPartPage(ppn vm.PPN, offset, length uint64) {
	db.mustFit(offset, length)
	p := db.mustPage(ppn)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.contents == nil {
		return
	}

	clear(p.contents[offset : offset+length])
}

// FillPage writes the 32-bit pattern across the whole page.
func (db *DB) FillPage(ppn vm.PPN, pattern uint32) {
	p := db.mustPage(ppn)

	p.mu.Lock()
	defer p.mu.Unlock()

	buf := db.contentsLocked(p)
	for i := 0; i+4 <= len(buf); i += 4 {
		binary.LittleEndian.PutUint32(buf[i:], pattern)
	}
}

// CopyPage copies a whole page.
func (db *DB) CopyPage(src, dst vm.PPN) {
	db.CopyPartPage(src, 0, dst, 0, db.pageSize)
}

// CopyPartPage copies length bytes between two pages.
func (db *DB) CopyPartPage(
	src vm.PPN, srcOffset uint64,
	dst vm.PPN, dstOffset uint64,
	length uint64,
) {
	db.mustFit(srcOffset, length)
	db.mustFit(dstOffset, length)

	if src == dst {
		p := db.mustPage(src)
		p.mu.Lock()
		defer p.mu.Unlock()

		buf := db.contentsLocked(p)
		copy(buf[dstOffset:dstOffset+length], buf[srcOffset:srcOffset+length])

		return
	}

	sp, dp := db.mustPage(src), db.mustPage(dst)

	locked := db.LockPages([]vm.PPN{src, dst})
	defer db.UnlockPages(locked)

	from := db.contentsLocked(sp)
	to := db.contentsLocked(dp)
	copy(to[dstOffset:dstOffset+length], from[srcOffset:srcOffset+length])
}

// CopyPartLPage copies from a physical page into a byte slice standing in
// for a virtual destination.
func (db *DB) CopyPartLPage(src vm.PPN, srcOffset uint64, dst []byte) {
	db.mustFit(srcOffset, uint64(len(dst)))
	p := db.mustPage(src)

	p.mu.Lock()
	defer p.mu.Unlock()

	copy(dst, db.contentsLocked(p)[srcOffset:])
}

// CopyPartRPage copies from a byte slice standing in for a virtual source
// into a physical page.
func (db *DB) CopyPartRPage(src []byte, dst vm.PPN, dstOffset uint64) {
	db.mustFit(dstOffset, uint64(len(src)))
	p := db.mustPage(dst)

	p.mu.Lock()
	defer p.mu.Unlock()

	copy(db.contentsLocked(p)[dstOffset:], src)
}

// ReadPage returns a copy of length bytes at offset.
func (db *DB) ReadPage(ppn vm.PPN, offset, length uint64) []byte {
	out := make([]byte, length)
	db.CopyPartLPage(ppn, offset, out)

	return out
}

// WritePage stores data at offset.
func (db *DB) WritePage(ppn vm.PPN, offset uint64, data []byte) {
	db.CopyPartRPage(data, ppn, offset)
}
