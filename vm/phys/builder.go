package phys

import "github.com/sarchlab/pmap/vm"

// A Builder can build page databases.
type Builder struct {
	firstPage vm.PPN
	numPages  int
	pageSize  uint64
}

// MakeBuilder returns a Builder with 4096 pages of 4KB starting at page 0x100.
func MakeBuilder() Builder {
	return Builder{
		firstPage: 0x100,
		numPages:  4096,
		pageSize:  4096,
	}
}

// WithFirstPage sets the first managed page number.
func (b Builder) WithFirstPage(ppn vm.PPN) Builder {
	b.firstPage = ppn
	return b
}

// WithNumPages sets how many pages are managed.
func (b Builder) WithNumPages(n int) Builder {
	b.numPages = n
	return b
}

// WithPageSize sets the page size in bytes.
func (b Builder) WithPageSize(size uint64) Builder {
	if size == 0 || size&(size-1) != 0 {
		panic("page size must be a power of 2")
	}

	b.pageSize = size

	return b
}

// Build creates the database.
func (b Builder) Build() *DB {
	if b.numPages <= 0 {
		panic("a page database needs at least one page")
	}

	return &DB{
		first:    b.firstPage,
		pageSize: b.pageSize,
		pages:    make([]page, b.numPages),
	}
}
