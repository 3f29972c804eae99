package pmap

import (
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/flush"
	"github.com/sarchlab/pmap/vm/platform"
)

// Disconnect removes every mapping of the page and returns its ref/mod
// bits.
func (m *Manager) Disconnect(ppn vm.PPN) vm.RefMod {
	return m.DisconnectOptions(ppn, 0, nil)
}

// DisconnectOptions is Disconnect with option bits. Compressor options
// leave compressed markers; NoRefMod skips reading the bits.
func (m *Manager) DisconnectOptions(
	ppn vm.PPN,
	options vm.Options,
	ctx *flush.Context,
) vm.RefMod {
	taskID := m.startTask("disconnect", opDetail{PPN: ppn})
	defer m.endTask(taskID, nil)

	m.forEachMapping(ppn, func(owner *Pmap, t *table, va vm.VAddr, e *entry) {
		owner.removeEntryLocked(t, va, e, options)
		owner.invalidate(va, va+owner.pageSize(), deferTo(options, ctx))
	})

	if options.Has(vm.OptionNoRefMod) {
		return 0
	}

	return m.db.GetRefMod(ppn)
}

// forEachMapping visits every mapping of ppn with the page lock and the
// owning pmap lock held.
func (m *Manager) forEachMapping(
	ppn vm.PPN,
	fn func(owner *Pmap, t *table, va vm.VAddr, e *entry),
) {
	if !m.db.IsManaged(ppn) {
		return
	}

	m.db.LockPage(ppn)
	defer m.db.UnlockPage(ppn)

	m.forEachMappingLocked(ppn, fn)
}

// forEachMappingLocked is forEachMapping for callers holding the page lock.
func (m *Manager) forEachMappingLocked(
	ppn vm.PPN,
	fn func(owner *Pmap, t *table, va vm.VAddr, e *entry),
) {
	for _, pv := range m.db.PVsLocked(ppn) {
		owner := pv.Owner.(*Pmap)

		owner.mu.Lock()
		t := owner.tables[owner.windowBase(pv.VA)]
		fn(owner, t, pv.VA, t.entries[pv.VA])
		owner.mu.Unlock()
	}
}

// PageProtect restricts every mapping of the page, in every space, to
// prot. ProtNone removes the mappings.
func (m *Manager) PageProtect(ppn vm.PPN, prot vm.Prot) {
	m.PageProtectOptions(ppn, prot, 0, nil)
}

// PageProtectOptions is PageProtect with option bits. ClearWrite only takes
// away write access.
func (m *Manager) PageProtectOptions(
	ppn vm.PPN,
	prot vm.Prot,
	options vm.Options,
	ctx *flush.Context,
) {
	if prot == vm.ProtNone {
		m.DisconnectOptions(ppn, options, ctx)
		return
	}

	taskID := m.startTask("page_protect", opDetail{PPN: ppn})
	defer m.endTask(taskID, nil)

	m.forEachMapping(ppn, func(owner *Pmap, _ *table, va vm.VAddr, e *entry) {
		next := e.prot & prot
		if options.Has(vm.OptionClearWrite) {
			next = e.prot &^ vm.ProtWrite
		}

		if next == e.prot {
			return
		}

		e.prot = next
		owner.invalidate(va, va+owner.pageSize(), deferTo(options, ctx))
	})
}

// CacheAttributes returns the cache attribute of the page.
func (m *Manager) CacheAttributes(ppn vm.PPN) vm.CacheAttr {
	return m.db.CacheAttributes(ppn)
}

// SetCacheAttributes sets the cache attribute of the page and of every
// mapping of it.
func (m *Manager) SetCacheAttributes(ppn vm.PPN, attr vm.CacheAttr) {
	if !m.db.IsManaged(ppn) {
		return
	}

	m.db.LockPage(ppn)
	m.db.SetCacheAttributesLocked(ppn, attr)
	m.forEachMappingLocked(ppn, func(owner *Pmap, _ *table, va vm.VAddr, e *entry) {
		if e.cacheAttr != attr {
			e.cacheAttr = attr
			owner.invalidate(va, va+owner.pageSize(), nil)
		}
	})
	m.db.UnlockPage(ppn)

	m.db.SyncPageAttributes(ppn)
}

// BatchSetCacheAttributes sets the cache attribute of many pages. It needs
// platform support.
func (m *Manager) BatchSetCacheAttributes(ppns []vm.PPN, attr vm.CacheAttr) error {
	if err := m.platform.Require(platform.BatchCacheAttributes,
		"batch_set_cache_attributes"); err != nil {
		return err
	}

	taskID := m.startTask("batch_set_cache_attributes", len(ppns))
	defer m.endTask(taskID, nil)

	for _, ppn := range ppns {
		m.SetCacheAttributes(ppn, attr)
	}

	return nil
}

// ZeroPage fills the page with zeros.
func (m *Manager) ZeroPage(ppn vm.PPN) {
	m.db.ZeroPage(ppn)
}

// ZeroPartPage zeroes length bytes of the page starting at offset.
func (m *Manager) ZeroPartPage(ppn vm.PPN, offset, length uint64) {
	m.db.ZeroPartPage(ppn, offset, length)
}

// CopyPage copies a whole page.
func (m *Manager) CopyPage(src, dst vm.PPN) {
	m.db.CopyPage(src, dst)
}

// CopyPartPage copies length bytes between pages.
func (m *Manager) CopyPartPage(
	src vm.PPN, srcOffset uint64,
	dst vm.PPN, dstOffset uint64,
	length uint64,
) {
	m.db.CopyPartPage(src, srcOffset, dst, dstOffset, length)
}

// CopyPartLPage copies from a page into dst.
func (m *Manager) CopyPartLPage(src vm.PPN, srcOffset uint64, dst []byte) {
	m.db.CopyPartLPage(src, srcOffset, dst)
}

// CopyPartRPage copies src into a page.
func (m *Manager) CopyPartRPage(src []byte, dst vm.PPN, dstOffset uint64) {
	m.db.CopyPartRPage(src, dst, dstOffset)
}

// IsBadRAM returns true if the page was marked as bad memory.
func (m *Manager) IsBadRAM(ppn vm.PPN) bool {
	return m.db.IsBadRAM(ppn)
}

// CopyPhysical copies size bytes from src to dst. Each address is physical
// or virtual in space, or in the kernel space with CopyKernelMap, as the
// flags say. At least one side must be physical.
func (m *Manager) CopyPhysical(
	space *Pmap,
	src, dst uint64,
	size uint64,
	flags vm.CopyPhysFlags,
) error {
	if !flags.Valid() ||
		flags&(vm.CopySourcePhysical|vm.CopySinkPhysical) == 0 {
		return vm.Errorf(vm.KindInvalidArgument, "copy_physical",
			"bad flags %#x", uint32(flags))
	}

	if flags&vm.CopyKernelMap != 0 || space == nil {
		space = m.kernel
	}

	m.Require(space)

	taskID := m.startTask("copy_physical", size)

	err := m.copyPhysical(space, src, dst, size, flags)

	m.endTask(taskID, err)

	return err
}

func (m *Manager) copyPhysical(
	space *Pmap,
	src, dst uint64,
	size uint64,
	flags vm.CopyPhysFlags,
) error {
	pageSize := m.platform.PageSize

	for size > 0 {
		srcPPN, srcOff, err := m.resolve(space, src, flags&vm.CopySourcePhysical != 0)
		if err != nil {
			return err
		}

		dstPPN, dstOff, err := m.resolve(space, dst, flags&vm.CopySinkPhysical != 0)
		if err != nil {
			return err
		}

		n := min(size, pageSize-srcOff, pageSize-dstOff)

		m.db.CopyPartPage(srcPPN, srcOff, dstPPN, dstOff, n)

		if flags&vm.CopyNoReferenceSource == 0 {
			m.db.MarkReferenced(srcPPN)
		}

		if flags&vm.CopyNoModifySink == 0 {
			m.db.MarkModified(dstPPN)
		}

		if flags&vm.CopyFlushSource != 0 {
			m.db.SyncPageData(srcPPN)
		}

		if flags&vm.CopyFlushSink != 0 {
			m.db.SyncPageData(dstPPN)
		}

		src += n
		dst += n
		size -= n
	}

	return nil
}

func (m *Manager) resolve(
	space *Pmap,
	addr uint64,
	physical bool,
) (vm.PPN, uint64, error) {
	off := addr & m.platform.PageMask()

	if physical {
		ppn := vm.PPN(addr >> m.platform.Log2PageSize())
		if !m.db.IsManaged(ppn) {
			return 0, 0, vm.Errorf(vm.KindInvalidArgument, "copy_physical",
				"address %#x is not managed memory", addr)
		}

		return ppn, off, nil
	}

	ppn, ok := space.Extract(vm.VAddr(addr))
	if !ok {
		return 0, 0, vm.Errorf(vm.KindNotFound, "copy_physical",
			"%#x is not mapped in %s", addr, space)
	}

	if !m.db.IsManaged(ppn) {
		return 0, 0, vm.Errorf(vm.KindInvalidArgument, "copy_physical",
			"%#x in %s maps unmanaged page %#x", addr, space, ppn)
	}

	return ppn, off, nil
}
