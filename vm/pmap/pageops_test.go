package pmap

import (
	"bytes"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/ledger"
	"github.com/sarchlab/pmap/vm/phys"
	"github.com/sarchlab/pmap/vm/platform"
)

var _ = Describe("Page operations", func() {
	var (
		m   *Manager
		db  *phys.DB
		p   *Pmap
		q   *Pmap
		ppn vm.PPN
	)

	BeforeEach(func() {
		m = MakeBuilder().WithNumPages(64).WithNumCPUs(2).Build("PMap")
		db = m.PhysDB()
		ppn = dataPage(db, 0)

		var err error
		p, err = m.Create(nil, 0, vm.Flag64Bit)
		Expect(err).NotTo(HaveOccurred())

		q, err = m.Create(nil, 0, vm.Flag64Bit)
		Expect(err).NotTo(HaveOccurred())
	})

	mapBoth := func() {
		ExpectWithOffset(1, p.Enter(0, ppn, vm.ProtDefault, vm.ProtNone,
			vm.CacheDefault, false)).To(Succeed())
		ExpectWithOffset(1, q.Enter(4*pageSize, ppn, vm.ProtDefault, vm.ProtNone,
			vm.CacheDefault, false)).To(Succeed())
	}

	Context("when protecting a page", func() {
		BeforeEach(mapBoth)

		It("should restrict every mapping", func() {
			m.PageProtect(ppn, vm.ProtRead)

			mapping, _ := p.Lookup(0)
			Expect(mapping.Prot).To(Equal(vm.ProtRead))

			mapping, _ = q.Lookup(4 * pageSize)
			Expect(mapping.Prot).To(Equal(vm.ProtRead))
		})

		It("should only take write away with ClearWrite", func() {
			m.PageProtectOptions(ppn, vm.ProtAll, vm.OptionClearWrite, nil)

			mapping, _ := p.Lookup(0)
			Expect(mapping.Prot).To(Equal(vm.ProtRead))
		})

		It("should remove every mapping with ProtNone", func() {
			m.PageProtect(ppn, vm.ProtNone)

			Expect(m.VerifyFree(ppn)).To(BeTrue())
			_, ok := p.Extract(0)
			Expect(ok).To(BeFalse())
		})
	})

	Context("when disconnecting", func() {
		It("should remove every mapping and report the bits", func() {
			mapBoth()
			m.SetModify(ppn)

			Expect(m.Disconnect(ppn)).To(Equal(vm.RefModModified))
			Expect(m.VerifyFree(ppn)).To(BeTrue())
			Expect(db.MappingCount(ppn)).To(BeZero())

			resident, _, _ := q.Stats()
			Expect(resident).To(BeZero())
		})

		It("should leave compressed markers for the compressor", func() {
			Expect(p.EnterPage(0, vm.PageClass{PPN: ppn, Internal: true},
				vm.ProtDefault, vm.ProtNone, false, 0)).To(Succeed())

			m.DisconnectOptions(ppn, vm.OptionCompressor, nil)

			info, err := p.QueryPageInfo(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(info).To(Equal(vm.PageInfoCompressed))
			Expect(p.Ledger().Balance(ledger.InternalCompressed)).To(Equal(int64(1)))
			Expect(m.VerifyFree(ppn)).To(BeTrue())
		})

		It("should skip the bits with NoRefMod", func() {
			mapBoth()
			m.SetModify(ppn)

			Expect(m.DisconnectOptions(ppn, vm.OptionNoRefMod, nil)).To(BeZero())
		})
	})

	Context("when changing cache attributes", func() {
		It("should update every mapping", func() {
			mapBoth()

			m.SetCacheAttributes(ppn, vm.CacheWriteCombined)

			Expect(m.CacheAttributes(ppn)).To(Equal(vm.CacheWriteCombined))
			mapping, _ := q.Lookup(4 * pageSize)
			Expect(mapping.CacheAttr).To(Equal(vm.CacheWriteCombined))

			_, attrs, _ := db.SyncStats(ppn)
			Expect(attrs).To(Equal(uint64(1)))
		})

		It("should apply new mappings the page attribute", func() {
			m.SetCacheAttributes(ppn, vm.CacheWriteThrough)
			mapBoth()

			mapping, _ := p.Lookup(0)
			Expect(mapping.CacheAttr).To(Equal(vm.CacheWriteThrough))
		})

		It("should set many pages in one call", func() {
			Expect(m.BatchSetCacheAttributes(
				[]vm.PPN{ppn, dataPage(db, 1)}, vm.CacheInhibited)).To(Succeed())
			Expect(m.CacheAttributes(dataPage(db, 1))).To(Equal(vm.CacheInhibited))
		})

		It("should need platform support for batches", func() {
			x := MakeBuilder().WithPlatform(platform.X86_64()).Build("PMap")

			err := x.BatchSetCacheAttributes([]vm.PPN{ppn}, vm.CacheInhibited)
			Expect(errors.Is(err, vm.ErrUnsupported)).To(BeTrue())
		})
	})

	Context("when copying", func() {
		var src vm.PPN

		BeforeEach(func() {
			src = dataPage(db, 1)
			db.WritePage(src, 0x20, []byte("hello"))
			Expect(p.Enter(pageSize, ppn, vm.ProtDefault, vm.ProtNone,
				vm.CacheDefault, false)).To(Succeed())
		})

		It("should copy from physical to virtual memory", func() {
			Expect(m.CopyPhysical(p, uint64(src)<<14|0x20, uint64(pageSize)+8, 5,
				vm.CopySourcePhysical)).To(Succeed())

			Expect(db.ReadPage(ppn, 8, 5)).To(Equal([]byte("hello")))
			Expect(m.IsModified(ppn)).To(BeTrue())
			Expect(m.IsReferenced(src)).To(BeTrue())
		})

		It("should honor the ref/mod flags", func() {
			Expect(m.CopyPhysical(p, uint64(src)<<14, uint64(ppn)<<14, 16,
				vm.CopySourcePhysical|vm.CopySinkPhysical|
					vm.CopyNoModifySink|vm.CopyNoReferenceSource|vm.CopyFlushSink,
			)).To(Succeed())

			Expect(m.IsModified(ppn)).To(BeFalse())
			Expect(m.IsReferenced(src)).To(BeFalse())

			data, _, _ := db.SyncStats(ppn)
			Expect(data).To(Equal(uint64(1)))
		})

		It("should reject copies between two virtual addresses", func() {
			err := m.CopyPhysical(p, uint64(pageSize), uint64(pageSize), 4, 0)
			Expect(errors.Is(err, vm.ErrInvalidArgument)).To(BeTrue())
		})

		It("should fail on an unmapped address", func() {
			err := m.CopyPhysical(p, uint64(src)<<14, uint64(8*pageSize), 4,
				vm.CopySourcePhysical)
			Expect(errors.Is(err, vm.ErrNotFound)).To(BeTrue())
		})

		It("should refuse a virtual address that maps unmanaged memory", func() {
			Expect(p.Enter(2*pageSize, db.Last()+10, vm.ProtDefault, vm.ProtNone,
				vm.CacheDefault, false)).To(Succeed())

			err := m.CopyPhysical(p, uint64(src)<<14, uint64(2*pageSize), 4,
				vm.CopySourcePhysical)
			Expect(errors.Is(err, vm.ErrInvalidArgument)).To(BeTrue())

			err = m.CopyPhysical(p, uint64(2*pageSize), uint64(src)<<14, 4,
				vm.CopySinkPhysical)
			Expect(errors.Is(err, vm.ErrInvalidArgument)).To(BeTrue())
		})
	})

	Context("when dumping", func() {
		BeforeEach(func() {
			mapBoth()
			Expect(p.Enter(pageSize, dataPage(db, 1), vm.ProtRead, vm.ProtNone,
				vm.CacheDefault, true)).To(Succeed())
		})

		It("should ask for a bigger buffer", func() {
			n, err := p.DumpPageTables(make([]byte, 8), DumpTables|DumpLeaves)
			Expect(errors.Is(err, vm.ErrInsufficientBuffer)).To(BeTrue())
			Expect(n).To(BeNumerically(">", 8))
		})

		It("should write one record per table and leaf", func() {
			n, _ := p.DumpPageTables(nil, DumpTables|DumpLeaves)
			buf := make([]byte, n)

			written, err := p.DumpPageTablesUnlocked(buf, DumpTables|DumpLeaves)
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(Equal(n))

			kinds := map[string]int{}
			var wired []vm.VAddr

			for _, line := range bytes.Split(bytes.TrimSpace(buf), []byte("\n")) {
				var r DumpRecord
				Expect(json.Unmarshal(line, &r)).To(Succeed())
				kinds[r.Kind]++

				if r.Wired {
					wired = append(wired, r.VA)
				}
			}

			Expect(kinds).To(Equal(map[string]int{"root": 1, "table": 1, "leaf": 2}))
			Expect(wired).To(Equal([]vm.VAddr{pageSize}))
		})

		It("should filter by level", func() {
			n, _ := p.DumpPageTables(nil, DumpLeaves)
			buf := make([]byte, n)

			_, err := p.DumpPageTables(buf, DumpLeaves)
			Expect(err).NotTo(HaveOccurred())
			Expect(bytes.Count(buf, []byte("\n"))).To(Equal(2))
		})
	})
})
