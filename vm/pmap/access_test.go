package pmap

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/flush"
	"github.com/sarchlab/pmap/vm/phys"
	"github.com/sarchlab/pmap/vm/platform"
)

var _ = Describe("Access", func() {
	var (
		m   *Manager
		db  *phys.DB
		p   *Pmap
		ppn vm.PPN
	)

	BeforeEach(func() {
		m = MakeBuilder().WithNumPages(64).WithNumCPUs(2).Build("PMap")
		db = m.PhysDB()
		ppn = dataPage(db, 0)

		var err error
		p, err = m.Create(nil, 0, vm.Flag64Bit)
		Expect(err).NotTo(HaveOccurred())

		Expect(p.Enter(0, ppn, vm.ProtDefault, vm.ProtNone,
			vm.CacheDefault, false)).To(Succeed())

		m.Switch(0, p)
	})

	It("should set the referenced bit on a read", func() {
		Expect(m.IsReferenced(ppn)).To(BeFalse())

		got, err := m.Access(0, 0x10, vm.ProtRead)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(ppn))

		Expect(m.GetRefMod(ppn)).To(Equal(vm.RefModReferenced))
	})

	It("should set the modified bit on the first write through the cache", func() {
		_, err := m.Access(0, 0, vm.ProtRead)
		Expect(err).NotTo(HaveOccurred())

		_, err = m.Access(0, 0, vm.ProtWrite)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.IsModified(ppn)).To(BeTrue())
	})

	It("should set the bits again after a clear", func() {
		_, err := m.Access(0, 0, vm.ProtWrite)
		Expect(err).NotTo(HaveOccurred())

		m.ClearModify(ppn)
		Expect(m.IsModified(ppn)).To(BeFalse())
		Expect(m.Processors()[0].CachedEntries()).To(BeEmpty())

		_, err = m.Access(0, 0, vm.ProtWrite)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.IsModified(ppn)).To(BeTrue())

		m.ClearReference(ppn)
		Expect(m.IsReferenced(ppn)).To(BeFalse())
		Expect(m.IsModified(ppn)).To(BeTrue())

		m.ClearRefMod(ppn, vm.RefModAll)
		Expect(m.GetRefMod(ppn)).To(BeZero())
	})

	It("should fault on a protection violation", func() {
		Expect(p.Protect(0, pageSize, vm.ProtRead)).To(Succeed())

		_, err := m.Access(0, 0, vm.ProtWrite)
		Expect(errors.Is(err, vm.ErrDenied)).To(BeTrue())
		Expect(m.IsModified(ppn)).To(BeFalse())
	})

	It("should fault on an unmapped address", func() {
		_, err := m.Access(0, 4*pageSize, vm.ProtRead)
		Expect(errors.Is(err, vm.ErrNotFound)).To(BeTrue())
	})

	It("should reach kernel mappings from any space", func() {
		kppn := dataPage(db, 1)
		kva := vm.VAddr(1 << 40)

		Expect(m.Kernel().Enter(kva, kppn, vm.ProtRead, vm.ProtNone,
			vm.CacheDefault, true)).To(Succeed())

		got, err := m.Access(0, kva, vm.ProtRead)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(kppn))

		entries := m.Processors()[0].CachedEntries()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Global).To(BeTrue())
	})

	Context("when invalidation is deferred", func() {
		It("should keep the cached translation until the flush", func() {
			_, err := m.Access(0, 0, vm.ProtRead)
			Expect(err).NotTo(HaveOccurred())

			var ctx flush.Context
			ctx.Init()

			Expect(p.RemoveOptions(0, pageSize, vm.OptionNoFlush, &ctx)).
				To(Succeed())

			Expect(ctx.Empty()).To(BeFalse())
			Expect(ctx.CPUs()).To(Equal([]int{0}))
			Expect(m.Processors()[0].CachedEntries()).To(HaveLen(1))

			m.Flusher().Flush(&ctx)

			Expect(ctx.Empty()).To(BeTrue())
			Expect(m.Processors()[0].CachedEntries()).To(BeEmpty())
		})

		It("should flush at once without NoFlush", func() {
			_, err := m.Access(0, 0, vm.ProtRead)
			Expect(err).NotTo(HaveOccurred())

			var ctx flush.Context
			Expect(p.RemoveOptions(0, pageSize, 0, &ctx)).To(Succeed())

			Expect(ctx.Empty()).To(BeTrue())
			Expect(m.Processors()[0].CachedEntries()).To(BeEmpty())
		})
	})

	Context("when clearing a range", func() {
		It("should clear every page at once", func() {
			Expect(p.Enter(pageSize, dataPage(db, 1), vm.ProtDefault,
				vm.ProtNone, vm.CacheDefault, false)).To(Succeed())

			_, err := m.Access(0, 0, vm.ProtWrite)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.Access(0, pageSize, vm.ProtWrite)
			Expect(err).NotTo(HaveOccurred())

			Expect(p.ClearRefModRangeOptions(0, 2*pageSize, vm.RefModAll, 0, nil)).
				To(BeTrue())

			Expect(m.GetRefMod(ppn)).To(BeZero())
			Expect(m.GetRefMod(dataPage(db, 1))).To(BeZero())
			Expect(m.Processors()[0].CachedEntries()).To(BeEmpty())
		})

		It("should change nothing without platform support", func() {
			x := MakeBuilder().WithPlatform(platform.X86_64()).Build("PMap")
			q, err := x.Create(nil, 0, vm.Flag64Bit)
			Expect(err).NotTo(HaveOccurred())

			xppn := dataPage(x.PhysDB(), 0)
			Expect(q.Enter(0, xppn, vm.ProtDefault, vm.ProtWrite,
				vm.CacheDefault, false)).To(Succeed())

			Expect(q.ClearRefModRangeOptions(0, 4096, vm.RefModAll, 0, nil)).
				To(BeFalse())
			Expect(x.GetRefMod(xppn)).To(Equal(vm.RefModAll))
		})
	})

	Context("when marking pages reusable", func() {
		It("should move internal mappings in and out of reusable accounting", func() {
			ippn := dataPage(db, 2)
			Expect(p.EnterPage(2*pageSize, vm.PageClass{PPN: ippn, Internal: true},
				vm.ProtDefault, vm.ProtNone, false, 0)).To(Succeed())

			m.ClearRefModOptions(ippn, vm.RefModReferenced, vm.OptionSetReusable, nil)

			info, _ := p.QueryPageInfo(2 * pageSize)
			Expect(info.Has(vm.PageInfoReusable)).To(BeTrue())

			m.ClearRefModOptions(ippn, vm.RefModReferenced, vm.OptionClearReusable, nil)

			info, _ = p.QueryPageInfo(2 * pageSize)
			Expect(info.Has(vm.PageInfoReusable)).To(BeFalse())
		})
	})
})
