package pmap

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/pmap/tracing"
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/ledger"
	"github.com/sarchlab/pmap/vm/phys"
	"github.com/sarchlab/pmap/vm/platform"
	"go.uber.org/mock/gomock"
)

const pageSize = vm.VAddr(16384)

// dataPage returns managed pages from the top of the database, away from
// the pages the allocator hands out for tables.
func dataPage(db *phys.DB, i int) vm.PPN {
	return db.Last() - 1 - vm.PPN(i)
}

var _ = Describe("Manager", func() {
	var (
		m  *Manager
		db *phys.DB
		p  *Pmap
	)

	BeforeEach(func() {
		m = MakeBuilder().WithNumPages(64).WithNumCPUs(2).Build("PMap")
		db = m.PhysDB()

		var err error
		p, err = m.Create(nil, 0, vm.Flag64Bit)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should own a kernel space with ASID 0", func() {
		Expect(m.Kernel().ASID()).To(Equal(uint32(0)))
		Expect(m.Kernel().IsKernel()).To(BeTrue())
		Expect(m.Active(0)).To(BeIdenticalTo(m.Kernel()))
	})

	It("should panic if the page database does not match the platform", func() {
		small := phys.MakeBuilder().WithPageSize(4096).Build()
		Expect(func() {
			MakeBuilder().WithPhysDB(small).Build("PMap")
		}).To(Panic())
	})

	Context("when creating", func() {
		It("should give each space its own ASID", func() {
			q, err := m.Create(nil, 0, vm.Flag64Bit)
			Expect(err).NotTo(HaveOccurred())

			Expect(q.ASID()).NotTo(Equal(p.ASID()))
			Expect(m.Pmaps()).To(HaveLen(3))

			found, ok := m.Lookup(q.ASID())
			Expect(ok).To(BeTrue())
			Expect(found).To(BeIdenticalTo(q))
		})

		It("should charge the root table to the ledger", func() {
			Expect(p.Ledger().Balance(ledger.PageTable)).To(Equal(int64(1)))
			Expect(p.RefCount()).To(Equal(int32(1)))
			Expect(p.CSEnforced()).To(BeTrue())
		})

		It("should reject unknown flags", func() {
			_, err := m.Create(nil, 0, vm.FlagEPT)
			Expect(errors.Is(err, vm.ErrInvalidArgument)).To(BeTrue())
		})

		It("should reject a size bound past the address limit", func() {
			_, err := m.Create(nil, 1<<48, vm.Flag64Bit)
			Expect(errors.Is(err, vm.ErrInvalidArgument)).To(BeTrue())

			_, err = m.Create(nil, 1<<33, 0)
			Expect(errors.Is(err, vm.ErrInvalidArgument)).To(BeTrue())
		})

		It("should use the 32-bit limit without Flag64Bit", func() {
			q, err := m.Create(nil, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.SizeBound()).To(Equal(vm.VAddr(1 << 32)))
		})

		It("should report 4K pages when forced", func() {
			q, err := m.Create(nil, 0, vm.Flag64Bit|vm.FlagForce4KPages)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.QueryPageSize()).To(Equal(uint64(4096)))
			Expect(p.QueryPageSize()).To(Equal(uint64(16384)))
		})

		It("should mark translated spaces exotic", func() {
			q, err := m.Create(nil, 0, vm.Flag64Bit|vm.FlagRosetta|vm.FlagDisableJOP)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.IsExotic()).To(BeTrue())
			Expect(q.UserJOPDisabled()).To(BeTrue())
		})

		It("should fail when the ledger service is exhausted", func() {
			ctrl := gomock.NewController(GinkgoT())
			svc := NewMockService(ctrl)

			kernelLedger, err := ledger.NewService(0).Alloc()
			Expect(err).NotTo(HaveOccurred())

			svc.EXPECT().VerifySize(ledger.TemplateSize)
			svc.EXPECT().Alloc().Return(kernelLedger, nil)

			mgr := MakeBuilder().WithLedgerService(svc).Build("PMap")

			svc.EXPECT().Alloc().Return(nil,
				vm.Errorf(vm.KindResourceShortage, "ledger_alloc", "full"))

			_, err = mgr.Create(nil, 0, vm.Flag64Bit)
			Expect(errors.Is(err, vm.ErrResourceShortage)).To(BeTrue())
			Expect(mgr.Pmaps()).To(HaveLen(1))
		})

		It("should give the root page back when the ledger refuses it", func() {
			small := phys.MakeBuilder().WithPageSize(16384).WithNumPages(4).Build()
			alloc := phys.NewAllocator(small)
			svc := ledger.NewServiceWithLimits(0,
				map[ledger.Entry]int64{ledger.PageTable: 0})

			mgr := MakeBuilder().
				WithPhysDB(small).
				WithAllocator(alloc).
				WithLedgerService(svc).
				Build("PMap")

			_, err := mgr.Create(nil, 0, vm.Flag64Bit)
			Expect(errors.Is(err, vm.ErrResourceShortage)).To(BeTrue())
			Expect(alloc.FreeCount()).To(Equal(4))
		})
	})

	Context("when counting references", func() {
		It("should tear down on the last release", func() {
			asid := p.ASID()
			Expect(p.Enter(0, dataPage(db, 0), vm.ProtDefault, vm.ProtNone,
				vm.CacheDefault, false)).To(Succeed())

			m.Reference(p)
			m.Destroy(p)

			_, ok := m.Lookup(asid)
			Expect(ok).To(BeTrue())

			m.Destroy(p)

			_, ok = m.Lookup(asid)
			Expect(ok).To(BeFalse())
			Expect(m.VerifyFree(dataPage(db, 0))).To(BeTrue())
		})

		It("should crash on releasing too many times", func() {
			m.Destroy(p)

			Expect(func() { m.Destroy(p) }).To(Panic())
			Expect(func() { m.Reference(p) }).To(Panic())
		})

		It("should never destroy the kernel space", func() {
			Expect(func() { m.Destroy(m.Kernel()) }).To(Panic())
		})

		It("should refuse to destroy an active space", func() {
			m.Switch(1, p)
			Expect(func() { m.Destroy(p) }).To(Panic())
		})
	})

	Context("when switching", func() {
		It("should install the space on the processor", func() {
			m.Switch(1, p)
			Expect(m.Active(1)).To(BeIdenticalTo(p))
			Expect(m.Active(0)).To(BeIdenticalTo(m.Kernel()))

			m.Switch(1, m.Kernel())
			Expect(m.Active(1)).To(BeIdenticalTo(m.Kernel()))

			m.Destroy(p)
		})

		It("should drop what the processor cached for the space it leaves", func() {
			Expect(p.Enter(0, dataPage(db, 0), vm.ProtDefault, vm.ProtNone,
				vm.CacheDefault, false)).To(Succeed())

			m.Switch(0, p)
			_, err := m.Access(0, 0, vm.ProtRead)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Processors()[0].CachedEntries()).To(HaveLen(1))

			m.Switch(0, m.Kernel())
			Expect(m.Processors()[0].CachedEntries()).To(BeEmpty())
		})
	})

	It("should trace mutating operations", func() {
		tracer := tracing.NewCountingTracer()
		tracing.CollectTrace(m, tracer)

		Expect(p.Enter(0, dataPage(db, 0), vm.ProtDefault, vm.ProtNone,
			vm.CacheDefault, false)).To(Succeed())
		Expect(p.Enter(1, dataPage(db, 0), vm.ProtDefault, vm.ProtNone,
			vm.CacheDefault, false)).NotTo(Succeed())

		Expect(tracer.Count("pmap", "enter")).To(Equal(1))
		Expect(tracer.Failed("pmap", "enter")).To(Equal(1))
		Expect(tracer.InFlight()).To(Equal(0))
	})

	It("should build on the x86_64 preset", func() {
		x := MakeBuilder().WithPlatform(platform.X86_64()).Build("PMap")

		q, err := x.Create(nil, 0, vm.Flag64Bit|vm.FlagEPT)
		Expect(err).NotTo(HaveOccurred())
		Expect(q.QueryPageSize()).To(Equal(uint64(4096)))
	})
})
