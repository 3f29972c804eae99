package phys

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/pmap/vm"
)

var _ = Describe("FreeList", func() {
	var (
		db *DB
		fl *FreeList
	)

	BeforeEach(func() {
		db = MakeBuilder().WithFirstPage(0x20).WithNumPages(2).Build()
		fl = NewAllocator(db)
	})

	It("should hand out every page once", func() {
		a, ok := fl.Alloc()
		Expect(ok).To(BeTrue())
		b, ok := fl.Alloc()
		Expect(ok).To(BeTrue())
		Expect(a).NotTo(Equal(b))

		_, ok = fl.Alloc()
		Expect(ok).To(BeFalse())
		Expect(fl.FreeCount()).To(Equal(0))
	})

	It("should panic on double free", func() {
		a, _ := fl.Alloc()
		fl.Free(a)

		Expect(func() { fl.Free(a) }).To(Panic())
	})

	It("should wake a blocked allocation when a page is freed", func() {
		a, _ := fl.Alloc()
		_, _ = fl.Alloc()

		got := make(chan vm.PPN)
		go func() {
			got <- fl.AllocWait()
		}()

		Consistently(got, 50*time.Millisecond).ShouldNot(Receive())

		fl.Free(a)

		Eventually(got).Should(Receive(Equal(a)))
	})

	It("should steal memory permanently", func() {
		pages, err := fl.StealMemory(4097)
		Expect(err).NotTo(HaveOccurred())
		Expect(pages).To(HaveLen(2))
		Expect(fl.Stolen()).To(Equal(2))

		_, err = fl.StealMemory(1)
		Expect(err).To(MatchError(vm.ErrResourceShortage))
	})

	It("should report the free span", func() {
		lo, hi, ok := fl.FreeSpan()
		Expect(ok).To(BeTrue())
		Expect(lo).To(Equal(vm.PPN(0x20)))
		Expect(hi).To(Equal(vm.PPN(0x21)))
	})
})
