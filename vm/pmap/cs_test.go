package pmap

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/phys"
	"github.com/sarchlab/pmap/vm/trust"
	"go.uber.org/mock/gomock"
)

func codeHash(b byte) vm.CDHash {
	var h vm.CDHash
	h[0] = b

	return h
}

var _ = Describe("Code signing", func() {
	var (
		m   *Manager
		db  *phys.DB
		p   *Pmap
		ppn vm.PPN
		rx  = vm.ProtRead | vm.ProtExecute
	)

	build := func(gate trust.Evaluator) {
		b := MakeBuilder().WithNumPages(64).WithNumCPUs(2)
		if gate != nil {
			b = b.WithGate(gate)
		}

		m = b.Build("PMap")
		db = m.PhysDB()
		ppn = dataPage(db, 0)

		var err error
		p, err = m.Create(nil, 0, vm.Flag64Bit)
		Expect(err).NotTo(HaveOccurred())
	}

	Context("with the default gate", func() {
		BeforeEach(func() {
			build(trust.MakeBuilder().
				WithStaticTrustCache([]trust.Entry{{Hash: codeHash(1)}}).
				Build("Gate"))
		})

		It("should deny executable pages without a hash", func() {
			err := p.Enter(0, ppn, rx, vm.ProtNone, vm.CacheDefault, false)
			Expect(errors.Is(err, vm.ErrDenied)).To(BeTrue())

			_, ok := p.Extract(0)
			Expect(ok).To(BeFalse())
		})

		It("should allow pages in the trust cache", func() {
			db.SetCodeHash(ppn, codeHash(1))

			Expect(p.Enter(0, ppn, rx, vm.ProtNone, vm.CacheDefault, false)).
				To(Succeed())
		})

		It("should deny writable code unless the space may generate it", func() {
			db.SetCodeHash(ppn, codeHash(1))

			err := p.Enter(0, ppn, vm.ProtAll, vm.ProtNone, vm.CacheDefault, false)
			Expect(errors.Is(err, vm.ErrDenied)).To(BeTrue())

			p.SetJITEntitled()
			Expect(p.Enter(0, ppn, vm.ProtAll, vm.ProtNone, vm.CacheDefault, false)).
				To(Succeed())
		})

		It("should skip spaces without enforcement", func() {
			p.SetCSEnforced(false)

			Expect(p.Enter(0, ppn, rx, vm.ProtNone, vm.CacheDefault, false)).
				To(Succeed())
		})

		It("should let translated spaces execute on request", func() {
			x, err := m.Create(nil, 0, vm.Flag64Bit|vm.FlagRosetta)
			Expect(err).NotTo(HaveOccurred())

			Expect(x.EnterOptions(0, ppn, rx, vm.ProtNone, vm.CacheDefault, false,
				vm.OptionTranslatedAllowExecute)).To(Succeed())
			Expect(x.HasProtPolicy(true, rx)).To(BeFalse())
		})

		It("should check code when protection widens to execute", func() {
			Expect(p.Enter(0, ppn, vm.ProtRead, vm.ProtNone, vm.CacheDefault,
				false)).To(Succeed())

			err := p.ProtectOptions(0, pageSize, rx, vm.OptionProtectImmediate, nil)
			Expect(errors.Is(err, vm.ErrDenied)).To(BeTrue())

			mapping, _ := p.Lookup(0)
			Expect(mapping.Prot).To(Equal(vm.ProtRead))
		})

		It("should refuse invalid code outside developer mode", func() {
			err := m.CSAllowInvalid(p)
			Expect(errors.Is(err, vm.ErrDenied)).To(BeTrue())
			Expect(p.InvalidAllowed()).To(BeFalse())
		})

		It("should carry the state over to a fork", func() {
			p.SetJITEntitled()
			m.Gate().SetEntitlements(p, map[string]any{"dynamic-codesigning": true})

			child, err := m.Create(nil, 0, vm.Flag64Bit)
			Expect(err).NotTo(HaveOccurred())

			Expect(m.CSForkPrepare(p, child)).To(Succeed())
			Expect(child.JITEntitled()).To(BeTrue())
			Expect(child.CSEnforced()).To(BeTrue())
			Expect(m.Gate().Entitlements(child)).
				To(HaveKeyWithValue("dynamic-codesigning", true))
		})
	})

	Context("in developer mode", func() {
		BeforeEach(func() {
			build(trust.MakeBuilder().
				WithConfig(trust.ConfigDeveloperMode).
				Build("Gate"))
		})

		It("should allow invalid code once asked", func() {
			Expect(m.CSAllowInvalid(p)).To(Succeed())
			Expect(p.InvalidAllowed()).To(BeTrue())

			Expect(p.Enter(0, ppn, vm.ProtRead|vm.ProtExecute, vm.ProtNone,
				vm.CacheDefault, false)).To(Succeed())

			child, err := m.Create(nil, 0, vm.Flag64Bit)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.CSForkPrepare(p, child)).To(Succeed())
			Expect(child.InvalidAllowed()).To(BeTrue())
		})
	})

	Context("with a mocked gate", func() {
		var (
			ctrl *gomock.Controller
			gate *MockEvaluator
		)

		BeforeEach(func() {
			ctrl = gomock.NewController(GinkgoT())
			gate = NewMockEvaluator(ctrl)
			build(gate)
		})

		It("should pass the page hash and space state to the gate", func() {
			db.SetCodeHash(ppn, codeHash(7))
			p.SetJITEntitled()

			gate.EXPECT().
				Evaluate(gomock.Any()).
				DoAndReturn(func(req trust.Request) error {
					Expect(req.Space).To(BeIdenticalTo(p))
					Expect(req.Hash).To(Equal(codeHash(7)))
					Expect(req.HasHash).To(BeTrue())
					Expect(req.JIT).To(BeTrue())
					Expect(req.Prot).To(Equal(vm.ProtRead | vm.ProtExecute))

					return nil
				})

			Expect(p.Enter(0, ppn, vm.ProtRead|vm.ProtExecute, vm.ProtNone,
				vm.CacheDefault, false)).To(Succeed())
		})

		It("should not consult the gate for data mappings", func() {
			Expect(p.Enter(0, ppn, vm.ProtDefault, vm.ProtNone,
				vm.CacheDefault, false)).To(Succeed())
		})

		It("should make the gate forget a destroyed space", func() {
			gate.EXPECT().ForgetSpace(p)

			m.Destroy(p)
		})
	})
})
