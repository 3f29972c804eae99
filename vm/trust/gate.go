package trust

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/pmap/hooking"
	"github.com/sarchlab/pmap/tracing"
	"github.com/sarchlab/pmap/vm"
)

// LocalSigningKeySize is the size of the local signing public key.
const LocalSigningKeySize = 97

// Config reports non-default relaxations of the trust policy. A zero value
// does not mean the policy is in its default state.
type Config uint32

// Configuration bits.
const (
	ConfigDeveloperMode Config = 1 << iota
	ConfigAllowInvalidCode
	ConfigRelaxedLocalSigning
)

// A Space is an address space the gate keeps per-space state for.
type Space interface {
	ASID() uint32
}

// A PageSource supplies the pages the monitor keeps for itself.
type PageSource interface {
	Alloc() (vm.PPN, bool)
	Free(ppn vm.PPN)
}

// Evaluator decides whether a mapping may be entered and keeps the
// per-space code signing state.
type Evaluator interface {
	Enabled() bool
	Evaluate(req Request) error
	AllowInvalid(space Space) error
	Entitlements(space Space) map[string]any
	SetEntitlements(space Space, entitlements map[string]any)
	ForgetSpace(space Space)
}

// A Request describes a mapping about to be entered.
type Request struct {
	Space Space

	Hash    vm.CDHash
	HasHash bool

	Prot vm.Prot

	// JIT is set for spaces entitled to generate code.
	JIT bool

	// Enforced is false for spaces exempt from code signing enforcement.
	Enforced bool
}

// Gate is the trust boundary.
type Gate struct {
	hooking.HookableBase

	name           string
	monitor        *Monitor
	noMonitorMu    sync.Mutex
	enabled        bool
	config         Config
	protectedWrite bool
	pages          PageSource

	static map[vm.CDHash]Disposition
	loaded atomic.Pointer[loadedCaches]

	// The fields below are only accessed inside call.
	csHash       vm.CDHash
	hasCSHash    bool
	unrestricted map[vm.CDHash]struct{}
	publicKey    *[LocalSigningKeySize]byte
	allowInvalid map[uint32]bool
	entitlements map[uint32]map[string]any
	registers    map[uint64]uint64
	claimed      map[vm.PPN]struct{}
}

// Name returns the name of the gate.
func (g *Gate) Name() string {
	return g.name
}

func (g *Gate) call(op string, fn func() error) error {
	if g.monitor != nil {
		return g.monitor.Call(op, fn)
	}

	g.noMonitorMu.Lock()
	defer g.noMonitorMu.Unlock()

	return fn()
}

// Monitor returns the monitor, or nil if the platform has none.
func (g *Gate) Monitor() *Monitor {
	return g.monitor
}

// InMonitor reports whether a monitor call is executing.
func (g *Gate) InMonitor() bool {
	return g.monitor != nil && g.monitor.InMonitor()
}

// LookupStaticTrustCache returns the disposition of the hash in the cache
// fixed at boot.
func (g *Gate) LookupStaticTrustCache(hash vm.CDHash) Disposition {
	return g.static[hash]
}

// LookupLoadedTrustCaches returns true if any loaded cache has the hash.
// Readers never lock.
func (g *Gate) LookupLoadedTrustCaches(hash vm.CDHash) bool {
	_, ok := g.loaded.Load().hashes[hash]
	return ok
}

// LoadTrustCache adds a cache. Caches are never removed, so a hash found
// once is found from then on. Loading the same UUID twice is rejected.
func (g *Gate) LoadTrustCache(uuid UUID, entries []Entry) error {
	taskID := tracing.StartTask("", g, "trust", "load_trust_cache", len(entries))

	err := g.call("load_trust_cache", func() error {
		current := g.loaded.Load()
		if _, ok := current.uuids[uuid]; ok {
			return vm.Errorf(vm.KindInvalidArgument, "load_trust_cache",
				"trust cache %x already loaded", uuid)
		}

		g.loaded.Store(current.with(uuid, entries))

		return nil
	})

	tracing.EndTask(taskID, g, err)

	return err
}

// NumLoadedTrustCaches returns how many caches were loaded.
func (g *Gate) NumLoadedTrustCaches() int {
	return len(g.loaded.Load().uuids)
}

// SetCompilationServiceHash records the hash of the compilation service.
func (g *Gate) SetCompilationServiceHash(hash vm.CDHash) {
	_ = g.call("set_compilation_service_cdhash", func() error {
		g.csHash = hash
		g.hasCSHash = true

		return nil
	})
}

// MatchCompilationServiceHash returns true if hash is the recorded
// compilation service hash.
func (g *Gate) MatchCompilationServiceHash(hash vm.CDHash) bool {
	matched := false

	_ = g.call("match_compilation_service_cdhash", func() error {
		matched = g.matchCompilationServiceLocked(hash)
		return nil
	})

	return matched
}

func (g *Gate) matchCompilationServiceLocked(hash vm.CDHash) bool {
	return g.hasCSHash && g.csHash == hash
}

// UnrestrictLocalSigning exempts a hash from local signing restrictions.
// There is no way to restrict it again.
func (g *Gate) UnrestrictLocalSigning(hash vm.CDHash) {
	_ = g.call("unrestrict_local_signing", func() error {
		g.unrestricted[hash] = struct{}{}
		return nil
	})
}

// IsLocalSigningUnrestricted returns true if the hash was unrestricted.
func (g *Gate) IsLocalSigningUnrestricted(hash vm.CDHash) bool {
	found := false

	_ = g.call("is_local_signing_unrestricted", func() error {
		_, found = g.unrestricted[hash]
		return nil
	})

	return found
}

// SetLocalSigningPublicKey stores the local signing key. It may be set
// once; a second call panics.
func (g *Gate) SetLocalSigningPublicKey(key [LocalSigningKeySize]byte) {
	_ = g.call("set_local_signing_public_key", func() error {
		if g.publicKey != nil {
			panic("local signing public key already set")
		}

		g.publicKey = &key

		return nil
	})
}

// GetLocalSigningPublicKey returns a copy of the key, or nil if it was not
// set.
func (g *Gate) GetLocalSigningPublicKey() *[LocalSigningKeySize]byte {
	var out *[LocalSigningKeySize]byte

	_ = g.call("get_local_signing_public_key", func() error {
		if g.publicKey != nil {
			k := *g.publicKey
			out = &k
		}

		return nil
	})

	return out
}

// Configuration returns the non-default relaxations in effect.
func (g *Gate) Configuration() Config {
	return g.config
}

// Enabled returns true if code signing is enforced.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// HasMonitor returns true if the trust operations run inside a monitor.
func (g *Gate) HasMonitor() bool {
	return g.monitor != nil
}

// HasProtectedWrite returns true if register-level protected writes are
// supported.
func (g *Gate) HasProtectedWrite() bool {
	return g.protectedWrite
}

// ProtectedWrite writes value into the register at addr. It panics if the
// platform does not support protected writes or width is not 1, 2, 4, or
// 8 bytes.
func (g *Gate) ProtectedWrite(addr uint64, value uint64, width uint64) {
	if !g.protectedWrite {
		panic("protected write is not supported")
	}

	var mask uint64

	switch width {
	case 1, 2, 4:
		mask = 1<<(width*8) - 1
	case 8:
		mask = ^uint64(0)
	default:
		panic(fmt.Sprintf("protected write: bad width %d", width))
	}

	_ = g.call("iofilter_protected_write", func() error {
		g.registers[addr] = value & mask
		return nil
	})
}

// ReadRegister returns the value last written to addr.
func (g *Gate) ReadRegister(addr uint64) uint64 {
	var v uint64

	_ = g.call("read_register", func() error {
		v = g.registers[addr]
		return nil
	})

	return v
}

// ClaimReservedPage takes a page for the monitor's own use.
func (g *Gate) ClaimReservedPage() (vm.PPN, error) {
	if g.pages == nil {
		return 0, vm.Errorf(vm.KindUnsupported, "claim_reserved_page",
			"no page source")
	}

	var ppn vm.PPN

	err := g.call("claim_reserved_page", func() error {
		p, ok := g.pages.Alloc()
		if !ok {
			return vm.Errorf(vm.KindResourceShortage, "claim_reserved_page",
				"no free page")
		}

		g.claimed[p] = struct{}{}
		ppn = p

		return nil
	})

	return ppn, err
}

// FreeReservedPage returns a page taken by ClaimReservedPage.
func (g *Gate) FreeReservedPage(ppn vm.PPN) {
	_ = g.call("free_reserved_page", func() error {
		if _, ok := g.claimed[ppn]; !ok {
			panic(fmt.Sprintf("page %#x was not claimed", ppn))
		}

		delete(g.claimed, ppn)
		g.pages.Free(ppn)

		return nil
	})
}
