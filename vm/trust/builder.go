package trust

import (
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/platform"
)

// Builder creates gates.
type Builder struct {
	platform platform.Description
	enabled  bool
	config   Config
	static   []Entry
	pages    PageSource
}

// MakeBuilder returns a builder for an enforcing gate on the arm64 preset.
func MakeBuilder() Builder {
	return Builder{
		platform: platform.ARM64(),
		enabled:  true,
	}
}

// WithPlatform sets the platform. A monitor is only created if the
// platform has one.
func (b Builder) WithPlatform(p platform.Description) Builder {
	b.platform = p
	return b
}

// WithEnforcement turns code signing enforcement on or off.
func (b Builder) WithEnforcement(enabled bool) Builder {
	b.enabled = enabled
	return b
}

// WithConfig sets the relaxations in effect.
func (b Builder) WithConfig(c Config) Builder {
	b.config = c
	return b
}

// WithStaticTrustCache sets the entries of the cache fixed at boot.
func (b Builder) WithStaticTrustCache(entries []Entry) Builder {
	b.static = entries
	return b
}

// WithPageSource sets where reserved monitor pages come from.
func (b Builder) WithPageSource(s PageSource) Builder {
	b.pages = s
	return b
}

// Build creates the gate.
func (b Builder) Build(name string) *Gate {
	g := &Gate{
		name:           name,
		enabled:        b.enabled,
		config:         b.config,
		protectedWrite: b.platform.Supports(platform.IOFilterProtectedWrite),
		pages:          b.pages,
		static:         make(map[vm.CDHash]Disposition, len(b.static)),
		unrestricted:   make(map[vm.CDHash]struct{}),
		allowInvalid:   make(map[uint32]bool),
		entitlements:   make(map[uint32]map[string]any),
		registers:      make(map[uint64]uint64),
		claimed:        make(map[vm.PPN]struct{}),
	}

	if b.platform.Supports(platform.CodeSigningMonitor) {
		g.monitor = NewMonitor()
	}

	for _, e := range b.static {
		g.static[e.Hash] = disposition(e)
	}

	g.loaded.Store(&loadedCaches{
		uuids:  make(map[UUID]struct{}),
		hashes: make(map[vm.CDHash]Disposition),
	})

	return g
}
