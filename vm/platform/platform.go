// Package platform describes the capabilities of the machine the physical
// map runs on. Call sites ask a Description whether an optional operation is
// available instead of being compiled per architecture.
package platform

import (
	"fmt"
	"runtime"

	"github.com/sarchlab/pmap/vm"
	"golang.org/x/sys/unix"
)

// Capability names an optional feature of a platform.
type Capability uint32

// Capabilities.
const (
	// RangeRefMod allows clearing ref/mod bits over a virtual range in one
	// step.
	RangeRefMod Capability = 1 << iota
	// BatchCacheAttributes allows setting the cache attribute of many pages
	// at once.
	BatchCacheAttributes
	// NestedFork allows duplicating a nesting relation at fork time.
	NestedFork
	// CodeSigningMonitor means a restricted trust monitor enforces code
	// signing.
	CodeSigningMonitor
	IOFilterProtectedWrite
	// HardwareRefMod means the hardware maintains ref/mod bits.
	HardwareRefMod
	// Exotic allows translated (exotic) address spaces.
	Exotic
	TPRO
)

var capabilityNames = map[Capability]string{
	RangeRefMod:            "range-refmod",
	BatchCacheAttributes:   "batch-cache-attributes",
	NestedFork:             "nested-fork",
	CodeSigningMonitor:     "code-signing-monitor",
	IOFilterProtectedWrite: "iofilter-protected-write",
	HardwareRefMod:         "hardware-refmod",
	Exotic:                 "exotic",
	TPRO:                   "tpro",
}

func (c Capability) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}

	return fmt.Sprintf("capability(%#x)", uint32(c))
}

// A Description tells the physical map layer what the platform provides.
type Description struct {
	Name string

	// PageSize is the base page size in bytes.
	PageSize uint64

	// MinPageSize is used by address spaces created with
	// vm.FlagForce4KPages.
	MinPageSize uint64

	// NestGranularity is the alignment of nesting windows. It is also the
	// span covered by one translation table.
	NestGranularity uint64

	MaxAddress32 uint64
	MaxAddress64 uint64

	KnownCreateFlags vm.CreateFlags

	Capabilities Capability
}

// Supports returns true if the platform has the capability.
func (d Description) Supports(c Capability) bool {
	return d.Capabilities&c == c
}

// Require returns an unsupported error naming the operation if the
// platform lacks the capability.
func (d Description) Require(c Capability, op string) error {
	if d.Supports(c) {
		return nil
	}

	return vm.Errorf(vm.KindUnsupported, op, "%s lacks %s", d.Name, c)
}

// Log2PageSize returns log2 of PageSize.
func (d Description) Log2PageSize() uint64 {
	return log2(d.PageSize)
}

// PageMask returns the mask of the in-page offset bits.
func (d Description) PageMask() uint64 {
	return d.PageSize - 1
}

// TruncPage rounds addr down to a page boundary.
func (d Description) TruncPage(addr vm.VAddr) vm.VAddr {
	return addr &^ vm.VAddr(d.PageMask())
}

// RoundPage rounds addr up to a page boundary.
func (d Description) RoundPage(addr vm.VAddr) vm.VAddr {
	return d.TruncPage(addr + vm.VAddr(d.PageMask()))
}

// PageAligned returns true if addr is on a page boundary.
func (d Description) PageAligned(addr vm.VAddr) bool {
	return uint64(addr)&d.PageMask() == 0
}

// NestAligned returns true if addr is on a nesting boundary.
func (d Description) NestAligned(addr vm.VAddr) bool {
	return uint64(addr)&(d.NestGranularity-1) == 0
}

// Validate panics if the description is not self-consistent.
func (d Description) Validate() {
	mustBePowerOf2(d.PageSize, "page size")
	mustBePowerOf2(d.MinPageSize, "min page size")
	mustBePowerOf2(d.NestGranularity, "nest granularity")

	if d.MinPageSize > d.PageSize {
		panic("min page size must not exceed page size")
	}

	if d.NestGranularity < d.PageSize {
		panic("nest granularity must cover at least one page")
	}
}

// ARM64 describes a 16K-page platform with a code signing monitor.
func ARM64() Description {
	return Description{
		Name:            "arm64",
		PageSize:        16384,
		MinPageSize:     4096,
		NestGranularity: 32 << 20,
		MaxAddress32:    1 << 32,
		MaxAddress64:    1 << 47,
		KnownCreateFlags: vm.Flag64Bit | vm.FlagStage2 | vm.FlagDisableJOP |
			vm.FlagForce4KPages | vm.FlagX86_64 | vm.FlagRosetta,
		Capabilities: RangeRefMod | BatchCacheAttributes | NestedFork |
			CodeSigningMonitor | IOFilterProtectedWrite | Exotic | TPRO,
	}
}

// X86_64 describes a 4K-page platform with hardware ref/mod bits.
func X86_64() Description {
	return Description{
		Name:             "x86_64",
		PageSize:         4096,
		MinPageSize:      4096,
		NestGranularity:  2 << 20,
		MaxAddress32:     1 << 32,
		MaxAddress64:     1 << 47,
		KnownCreateFlags: vm.Flag64Bit | vm.FlagEPT,
		Capabilities:     HardwareRefMod,
	}
}

// Host describes the machine the process runs on, taking the page size
// from the operating system.
func Host() Description {
	var d Description
	if runtime.GOARCH == "arm64" {
		d = ARM64()
	} else {
		d = X86_64()
	}

	d.Name = "host-" + runtime.GOARCH
	d.PageSize = uint64(unix.Getpagesize())

	if d.MinPageSize > d.PageSize {
		d.MinPageSize = d.PageSize
	}

	return d
}

// ByName returns a preset description.
func ByName(name string) (Description, error) {
	switch name {
	case "arm64":
		return ARM64(), nil
	case "x86_64", "amd64":
		return X86_64(), nil
	case "host", "":
		return Host(), nil
	default:
		return Description{}, vm.Errorf(vm.KindInvalidArgument,
			"platform", "unknown platform %q", name)
	}
}

// Presets lists all preset descriptions.
func Presets() []Description {
	return []Description{ARM64(), X86_64(), Host()}
}

func mustBePowerOf2(n uint64, what string) {
	if n == 0 || n&(n-1) != 0 {
		panic(what + " must be a power of 2")
	}
}

func log2(n uint64) uint64 {
	var l uint64
	for n > 1 {
		n >>= 1
		l++
	}

	return l
}
