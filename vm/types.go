// Package vm defines the vocabulary shared by the physical map layer: page
// numbers, protections, option bits, and the result-code taxonomy.
package vm

import "strings"

// PPN is a physical page number.
type PPN uint32

// VAddr is a virtual address.
type VAddr uint64

// Prot is a protection bitmask.
type Prot uint8

// Protection bits.
const (
	ProtNone    Prot = 0
	ProtRead    Prot = 1 << 0
	ProtWrite   Prot = 1 << 1
	ProtExecute Prot = 1 << 2

	ProtDefault = ProtRead | ProtWrite
	ProtAll     = ProtRead | ProtWrite | ProtExecute
)

// Allows returns true if every bit in want is also set in p.
func (p Prot) Allows(want Prot) bool {
	return p&want == want
}

// Widens returns true if next grants any right that p does not.
func (p Prot) Widens(next Prot) bool {
	return next&^p != 0
}

func (p Prot) String() string {
	var sb strings.Builder

	for _, b := range []struct {
		bit  Prot
		char byte
	}{{ProtRead, 'r'}, {ProtWrite, 'w'}, {ProtExecute, 'x'}} {
		if p&b.bit != 0 {
			sb.WriteByte(b.char)
		} else {
			sb.WriteByte('-')
		}
	}

	return sb.String()
}

// CacheAttr selects the memory type of a mapping.
type CacheAttr uint8

// Cache attributes.
const (
	CacheDefault CacheAttr = iota
	CacheWriteCombined
	CacheInhibited
	CacheWriteThrough
	CachePosted
	CacheRealTime
)

// RefMod holds reference and modify bits of a physical page.
type RefMod uint8

// Ref/mod bits.
const (
	RefModModified   RefMod = 0x01
	RefModReferenced RefMod = 0x02

	RefModAll = RefModModified | RefModReferenced
)

// PageInfo is the disposition bitmask returned by a page query.
type PageInfo uint32

// Page dispositions.
const (
	PageInfoPresent           PageInfo = 0x01
	PageInfoReusable          PageInfo = 0x02
	PageInfoInternal          PageInfo = 0x04
	PageInfoAltAcct           PageInfo = 0x08
	PageInfoCompressed        PageInfo = 0x10
	PageInfoCompressedAltAcct PageInfo = 0x20
)

// Has returns true if all bits in want are set.
func (i PageInfo) Has(want PageInfo) bool {
	return i&want == want
}

// CreateFlags are the address-space creation flags.
type CreateFlags uint32

// Creation flags. Which ones are accepted is described by the platform.
const (
	Flag64Bit         CreateFlags = 0x1
	FlagEPT           CreateFlags = 0x2
	FlagDisableJOP    CreateFlags = 0x4
	FlagForce4KPages  CreateFlags = 0x8
	FlagX86_64        CreateFlags = 0x10
	FlagRosetta       CreateFlags = 0x20
	FlagStage2        CreateFlags = 0
	DefaultCreateFlag             = Flag64Bit
)

// CopyPhysFlags select how CopyPhysical interprets its addresses.
type CopyPhysFlags uint32

// Copy-physical flags.
const (
	CopySinkPhysical       CopyPhysFlags = 1
	CopySourcePhysical     CopyPhysFlags = 2
	CopyFlushSink          CopyPhysFlags = 4
	CopyFlushSource        CopyPhysFlags = 8
	CopyNoModifySink       CopyPhysFlags = 16
	CopyNoReferenceSource  CopyPhysFlags = 32
	CopyKernelMap          CopyPhysFlags = 64
	copyPhysKnownFlagsMask               = 127
)

// Valid returns false if unknown bits are set.
func (f CopyPhysFlags) Valid() bool {
	return f&^copyPhysKnownFlagsMask == 0
}

// CDHashLen is the length of a code directory hash.
const CDHashLen = 20

// CDHash is the digest identifying signed code. It is treated as opaque.
type CDHash [CDHashLen]byte

// IsZero returns true for the all-zero hash.
func (h CDHash) IsZero() bool {
	return h == CDHash{}
}
