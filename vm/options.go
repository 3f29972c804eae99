package vm

// Options modify the behavior of mapping operations.
type Options uint32

// Option bits.
const (
	// OptionNoWait makes Enter fail with a resource shortage instead of
	// blocking on table growth.
	OptionNoWait Options = 0x1
	// OptionNoEnter grows translation tables without inserting a leaf.
	OptionNoEnter Options = 0x2
	// OptionCompressor credits the compressor for the removed page.
	OptionCompressor Options = 0x4
	OptionInternal   Options = 0x8
	OptionReusable   Options = 0x10
	// OptionNoFlush defers invalidation into a flush context.
	OptionNoFlush  Options = 0x20
	OptionNoRefMod Options = 0x40
	OptionAltAcct  Options = 0x80
	OptionRemove   Options = 0x100

	OptionSetReusable          Options = 0x200
	OptionClearReusable        Options = 0x400
	OptionCompressorIfModified Options = 0x800
	// OptionProtectImmediate allows Protect to widen access.
	OptionProtectImmediate       Options = 0x1000
	OptionClearWrite             Options = 0x2000
	OptionTranslatedAllowExecute Options = 0x4000
	OptionFFLocked               Options = 0x8000
	OptionFFWired                Options = 0x10000
	OptionMapTPRO                Options = 0x40000
)

// Has returns true if all bits in want are set.
func (o Options) Has(want Options) bool {
	return o&want == want
}

// Any returns true if any bit in want is set.
func (o Options) Any(want Options) bool {
	return o&want != 0
}
