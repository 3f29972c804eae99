package trust

import (
	"github.com/sarchlab/pmap/vm"
)

// Disposition is the trust information of a hash found in a trust cache,
// packed as type<<8 | flags. Zero means not found.
type Disposition uint32

// MakeDisposition packs a cache entry type and its flags.
func MakeDisposition(typ, flags uint8) Disposition {
	return Disposition(uint32(typ)<<8 | uint32(flags))
}

// Type returns the entry type.
func (d Disposition) Type() uint8 {
	return uint8(d >> 8)
}

// Flags returns the entry flags.
func (d Disposition) Flags() uint8 {
	return uint8(d)
}

// Found returns true if the hash was in the cache.
func (d Disposition) Found() bool {
	return d != 0
}

// UUID identifies a loaded trust cache.
type UUID [16]byte

// An Entry is one hash of a trust cache.
type Entry struct {
	Hash  vm.CDHash
	Type  uint8
	Flags uint8
}

// loadedCaches is an immutable snapshot of every loaded cache. Loading a
// cache publishes a new snapshot.
type loadedCaches struct {
	uuids  map[UUID]struct{}
	hashes map[vm.CDHash]Disposition
}

func (c *loadedCaches) with(uuid UUID, entries []Entry) *loadedCaches {
	next := &loadedCaches{
		uuids:  make(map[UUID]struct{}, len(c.uuids)+1),
		hashes: make(map[vm.CDHash]Disposition, len(c.hashes)+len(entries)),
	}

	for u := range c.uuids {
		next.uuids[u] = struct{}{}
	}

	for h, d := range c.hashes {
		next.hashes[h] = d
	}

	next.uuids[uuid] = struct{}{}

	for _, e := range entries {
		if _, ok := next.hashes[e.Hash]; ok {
			continue
		}

		next.hashes[e.Hash] = disposition(e)
	}

	return next
}

func disposition(e Entry) Disposition {
	d := MakeDisposition(e.Type, e.Flags)
	if d == 0 {
		d = MakeDisposition(1, 0)
	}

	return d
}
