package pmap

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/sarchlab/pmap/vm"
)

// Dump level bits.
const (
	DumpTables uint32 = 1 << iota
	DumpLeaves
)

// A DumpRecord is one line of a page table dump.
type DumpRecord struct {
	Kind       string   `json:"kind"`
	VA         vm.VAddr `json:"va"`
	PPN        vm.PPN   `json:"ppn"`
	Size       uint64   `json:"size"`
	Prot       string   `json:"prot,omitempty"`
	Wired      bool     `json:"wired,omitempty"`
	Compressed bool     `json:"compressed,omitempty"`
}

// DumpPageTables writes the translation tables of p into buf as JSON
// lines, one record per table and per leaf selected by levelMask. It
// returns the number of bytes written. If buf is too small nothing useful
// is written and the returned count is the size needed.
func (p *Pmap) DumpPageTables(buf []byte, levelMask uint32) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.dumpLocked(buf, levelMask)
}

// DumpPageTablesUnlocked is DumpPageTables for a debugger that must not
// block. It fails with a resource shortage if the space is busy.
func (p *Pmap) DumpPageTablesUnlocked(buf []byte, levelMask uint32) (int, error) {
	if !p.mu.TryLock() {
		return 0, vm.Errorf(vm.KindResourceShortage, "dump_page_tables",
			"%s is busy", p)
	}
	defer p.mu.Unlock()

	return p.dumpLocked(buf, levelMask)
}

func (p *Pmap) dumpLocked(buf []byte, levelMask uint32) (int, error) {
	var out bytes.Buffer

	enc := json.NewEncoder(&out)

	if levelMask&DumpTables != 0 {
		if p.hasRoot {
			_ = enc.Encode(DumpRecord{Kind: "root", PPN: p.root,
				Size: uint64(p.sizeBound)})
		}

		bases := make([]vm.VAddr, 0, len(p.tables))
		for base := range p.tables {
			bases = append(bases, base)
		}

		slices.Sort(bases)

		for _, base := range bases {
			_ = enc.Encode(DumpRecord{Kind: "table", VA: base,
				PPN: p.tables[base].ppn, Size: p.mgr.platform.NestGranularity})
		}
	}

	if levelMask&DumpLeaves != 0 {
		size := p.QueryPageSize()

		p.forEachLocked(0, p.sizeBound, func(_ *table, va vm.VAddr, e *entry) {
			r := DumpRecord{Kind: "leaf", VA: va, Size: size, Compressed: e.compressed}
			if e.present() {
				r.PPN = e.ppn
				r.Prot = e.prot.String()
				r.Wired = e.wired
			}

			_ = enc.Encode(r)
		})
	}

	if out.Len() > len(buf) {
		return out.Len(), vm.Errorf(vm.KindInsufficientBuffer,
			"dump_page_tables", "need %d bytes, have %d", out.Len(), len(buf))
	}

	return copy(buf, out.Bytes()), nil
}
