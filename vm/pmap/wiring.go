package pmap

import (
	"fmt"

	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/ledger"
)

// ChangeWiring wires or unwires the mapping at va. The mapping must exist,
// and unwiring a mapping that is not wired panics.
func (p *Pmap) ChangeWiring(va vm.VAddr, wired bool) error {
	p.mgr.Require(p)

	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.lookupLocked(va)
	if e == nil || !e.present() {
		panic(fmt.Sprintf("pmap: change wiring of unmapped %#x in %s", va, p))
	}

	if e.wired == wired {
		if !wired {
			panic(fmt.Sprintf("pmap: unwiring %#x in %s, which is not wired",
				va, p))
		}

		return nil
	}

	managed := p.mgr.db.IsManaged(e.ppn)

	if wired {
		if managed {
			if err := p.ledger.Credit(ledger.Wired, 1); err != nil {
				return err
			}
		}

		e.wired = true
		p.wired++

		return nil
	}

	if managed {
		p.ledger.Debit(ledger.Wired, 1)
	}

	e.wired = false
	p.wired--

	return nil
}

// IsWired returns true if the mapping at va is wired.
func (p *Pmap) IsWired(va vm.VAddr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.lookupLocked(va)

	return e != nil && e.wired
}
