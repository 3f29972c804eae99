package pmap

import (
	"github.com/sarchlab/pmap/vm"
)

// lockPagesThen runs body with the pages named by pick and the pmap lock
// held. Page locks are taken first. pick runs under the pmap lock; if the
// pages it names change while the page locks are being taken, the locks
// are dropped and the attempt is repeated.
func (p *Pmap) lockPagesThen(pick func() []vm.PPN, body func()) {
	db := p.mgr.db

	for {
		p.mu.Lock()
		want := pick()
		p.mu.Unlock()

		locked := db.LockPages(want)

		p.mu.Lock()
		if covers(locked, pick(), db.IsManaged) {
			body()
			p.mu.Unlock()
			db.UnlockPages(locked)

			return
		}

		p.mu.Unlock()
		db.UnlockPages(locked)
	}
}

func covers(locked, need []vm.PPN, managed func(vm.PPN) bool) bool {
	set := make(map[vm.PPN]struct{}, len(locked))
	for _, ppn := range locked {
		set[ppn] = struct{}{}
	}

	for _, ppn := range need {
		if !managed(ppn) {
			continue
		}

		if _, ok := set[ppn]; !ok {
			return false
		}
	}

	return true
}
