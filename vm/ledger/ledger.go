// Package ledger provides the resource accounting objects attached to
// address spaces.
package ledger

import (
	"fmt"
	"sync"

	"github.com/sarchlab/pmap/vm"
)

// Entry names a ledger counter.
type Entry int

// Ledger entries, in template order.
const (
	PhysFootprint Entry = iota
	Internal
	AltAcct
	Reusable
	Compressed
	InternalCompressed
	AltAcctCompressed
	Wired
	PageTable
	numEntries
)

var entryNames = [numEntries]string{
	"phys_footprint",
	"internal",
	"alt_acct",
	"reusable",
	"compressed",
	"internal_compressed",
	"alt_acct_compressed",
	"wired",
	"page_table",
}

func (e Entry) String() string {
	if e < 0 || e >= numEntries {
		return fmt.Sprintf("entry(%d)", int(e))
	}

	return entryNames[e]
}

// TemplateSize is the number of entries in every ledger.
const TemplateSize = int(numEntries)

// NoLimit marks an entry without a limit.
const NoLimit int64 = -1

// A Ledger counts the resources an address space holds.
type Ledger struct {
	mu      sync.Mutex
	id      int
	balance [numEntries]int64
	limit   [numEntries]int64
	freed   bool
}

// ID identifies the ledger within its service.
func (l *Ledger) ID() int {
	return l.id
}

// Credit adds amount to an entry. It fails without changing anything if the
// entry's limit would be exceeded.
func (l *Ledger) Credit(e Entry, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.mustBeLive()

	next := l.balance[e] + amount
	if l.limit[e] != NoLimit && next > l.limit[e] {
		return vm.Errorf(vm.KindResourceShortage, "ledger",
			"%s limit %d reached", e, l.limit[e])
	}

	l.balance[e] = next

	return nil
}

// Debit subtracts amount from an entry. Debiting below zero is an
// accounting bug and panics.
func (l *Ledger) Debit(e Entry, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.mustBeLive()

	if l.balance[e] < amount {
		panic(fmt.Sprintf("ledger %d: %s underflow (%d - %d)",
			l.id, e, l.balance[e], amount))
	}

	l.balance[e] -= amount
}

// Balance returns the current value of an entry.
func (l *Ledger) Balance(e Entry) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.balance[e]
}

// SetLimit sets the limit of an entry. Use NoLimit to remove it.
func (l *Ledger) SetLimit(e Entry, limit int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit[e] = limit
}

// Snapshot returns all balances keyed by entry name.
func (l *Ledger) Snapshot() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := make(map[string]int64, numEntries)
	for i := Entry(0); i < numEntries; i++ {
		m[i.String()] = l.balance[i]
	}

	return m
}

func (l *Ledger) mustBeLive() {
	if l.freed {
		panic(fmt.Sprintf("ledger %d used after free", l.id))
	}
}

// Service allocates and frees ledgers.
type Service interface {
	Alloc() (*Ledger, error)
	Free(l *Ledger)
	VerifySize(n int)
}

// NewService creates a service that hands out at most capacity live
// ledgers. A capacity of zero means unbounded.
func NewService(capacity int) Service {
	return &service{
		capacity: capacity,
		limits:   defaultLimits(),
	}
}

// NewServiceWithLimits is like NewService but every allocated ledger starts
// with the given entry limits.
func NewServiceWithLimits(capacity int, limits map[Entry]int64) Service {
	s := &service{
		capacity: capacity,
		limits:   defaultLimits(),
	}

	for e, l := range limits {
		s.limits[e] = l
	}

	return s
}

func defaultLimits() [numEntries]int64 {
	var l [numEntries]int64
	for i := range l {
		l[i] = NoLimit
	}

	return l
}

type service struct {
	mu       sync.Mutex
	capacity int
	live     int
	nextID   int
	limits   [numEntries]int64
}

func (s *service) Alloc() (*Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity > 0 && s.live >= s.capacity {
		return nil, vm.Errorf(vm.KindResourceShortage, "ledger_alloc",
			"%d ledgers in use", s.live)
	}

	s.live++
	s.nextID++

	return &Ledger{id: s.nextID, limit: s.limits}, nil
}

func (s *service) Free(l *Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.freed {
		panic(fmt.Sprintf("ledger %d freed twice", l.id))
	}

	l.freed = true
	s.live--
}

func (s *service) VerifySize(n int) {
	if n != TemplateSize {
		panic(fmt.Sprintf("ledger template size mismatch: %d != %d",
			n, TemplateSize))
	}
}
