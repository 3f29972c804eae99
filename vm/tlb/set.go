// Package tlb provides the per-processor translation cache.
package tlb

import (
	"container/list"

	"github.com/sarchlab/pmap/vm"
)

// An Entry is a cached translation of one virtual page.
type Entry struct {
	ASID uint32
	VA   vm.VAddr
	PPN  vm.PPN
	Prot vm.Prot

	// Dirty is set once a write through this entry has marked the page
	// modified. Until the entry is invalidated further writes do not touch
	// the page's modify bit again.
	Dirty bool

	// Global entries match every address space.
	Global bool
}

// A Set holds a bounded number of translations with LRU replacement.
type Set interface {
	Lookup(asid uint32, va vm.VAddr) (Entry, bool)
	Insert(e Entry)
	MarkDirty(asid uint32, va vm.VAddr)
	InvalidateASID(asid uint32) int
	InvalidateRange(asid uint32, start, end vm.VAddr) int
	InvalidateAll() int
	Len() int
	Entries() []Entry
}

type key struct {
	asid uint32
	va   vm.VAddr
}

// NewSet creates a set that holds at most numWays translations.
func NewSet(numWays int) Set {
	if numWays <= 0 {
		panic("a TLB set needs at least one way")
	}

	return &setImpl{
		numWays: numWays,
		lru:     list.New(),
		byKey:   make(map[key]*list.Element),
	}
}

// setImpl keeps entries in a list ordered from least to most recently
// visited, with a map for lookups.
type setImpl struct {
	numWays int
	lru     *list.List
	byKey   map[key]*list.Element
}

func keyOf(e Entry) key {
	if e.Global {
		return key{va: e.VA}
	}

	return key{asid: e.ASID, va: e.VA}
}

func (s *setImpl) find(asid uint32, va vm.VAddr) (*list.Element, bool) {
	if elem, ok := s.byKey[key{asid: asid, va: va}]; ok {
		return elem, true
	}

	elem, ok := s.byKey[key{va: va}]
	if ok && elem.Value.(*Entry).Global {
		return elem, true
	}

	return nil, false
}

func (s *setImpl) Lookup(asid uint32, va vm.VAddr) (Entry, bool) {
	elem, ok := s.find(asid, va)
	if !ok {
		return Entry{}, false
	}

	s.lru.MoveToBack(elem)

	return *elem.Value.(*Entry), true
}

func (s *setImpl) Insert(e Entry) {
	k := keyOf(e)
	if elem, ok := s.byKey[k]; ok {
		*elem.Value.(*Entry) = e
		s.lru.MoveToBack(elem)

		return
	}

	if s.lru.Len() >= s.numWays {
		s.evict()
	}

	entry := e
	s.byKey[k] = s.lru.PushBack(&entry)
}

func (s *setImpl) MarkDirty(asid uint32, va vm.VAddr) {
	if elem, ok := s.find(asid, va); ok {
		elem.Value.(*Entry).Dirty = true
	}
}

func (s *setImpl) evict() {
	victim := s.lru.Front()
	if victim == nil {
		return
	}

	s.remove(victim)
}

func (s *setImpl) remove(elem *list.Element) {
	delete(s.byKey, keyOf(*elem.Value.(*Entry)))
	s.lru.Remove(elem)
}

func (s *setImpl) removeIf(match func(e *Entry) bool) int {
	n := 0

	for elem := s.lru.Front(); elem != nil; {
		next := elem.Next()
		if match(elem.Value.(*Entry)) {
			s.remove(elem)
			n++
		}

		elem = next
	}

	return n
}

func (s *setImpl) InvalidateASID(asid uint32) int {
	return s.removeIf(func(e *Entry) bool {
		return e.ASID == asid && !e.Global
	})
}

func (s *setImpl) InvalidateRange(asid uint32, start, end vm.VAddr) int {
	return s.removeIf(func(e *Entry) bool {
		if e.VA < start || e.VA >= end {
			return false
		}

		return e.Global || e.ASID == asid
	})
}

func (s *setImpl) InvalidateAll() int {
	n := s.lru.Len()
	s.lru.Init()
	clear(s.byKey)

	return n
}

func (s *setImpl) Len() int {
	return s.lru.Len()
}

func (s *setImpl) Entries() []Entry {
	out := make([]Entry, 0, s.lru.Len())
	for elem := s.lru.Front(); elem != nil; elem = elem.Next() {
		out = append(out, *elem.Value.(*Entry))
	}

	return out
}
