// Package iterator provides the merging iterator that unions memtables and
// table files into a single ordered view over internal keys, per §4.11.
package iterator

import (
	"container/heap"

	"github.com/aalhour/rockyardkv/internal/dbformat"
)

// Iterator is the interface every merging-iterator child implements: the
// table reader, the memtable iterator, and the merging iterator itself.
// Iteration is forward-only, matching every concrete child.
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	SeekToFirst()
	Seek(target []byte)
	Next()
	Error() error
}

// RawMergingIterator merges children in internal-key order using a min-heap,
// without collapsing a user key's multiple versions down to one: every
// version of every key surfaces, oldest sequence last. Children are given in
// priority order — children[0] is the newest source (typically the active
// memtable) — and ties on internal key, which only arise when two sources
// hold the exact same (user key, sequence) pair, are broken in favor of the
// lower index.
//
// Callers that need tombstone suppression and per-user-key collapsing (a
// point read, a forward-scanning Iterator) apply those rules on top of this
// merge themselves, since the right rule depends on the reader's snapshot.
// Compaction needs the opposite: the full run of versions, so its own
// suppression rules can decide which ones are still reachable by a live
// snapshot.
type RawMergingIterator struct {
	children []Iterator
	heap     *iterHeap
	err      error
}

// NewRawMergingIterator creates a duplicate-preserving merge over children,
// given in priority order (index 0 highest, used only to break ties between
// otherwise-identical internal keys).
func NewRawMergingIterator(children []Iterator) *RawMergingIterator {
	return &RawMergingIterator{
		children: children,
		heap:     &iterHeap{items: make([]heapItem, 0, len(children))},
	}
}

func (mi *RawMergingIterator) Valid() bool { return mi.heap.Len() > 0 && mi.err == nil }

func (mi *RawMergingIterator) Key() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.heap.items[0].index].Key()
}

func (mi *RawMergingIterator) Value() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.heap.items[0].index].Value()
}

func (mi *RawMergingIterator) Error() error { return mi.err }

func (mi *RawMergingIterator) SeekToFirst() {
	mi.err = nil
	mi.heap.items = mi.heap.items[:0]
	for i, child := range mi.children {
		child.SeekToFirst()
		mi.pushIfValid(i, child)
	}
	heap.Init(mi.heap)
}

func (mi *RawMergingIterator) Seek(target []byte) {
	mi.err = nil
	mi.heap.items = mi.heap.items[:0]
	for i, child := range mi.children {
		child.Seek(target)
		mi.pushIfValid(i, child)
	}
	heap.Init(mi.heap)
}

func (mi *RawMergingIterator) pushIfValid(i int, child Iterator) {
	if err := child.Error(); err != nil {
		mi.err = err
		return
	}
	if child.Valid() {
		mi.heap.items = append(mi.heap.items, heapItem{index: i, key: child.Key()})
	}
}

// Next advances only the current top entry, so the very next version of the
// same user key (if any) is the following Key(), not skipped.
func (mi *RawMergingIterator) Next() {
	if !mi.Valid() {
		return
	}
	top := mi.heap.items[0].index
	child := mi.children[top]
	child.Next()
	if err := child.Error(); err != nil {
		mi.err = err
		return
	}
	if child.Valid() {
		mi.heap.items[0].key = child.Key()
		heap.Fix(mi.heap, 0)
	} else {
		heap.Pop(mi.heap)
	}
}

type heapItem struct {
	index int
	key   []byte
}

// iterHeap orders by internal key; ties (identical user key and sequence,
// which only happens across distinct sources) are broken by priority —
// container/heap is not a stable sort, so the tie-break is explicit.
type iterHeap struct {
	items []heapItem
}

func (h *iterHeap) Len() int { return len(h.items) }

func (h *iterHeap) Less(i, j int) bool {
	if c := dbformat.Compare(h.items[i].key, h.items[j].key); c != 0 {
		return c < 0
	}
	return h.items[i].index < h.items[j].index
}

func (h *iterHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *iterHeap) Push(x any) {
	h.items = append(h.items, x.(heapItem))
}

func (h *iterHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
