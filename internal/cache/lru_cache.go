// Package cache implements the fixed-capacity LRU used both as the block
// cache (§4.7, keyed by file id + block offset, holding decompressed block
// bytes) and the table cache (§4.8, keyed by file id, holding open table
// readers). Both are instances of the same generic LRU.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// BlockKey identifies a cached, decompressed block within a block cache.
type BlockKey struct {
	FileID      uint64
	BlockOffset uint64
}

// Handle is a reference to a cached entry. The caller must Release it
// when done.
type Handle[K comparable, V any] struct {
	key     K
	value   V
	charge  uint64
	refs    int32
	evict   bool
	deleter func(K, V)
}

// Value returns the cached entry.
func (h *Handle[K, V]) Value() V { return h.value }

// Charge returns the entry's accounting weight.
func (h *Handle[K, V]) Charge() uint64 { return h.charge }

type entry[K comparable, V any] struct {
	handle *Handle[K, V]
}

// LRU is a thread-safe, fixed-capacity least-recently-used cache.
// Eviction never removes a pinned (still-referenced) entry; clone-on-access
// semantics are the caller's responsibility, the cache itself never mutates
// stored values.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	table    map[K]*list.Element
	order    *list.List

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates an LRU with the given capacity. The capacity unit (bytes,
// entry count, ...) is defined by the charge passed to Insert.
func New[K comparable, V any](capacity uint64) *LRU[K, V] {
	return &LRU[K, V]{
		capacity: capacity,
		table:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

func getEntry[K comparable, V any](elem *list.Element) *entry[K, V] {
	e, _ := elem.Value.(*entry[K, V])
	return e
}

// Insert adds or replaces the entry for key, returning a pinned handle the
// caller must Release. deleter, if non-nil, runs exactly once when the
// entry is finally removed from the cache (by eviction, Erase, or Close)
// and has no outstanding handles left — the place to close a file or
// otherwise release a resource V owns.
func (c *LRU[K, V]) Insert(key K, value V, charge uint64, deleter func(K, V)) *Handle[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		e := getEntry[K, V](elem)
		c.usage = c.usage - e.handle.charge + charge
		e.handle.value = value
		e.handle.charge = charge
		e.handle.refs++
		e.handle.deleter = deleter
		c.order.MoveToFront(elem)
		return e.handle
	}

	h := &Handle[K, V]{key: key, value: value, charge: charge, refs: 1, deleter: deleter}
	for c.usage+charge > c.capacity && c.order.Len() > 0 {
		if !c.evictOne() {
			break
		}
	}

	elem := c.order.PushFront(&entry[K, V]{handle: h})
	c.table[key] = elem
	c.usage += charge
	return h
}

// Lookup returns a pinned handle for key, or nil on a miss.
func (c *LRU[K, V]) Lookup(key K) *Handle[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		e := getEntry[K, V](elem)
		if !e.handle.evict {
			c.order.MoveToFront(elem)
			e.handle.refs++
			c.hits.Add(1)
			return e.handle
		}
	}
	c.misses.Add(1)
	return nil
}

// Release unpins a handle obtained from Insert or Lookup.
func (c *LRU[K, V]) Release(h *Handle[K, V]) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h.refs--
	if h.refs == 0 && h.evict {
		c.removeKey(h.key)
	}
}

// Erase removes key from the cache; the underlying entry is only actually
// freed once its last outstanding handle is Released.
func (c *LRU[K, V]) Erase(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.table[key]
	if !ok {
		return
	}
	e := getEntry[K, V](elem)
	e.handle.evict = true
	if e.handle.refs == 0 {
		c.removeElem(elem)
	}
}

// Capacity returns the maximum capacity.
func (c *LRU[K, V]) Capacity() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Usage returns the current total charge.
func (c *LRU[K, V]) Usage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// HitCount returns the number of Lookup calls that found an entry.
func (c *LRU[K, V]) HitCount() uint64 { return c.hits.Load() }

// MissCount returns the number of Lookup calls that found nothing.
func (c *LRU[K, V]) MissCount() uint64 { return c.misses.Load() }

// Close evicts everything unconditionally, regardless of pinning, running
// each entry's deleter.
func (c *LRU[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		e := getEntry[K, V](elem)
		if e.handle.deleter != nil {
			e.handle.deleter(e.handle.key, e.handle.value)
		}
	}
	c.table = make(map[K]*list.Element)
	c.order.Init()
	c.usage = 0
}

// evictOne evicts the least-recently-used unpinned entry. Returns false if
// every entry is pinned.
func (c *LRU[K, V]) evictOne() bool {
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		e := getEntry[K, V](elem)
		if e.handle.refs == 0 {
			c.removeElem(elem)
			return true
		}
	}
	return false
}

func (c *LRU[K, V]) removeElem(elem *list.Element) {
	e := getEntry[K, V](elem)
	delete(c.table, e.handle.key)
	c.order.Remove(elem)
	c.usage -= e.handle.charge
	if e.handle.deleter != nil {
		e.handle.deleter(e.handle.key, e.handle.value)
	}
}

func (c *LRU[K, V]) removeKey(key K) {
	if elem, ok := c.table[key]; ok {
		c.removeElem(elem)
	}
}
