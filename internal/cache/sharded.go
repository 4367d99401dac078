package cache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when a caller doesn't need a
// specific fan-out; it's high enough to keep compaction readers and
// foreground Gets off each other's lock on a block cache, too many for
// a table cache that rarely holds more than a few hundred entries.
const DefaultShards = 16

// HashBlockKey computes the shard/bucket hash for a block cache key. It's
// not a content hash of the block itself, just enough spread over
// (file id, block offset) to pick a shard.
func HashBlockKey(k BlockKey) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], k.FileID)
	binary.LittleEndian.PutUint64(buf[8:16], k.BlockOffset)
	return xxhash.Sum64(buf[:])
}

// HashFileID computes the shard hash for a table cache key (a bare file
// number).
func HashFileID(id uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	return xxhash.Sum64(buf[:])
}

// ShardedLRU spreads entries across several independent LRU shards, each
// with its own mutex and its own slice of the total capacity, so a lookup
// in one shard never waits on a lookup or insert in another. Shard choice
// is a hash of the key, not the key's own comparison, so unlike the plain
// LRU the caller supplies how to hash K.
type ShardedLRU[K comparable, V any] struct {
	shards []*LRU[K, V]
	hash   func(K) uint64
}

// NewSharded creates a sharded LRU with capacity split evenly across
// numShards, each shard hashed to by hash. numShards <= 0 uses
// DefaultShards.
func NewSharded[K comparable, V any](capacity uint64, numShards int, hash func(K) uint64) *ShardedLRU[K, V] {
	if numShards <= 0 {
		numShards = DefaultShards
	}
	per := capacity / uint64(numShards)
	if per == 0 {
		per = 1
	}
	shards := make([]*LRU[K, V], numShards)
	for i := range shards {
		shards[i] = New[K, V](per)
	}
	return &ShardedLRU[K, V]{shards: shards, hash: hash}
}

func (s *ShardedLRU[K, V]) shardFor(key K) *LRU[K, V] {
	return s.shards[s.hash(key)%uint64(len(s.shards))]
}

// Insert adds or replaces the entry for key in its shard, returning a
// pinned handle the caller must Release.
func (s *ShardedLRU[K, V]) Insert(key K, value V, charge uint64, deleter func(K, V)) *Handle[K, V] {
	return s.shardFor(key).Insert(key, value, charge, deleter)
}

// Lookup returns a pinned handle for key, or nil on a miss.
func (s *ShardedLRU[K, V]) Lookup(key K) *Handle[K, V] {
	return s.shardFor(key).Lookup(key)
}

// Release unpins a handle obtained from Insert or Lookup.
func (s *ShardedLRU[K, V]) Release(h *Handle[K, V]) {
	if h == nil {
		return
	}
	s.shardFor(h.key).Release(h)
}

// Erase removes key from the cache; the underlying entry is only actually
// freed once its last outstanding handle is Released.
func (s *ShardedLRU[K, V]) Erase(key K) {
	s.shardFor(key).Erase(key)
}

// Capacity returns the summed capacity across all shards.
func (s *ShardedLRU[K, V]) Capacity() uint64 {
	var total uint64
	for _, shard := range s.shards {
		total += shard.Capacity()
	}
	return total
}

// Usage returns the summed charge in use across all shards.
func (s *ShardedLRU[K, V]) Usage() uint64 {
	var total uint64
	for _, shard := range s.shards {
		total += shard.Usage()
	}
	return total
}

// HitCount returns the summed Lookup hits across all shards.
func (s *ShardedLRU[K, V]) HitCount() uint64 {
	var total uint64
	for _, shard := range s.shards {
		total += shard.HitCount()
	}
	return total
}

// MissCount returns the summed Lookup misses across all shards.
func (s *ShardedLRU[K, V]) MissCount() uint64 {
	var total uint64
	for _, shard := range s.shards {
		total += shard.MissCount()
	}
	return total
}

// Close evicts everything in every shard, running each entry's deleter.
func (s *ShardedLRU[K, V]) Close() {
	for _, shard := range s.shards {
		shard.Close()
	}
}
