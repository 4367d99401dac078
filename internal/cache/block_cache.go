package cache

// BlockCache is the block cache named in §4.7: a fixed-capacity, sharded
// LRU keyed by (file id, block offset), holding decompressed block bytes.
// Capacity is charged in bytes and split evenly across shards.
type BlockCache = ShardedLRU[BlockKey, []byte]

// NewBlockCache creates a block cache with the given byte capacity, sharded
// across DefaultShards buckets by a hash of the block key.
func NewBlockCache(capacityBytes uint64) *BlockCache {
	return NewSharded[BlockKey, []byte](capacityBytes, DefaultShards, HashBlockKey)
}
