package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardedLRUInsertLookupRelease(t *testing.T) {
	c := NewSharded[BlockKey, []byte](1024, 4, HashBlockKey)

	h := c.Insert(BlockKey{FileID: 1, BlockOffset: 0}, []byte("block-a"), 7, nil)
	require.NotNil(t, h)
	c.Release(h)

	got := c.Lookup(BlockKey{FileID: 1, BlockOffset: 0})
	require.NotNil(t, got)
	require.Equal(t, []byte("block-a"), got.Value())
	c.Release(got)

	require.Equal(t, uint64(1), c.HitCount())
}

func TestShardedLRUMissOnUnknownKey(t *testing.T) {
	c := NewSharded[BlockKey, []byte](1024, 4, HashBlockKey)
	require.Nil(t, c.Lookup(BlockKey{FileID: 9, BlockOffset: 9}))
	require.Equal(t, uint64(1), c.MissCount())
}

func TestShardedLRUSpreadsAcrossShards(t *testing.T) {
	c := NewSharded[uint64, string](64, 8, HashFileID)
	seen := map[int]bool{}
	for id := uint64(0); id < 64; id++ {
		seen[int(HashFileID(id)%8)] = true
	}
	require.Greater(t, len(seen), 1)

	for id := uint64(0); id < 8; id++ {
		h := c.Insert(id, "v", 1, nil)
		c.Release(h)
	}
	require.Equal(t, uint64(8), c.Usage())
}

func TestShardedLRUErase(t *testing.T) {
	c := NewSharded[uint64, string](64, 4, HashFileID)
	h := c.Insert(1, "v", 1, nil)
	c.Release(h)

	c.Erase(1)
	require.Nil(t, c.Lookup(1))
}

func TestShardedLRUCloseRunsDeleters(t *testing.T) {
	c := NewSharded[uint64, string](64, 4, HashFileID)
	var closed []uint64
	for id := uint64(0); id < 5; id++ {
		h := c.Insert(id, "v", 1, func(k uint64, _ string) { closed = append(closed, k) })
		c.Release(h)
	}
	c.Close()
	require.Len(t, closed, 5)
}
