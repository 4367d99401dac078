package table

import (
	"fmt"
	"path/filepath"

	"github.com/aalhour/rockyardkv/internal/cache"
	"github.com/aalhour/rockyardkv/vfs"
)

// Cache is the table cache (§4.8): a fixed-capacity LRU keyed by file id,
// returning a shared handle to an opened Reader. Evicting a handle is safe
// because an outstanding *Handle keeps the Reader pinned and open.
type Cache struct {
	fs      vfs.FS
	dir     string
	opts    ReaderOptions
	readers *cache.ShardedLRU[uint64, *Reader]
}

// tableCacheShards is smaller than the block cache's fan-out: a table
// cache rarely holds more than a few hundred open readers, so fewer
// shards keep per-shard capacity from rounding down to zero.
const tableCacheShards = 4

// NewCache creates a table cache rooted at dir, holding up to maxOpenFiles
// readers open at once.
func NewCache(fs vfs.FS, dir string, maxOpenFiles int, opts ReaderOptions) *Cache {
	if maxOpenFiles <= 0 {
		maxOpenFiles = 1000
	}
	return &Cache{
		fs:      fs,
		dir:     dir,
		opts:    opts,
		readers: cache.NewSharded[uint64, *Reader](uint64(maxOpenFiles), tableCacheShards, cache.HashFileID),
	}
}

// pathFor matches the "%06d.sst" naming flush and compaction jobs write
// their outputs under.
func (c *Cache) pathFor(fileID uint64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%06d.sst", fileID))
}

// Get returns a pinned handle to fileID's reader, opening the file on a
// cache miss. The caller must call Release on the returned handle.
func (c *Cache) Get(fileID uint64) (*cache.Handle[uint64, *Reader], error) {
	if h := c.readers.Lookup(fileID); h != nil {
		return h, nil
	}

	f, err := c.fs.OpenRandomAccess(c.pathFor(fileID))
	if err != nil {
		return nil, err
	}
	reader, err := Open(fileID, f, c.opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return c.readers.Insert(fileID, reader, 1, func(_ uint64, r *Reader) {
		_ = r.Close()
	}), nil
}

// Release unpins a handle returned by Get.
func (c *Cache) Release(h *cache.Handle[uint64, *Reader]) {
	c.readers.Release(h)
}

// Evict drops fileID from the cache; the underlying Reader is closed once
// its last outstanding handle is released.
func (c *Cache) Evict(fileID uint64) {
	c.readers.Erase(fileID)
}

// HitCount returns the number of Get calls served from the cache.
func (c *Cache) HitCount() uint64 { return c.readers.HitCount() }

// MissCount returns the number of Get calls that opened a new file.
func (c *Cache) MissCount() uint64 { return c.readers.MissCount() }

// Close closes every open reader.
func (c *Cache) Close() {
	c.readers.Close()
}
