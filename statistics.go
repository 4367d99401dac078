package rockyardkv

// statistics.go implements the engine's exposed counters (§4.16): simple
// atomic tallies a caller can read via DB.Stats without taking the engine
// mutex, plus the cache hit/miss counters the table and block caches
// already track internally.

import (
	"strconv"
	"sync/atomic"

	"github.com/aalhour/rockyardkv/internal/version"
)

// statistics holds the engine-wide counters not already owned by a cache.
type statistics struct {
	keysWritten    uint64
	keysRead       uint64
	flushesRun     uint64
	compactionsRun uint64
}

func newStatistics() *statistics {
	return &statistics{}
}

func (s *statistics) addCompaction() {
	atomic.AddUint64(&s.compactionsRun, 1)
}

func (s *statistics) addRead() {
	atomic.AddUint64(&s.keysRead, 1)
}

// Stats is a point-in-time snapshot of the engine's counters.
type Stats struct {
	KeysWritten      uint64
	KeysRead         uint64
	FlushesRun       uint64
	CompactionsRun   uint64
	BlockCacheHits   uint64
	BlockCacheMisses uint64
	TableCacheHits   uint64
	TableCacheMisses uint64
}

// Stats returns a snapshot of the engine's counters, per §4.16.
func (db *DB) Stats() Stats {
	return Stats{
		KeysWritten:      atomic.LoadUint64(&db.stats.keysWritten),
		KeysRead:         atomic.LoadUint64(&db.stats.keysRead),
		FlushesRun:       atomic.LoadUint64(&db.stats.flushesRun),
		CompactionsRun:   atomic.LoadUint64(&db.stats.compactionsRun),
		BlockCacheHits:   db.blockCache.HitCount(),
		BlockCacheMisses: db.blockCache.MissCount(),
		TableCacheHits:   db.tableCache.HitCount(),
		TableCacheMisses: db.tableCache.MissCount(),
	}
}

// GetProperty returns an internal diagnostic value by name, mirroring the
// teacher's GetProperty seam (§4.16). Only a small fixed set of properties
// is recognized; anything else reports ok=false.
func (db *DB) GetProperty(name string) (string, bool) {
	v, ok := db.versions.Current(version.DefaultPartitionID)
	if !ok {
		return "", false
	}
	v.Ref()
	defer v.Unref()

	switch name {
	case "rockyardkv.num-files-at-level0":
		return strconv.Itoa(v.NumFiles(0)), true
	case "rockyardkv.total-sst-files":
		return strconv.Itoa(v.TotalFiles()), true
	default:
		return "", false
	}
}
