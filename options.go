package rockyardkv

// options.go implements database configuration options (§6's "recognized
// set"), kept as plain structs the way the teacher's options.go does,
// trimmed to a small set of fields. The comments below name the fields the
// engine does not consult.

import (
	"github.com/aalhour/rockyardkv/internal/compression"
	"github.com/aalhour/rockyardkv/internal/logging"
	"github.com/aalhour/rockyardkv/vfs"
)

// Logger is an alias for the logging.Logger interface, so callers can
// supply their own implementation without importing internal/logging.
type Logger = logging.Logger

// CompressionType is an alias for the block codec's compression type.
type CompressionType = compression.Type

// Compression type constants, §4.3's enumerated set.
const (
	CompressionNone   = compression.NoCompression
	CompressionSnappy = compression.SnappyCompression
	CompressionLZ4    = compression.LZ4Compression
)

// Options configures Open.
type Options struct {
	// CreateIfMissing causes Open to create the database directory if it
	// does not exist.
	CreateIfMissing bool

	// ErrorIfExists causes Open to refuse a non-empty directory.
	ErrorIfExists bool

	// FS is the filesystem implementation to use. If nil, vfs.Default()
	// is used.
	FS vfs.FS

	// WriteBufferBytes is the memory-table rotate threshold
	// (write_buffer_bytes). Default: 4MB.
	WriteBufferBytes int64

	// BlockCacheBlocks is the capacity, in blocks, of the decompressed
	// block cache shared by every partition (block_cache_blocks).
	// Default: 8192.
	BlockCacheBlocks uint64

	// TableCacheFiles is the capacity of the opened-table cache
	// (table_cache_files). Default: 1000.
	TableCacheFiles int

	// Compression is the block codec's compression algorithm.
	// Default: CompressionNone.
	Compression CompressionType

	// FilterBitsPerKey is the bloom filter bits per user key
	// (filter_bits_per_key). 0 disables bloom filters. Default: 10.
	FilterBitsPerKey int

	// Level0FileNumCompactionTrigger is not consulted: the compaction
	// picker scores level 0 against its own fixed trigger
	// (compaction.L0CompactionTrigger, 4 files) and picks it once the
	// file count exceeds that trigger. Default: 4.
	Level0FileNumCompactionTrigger int

	// Level0SlowdownWritesTrigger is the soft back-pressure threshold
	// (§5): writes sleep in short increments once level 0 exceeds this
	// many files. Default: 8.
	Level0SlowdownWritesTrigger int

	// Level0StopWritesTrigger is the hard back-pressure threshold: writes
	// block until a flush completes once level 0 exceeds this many
	// files. Default: 12.
	Level0StopWritesTrigger int

	// SubcompactionEnabled turns on parallel subcompactions for large
	// compaction jobs.
	SubcompactionEnabled bool

	// SubcompactionMinBytes is the minimum total input size before a
	// compaction is split into subcompactions. Default: 2MB.
	SubcompactionMinBytes uint64

	// MaxSubcompactions bounds how many subcompactions a single
	// compaction job may split into. Default: 4.
	MaxSubcompactions int

	// Logger is the logger for database operations. If nil, a
	// discarding logger is used.
	Logger Logger
}

// DefaultOptions returns Options with the defaults named above.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing:                false,
		ErrorIfExists:                  false,
		FS:                             nil,
		WriteBufferBytes:               4 * 1024 * 1024,
		BlockCacheBlocks:               8192,
		TableCacheFiles:                1000,
		Compression:                    CompressionNone,
		FilterBitsPerKey:               10,
		Level0FileNumCompactionTrigger: 4,
		Level0SlowdownWritesTrigger:    8,
		Level0StopWritesTrigger:        12,
		SubcompactionEnabled:           false,
		SubcompactionMinBytes:          2 * 1024 * 1024,
		MaxSubcompactions:              4,
		Logger:                         nil,
	}
}

// ReadOptions configures Get and NewIterator.
type ReadOptions struct {
	// VerifyChecksums is not consulted: every block read verifies the
	// block's checksum regardless of this field.
	VerifyChecksums bool

	// FillCache is not consulted: a block read that misses the block
	// cache always inserts the block into it.
	FillCache bool

	// Snapshot, if non-nil, pins the read to a prior consistent view
	// instead of the engine's current sequence.
	Snapshot *Snapshot
}

// DefaultReadOptions returns ReadOptions with default values.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{
		VerifyChecksums: true,
		FillCache:       true,
		Snapshot:        nil,
	}
}

// WriteOptions configures Put, Delete, and Write.
type WriteOptions struct {
	// Sync causes the write to be flushed to the WAL and fsynced before
	// returning (sync_writes), the strongest durability guarantee at the
	// cost of throughput.
	Sync bool
}

// DefaultWriteOptions returns WriteOptions with default values.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{Sync: false}
}

// PartitionOptions configures CreatePartition. Partitions share the
// engine's WriteBufferBytes, cache, and compaction settings; there is
// nothing per-partition to tune yet, but the type gives CreatePartition
// room to grow without breaking callers, matching the teacher's
// ColumnFamilyOptions seam.
type PartitionOptions struct{}

// DefaultPartitionOptions returns PartitionOptions with default values.
func DefaultPartitionOptions() *PartitionOptions {
	return &PartitionOptions{}
}

// CompactRangeOptions configures CompactRange.
type CompactRangeOptions struct {
	// Begin is the inclusive lower bound of the range to compact, or nil
	// for the start of the partition.
	Begin []byte

	// End is the exclusive upper bound of the range to compact, or nil
	// for the end of the partition.
	End []byte
}
