// Package table implements the SST file format (§4.4-§4.6): a sequence
// of data blocks, a filter block, a meta-index block, an index block, and
// a fixed footer.
package table

import (
	"errors"
	"sort"

	"github.com/aalhour/rockyardkv/internal/block"
	"github.com/aalhour/rockyardkv/internal/compression"
	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/filter"
	"github.com/aalhour/rockyardkv/vfs"
)

// ErrOutOfOrder is returned when a key added to a Builder does not sort
// after the previous one.
var ErrOutOfOrder = errors.New("table: keys added out of order")

// ErrBuilderFinished is returned when Add or Finish is called on a
// Builder that has already finished or abandoned.
var ErrBuilderFinished = errors.New("table: builder already finished")

const filterMetaKey = "filter.bloomfilter"

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// BlockSize is the target uncompressed size of a data block.
	BlockSize int
	// BlockRestartInterval is the number of keys between block restart points.
	BlockRestartInterval int
	// FilterBitsPerKey controls bloom filter precision; 0 disables the filter.
	FilterBitsPerKey int
	// Compression is applied to every block.
	Compression compression.Type
}

// DefaultBuilderOptions returns the options used when none are given.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:            4096,
		BlockRestartInterval: 16,
		FilterBitsPerKey:     10,
		Compression:          compression.NoCompression,
	}
}

// Builder accepts internal keys in strictly ascending order and produces
// a single SST file written through w.
type Builder struct {
	w       vfs.WritableFile
	options BuilderOptions

	dataBlock  *block.Builder
	indexBlock *block.Builder
	filterBldr *filter.Builder

	pendingIndexEntry bool
	pendingHandle     block.Handle
	lastKey           []byte

	offset uint64

	numEntries    uint64
	numDataBlocks uint64

	finished bool
	err      error
}

// NewBuilder creates a Builder writing to w.
func NewBuilder(w vfs.WritableFile, opts BuilderOptions) *Builder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.BlockRestartInterval <= 0 {
		opts.BlockRestartInterval = 16
	}

	tb := &Builder{
		w:          w,
		options:    opts,
		dataBlock:  block.NewBuilder(opts.BlockRestartInterval),
		indexBlock: block.NewBuilder(1),
	}
	if opts.FilterBitsPerKey > 0 {
		tb.filterBldr = filter.NewBuilder(opts.FilterBitsPerKey)
	}
	return tb
}

// Add appends an (internal key, value) pair. Keys must be added in
// strictly ascending internal-key order.
func (tb *Builder) Add(key, value []byte) error {
	if tb.finished {
		return ErrBuilderFinished
	}
	if tb.err != nil {
		return tb.err
	}
	if tb.lastKey != nil && dbformat.Compare(key, tb.lastKey) <= 0 {
		tb.err = ErrOutOfOrder
		return tb.err
	}

	if tb.pendingIndexEntry {
		tb.indexBlock.Add(tb.lastKey, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	tb.dataBlock.Add(key, value)
	tb.numEntries++

	if tb.filterBldr != nil {
		tb.filterBldr.AddKey(dbformat.UserKey(key))
	}

	tb.lastKey = append(tb.lastKey[:0], key...)

	if tb.dataBlock.EstimatedSize() >= tb.options.BlockSize {
		if err := tb.flushDataBlock(); err != nil {
			tb.err = err
			return err
		}
	}
	return nil
}

func (tb *Builder) flushDataBlock() error {
	if tb.dataBlock.Empty() {
		return nil
	}
	handle, err := tb.writeBlock(tb.dataBlock.Finish())
	if err != nil {
		return err
	}
	tb.numDataBlocks++
	tb.pendingHandle = handle
	tb.pendingIndexEntry = true
	tb.dataBlock.Reset()
	return nil
}

func (tb *Builder) writeBlock(payload []byte) (block.Handle, error) {
	raw, err := block.Encode(payload, tb.options.Compression)
	if err != nil {
		return block.Handle{}, err
	}
	handle := block.Handle{Offset: tb.offset, Size: uint64(len(raw)) - block.TrailerSize}
	n, err := tb.w.Write(raw)
	if err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(n)
	return handle, nil
}

// Finish flushes the last data block and writes the filter, meta-index,
// index blocks and footer. The Builder must not be used afterward.
func (tb *Builder) Finish() error {
	if tb.finished {
		return ErrBuilderFinished
	}
	if tb.err != nil {
		return tb.err
	}
	tb.finished = true

	if err := tb.flushDataBlock(); err != nil {
		tb.err = err
		return err
	}
	if tb.pendingIndexEntry {
		tb.indexBlock.Add(tb.lastKey, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	type metaEntry struct {
		key   string
		value []byte
	}
	var metaEntries []metaEntry

	if tb.filterBldr != nil && tb.filterBldr.NumKeys() > 0 {
		filterHandle, err := tb.writeBlock(tb.filterBldr.Finish())
		if err != nil {
			tb.err = err
			return err
		}
		metaEntries = append(metaEntries, metaEntry{filterMetaKey, filterHandle.EncodeToSlice()})
	}

	sort.Slice(metaEntries, func(i, j int) bool { return metaEntries[i].key < metaEntries[j].key })

	metaindex := block.NewBuilder(1)
	for _, e := range metaEntries {
		metaindex.Add([]byte(e.key), e.value)
	}
	metaindexHandle, err := tb.writeBlock(metaindex.Finish())
	if err != nil {
		tb.err = err
		return err
	}

	indexHandle, err := tb.writeBlock(tb.indexBlock.Finish())
	if err != nil {
		tb.err = err
		return err
	}

	footer := block.Footer{MetaIndexHandle: metaindexHandle, IndexHandle: indexHandle}
	if _, err := tb.w.Write(footer.EncodeTo()); err != nil {
		tb.err = err
		return err
	}
	tb.offset += block.FooterLen

	return nil
}

// Abandon discards the builder; it must not be used afterward.
func (tb *Builder) Abandon() {
	tb.finished = true
}

// NumEntries returns the number of entries added so far.
func (tb *Builder) NumEntries() uint64 { return tb.numEntries }

// FileSize returns the number of bytes written so far.
func (tb *Builder) FileSize() uint64 { return tb.offset }

// Status returns any error encountered while building.
func (tb *Builder) Status() error { return tb.err }
