package table

import (
	"errors"

	"github.com/aalhour/rockyardkv/internal/block"
	"github.com/aalhour/rockyardkv/internal/cache"
	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/filter"
	"github.com/aalhour/rockyardkv/vfs"
)

// ErrInvalidSST indicates the file is not a valid SST file.
var ErrInvalidSST = errors.New("table: invalid SST file")

// ErrBlockNotFound indicates a requested meta block was not found.
var ErrBlockNotFound = errors.New("table: block not found")

// ReaderOptions controls Reader behavior.
type ReaderOptions struct {
	// MaxFilterPreloadSize bounds how large a filter block Open will load
	// eagerly; larger filters are skipped (treated as absent).
	MaxFilterPreloadSize int
	// BlockCache, if non-nil, is consulted and populated for every data
	// block read (§4.6: "through the block cache if enabled").
	BlockCache *cache.BlockCache
}

// DefaultReaderOptions returns the options used when none are given.
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{MaxFilterPreloadSize: 64 * 1024}
}

// Reader reads a single SST file opened via Open.
type Reader struct {
	fileID  uint64
	file    vfs.RandomAccessFile
	size    int64
	options ReaderOptions

	footer block.Footer

	indexBlock   *block.Block
	filterReader []byte // raw filter bytes, nil if none/too large
}

// Open parses the footer, index block, and (if small enough) the filter
// block of an SST file. fileID identifies the file for block-cache keys.
func Open(fileID uint64, file vfs.RandomAccessFile, opts ReaderOptions) (*Reader, error) {
	size := file.Size()
	if size < block.FooterLen {
		return nil, ErrInvalidSST
	}
	if opts.MaxFilterPreloadSize <= 0 {
		opts.MaxFilterPreloadSize = 64 * 1024
	}

	r := &Reader{fileID: fileID, file: file, size: size, options: opts}

	footerBuf := make([]byte, block.FooterLen)
	if _, err := file.ReadAt(footerBuf, size-block.FooterLen); err != nil {
		return nil, err
	}
	footer, err := block.DecodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}
	r.footer = footer

	idxBlock, err := r.readBlock(footer.IndexHandle)
	if err != nil {
		return nil, err
	}
	r.indexBlock = idxBlock

	if !footer.MetaIndexHandle.IsNull() {
		metaBlock, err := r.readBlock(footer.MetaIndexHandle)
		if err != nil {
			return nil, err
		}
		it := metaBlock.NewIterator()
		for it.SeekToFirst(); it.Valid(); it.Next() {
			if string(it.Key()) != filterMetaKey {
				continue
			}
			handle, _, err := block.DecodeHandle(it.Value())
			if err != nil {
				continue
			}
			if int(handle.Size) > r.options.MaxFilterPreloadSize {
				break
			}
			filterBytes, err := r.readRawBlock(handle)
			if err == nil {
				r.filterReader = filterBytes
			}
			break
		}
	}

	return r, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.file.Close() }

// Footer returns the parsed footer.
func (r *Reader) Footer() block.Footer { return r.footer }

// KeyMayMatch reports whether userKey might be present in this table,
// consulting the bloom filter when one was loaded.
func (r *Reader) KeyMayMatch(userKey []byte) bool {
	if r.filterReader == nil {
		return true
	}
	return filter.MayContain(r.filterReader, userKey)
}

// readRawBlock reads and decompresses a block, returning its raw payload
// without interpreting it as a sequence of entries. Used for the filter
// block, whose format is a bit array plus a trailing probe-count byte.
func (r *Reader) readRawBlock(handle block.Handle) ([]byte, error) {
	if handle.IsNull() {
		return nil, ErrBlockNotFound
	}
	totalSize := handle.Size + block.TrailerSize
	if handle.Offset+totalSize > uint64(r.size) {
		return nil, ErrInvalidSST
	}
	raw := make([]byte, totalSize)
	if _, err := r.file.ReadAt(raw, int64(handle.Offset)); err != nil {
		return nil, err
	}
	return block.Decode(raw, 0)
}

// readBlock reads, decompresses, and parses an entry-structured block
// (data, index, or meta-index), going through the block cache when one is
// configured.
func (r *Reader) readBlock(handle block.Handle) (*block.Block, error) {
	if r.options.BlockCache == nil {
		payload, err := r.readRawBlock(handle)
		if err != nil {
			return nil, err
		}
		return block.Parse(payload)
	}

	key := cache.BlockKey{FileID: r.fileID, BlockOffset: handle.Offset}
	if h := r.options.BlockCache.Lookup(key); h != nil {
		defer r.options.BlockCache.Release(h)
		return block.Parse(h.Value())
	}

	payload, err := r.readRawBlock(handle)
	if err != nil {
		return nil, err
	}
	h := r.options.BlockCache.Insert(key, payload, uint64(len(payload)), nil)
	defer r.options.BlockCache.Release(h)
	return block.Parse(payload)
}

// Get performs a point lookup for an internal key: bloom filter check,
// then binary search the index for the data block that may hold it, then
// a block-iterator seek within that block. ok is false if the user key
// is not present in this table at all.
func (r *Reader) Get(internalKey []byte) (value []byte, ok bool, err error) {
	userKey := dbformat.UserKey(internalKey)
	if !r.KeyMayMatch(userKey) {
		return nil, false, nil
	}

	idxIt := r.indexBlock.NewIterator()
	idxIt.Seek(internalKey, dbformat.Compare)
	if !idxIt.Valid() {
		return nil, false, idxIt.Error()
	}

	handle, _, derr := block.DecodeHandle(idxIt.Value())
	if derr != nil {
		return nil, false, derr
	}

	dataBlock, berr := r.readBlock(handle)
	if berr != nil {
		return nil, false, berr
	}

	dataIt := dataBlock.NewIterator()
	dataIt.Seek(internalKey, dbformat.Compare)
	if !dataIt.Valid() {
		return nil, false, dataIt.Error()
	}
	if dbformat.CompareUserKeys(dataIt.Key(), internalKey) != 0 {
		return nil, false, nil
	}
	return dataIt.Value(), true, nil
}

// Iterator is a pair of cursors (index iterator over block handles, data
// block iterator) implementing the full-table scan described in §4.6.
type Iterator struct {
	reader  *Reader
	indexIt *block.Iterator
	dataIt  *block.Iterator
	dataBlk *block.Block
	err     error
}

// NewIterator returns an iterator over the whole table, initially invalid.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{reader: r, indexIt: r.indexBlock.NewIterator()}
}

func (it *Iterator) Valid() bool   { return it.err == nil && it.dataIt != nil && it.dataIt.Valid() }
func (it *Iterator) Key() []byte   { return it.dataIt.Key() }
func (it *Iterator) Value() []byte { return it.dataIt.Value() }
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.dataIt != nil {
		return it.dataIt.Error()
	}
	return nil
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *Iterator) SeekToFirst() {
	it.indexIt.SeekToFirst()
	it.loadDataBlock()
	if it.dataIt != nil {
		it.dataIt.SeekToFirst()
	}
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.indexIt.Seek(target, dbformat.Compare)
	if !it.indexIt.Valid() {
		it.dataIt = nil
		return
	}
	it.loadDataBlock()
	if it.dataIt != nil {
		it.dataIt.Seek(target, dbformat.Compare)
	}
}

// Next advances to the next entry, crossing into the next data block when
// the current one is exhausted.
func (it *Iterator) Next() {
	if it.dataIt == nil {
		return
	}
	it.dataIt.Next()
	for !it.dataIt.Valid() && it.dataIt.Error() == nil {
		it.indexIt.Next()
		it.loadDataBlock()
		if it.dataIt == nil {
			return
		}
		it.dataIt.SeekToFirst()
	}
}

func (it *Iterator) loadDataBlock() {
	if !it.indexIt.Valid() {
		it.dataBlk, it.dataIt = nil, nil
		return
	}
	handle, _, err := block.DecodeHandle(it.indexIt.Value())
	if err != nil {
		it.err = err
		it.dataBlk, it.dataIt = nil, nil
		return
	}
	dataBlk, err := it.reader.readBlock(handle)
	if err != nil {
		it.err = err
		it.dataBlk, it.dataIt = nil, nil
		return
	}
	it.dataBlk = dataBlk
	it.dataIt = dataBlk.NewIterator()
}
