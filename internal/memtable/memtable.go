package memtable

import (
	"sync/atomic"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/encoding"
)

// MemTable is the concurrent ordered multiset over internal keys described
// in §4.10: a lock-free skip list keyed by encoded internal keys, with the
// value stored alongside each entry.
//
// Entry format stored in the skip list:
//
//	[varint32 internalKeyLen][internalKey][varint32 valueLen][value]
//
// dbformat.Compare already orders encoded internal keys user-key-ascending,
// then sequence-descending, then kind — so the skip list comparator only
// needs to strip the length prefixes and defer to it.
type MemTable struct {
	skiplist *SkipList

	memoryUsage int64
	refs        int32
}

// New creates an empty MemTable.
func New() *MemTable {
	return &MemTable{
		skiplist: NewSkipList(compareEntries),
		refs:     1,
	}
}

func compareEntries(a, b []byte) int {
	aKey, _, _ := encoding.DecodeLengthPrefixedSlice(a)
	bKey, _, _ := encoding.DecodeLengthPrefixedSlice(b)
	return dbformat.Compare(aKey, bKey)
}

func buildEntry(internalKey dbformat.InternalKey, value []byte) []byte {
	entry := encoding.AppendLengthPrefixedSlice(nil, internalKey)
	return encoding.AppendLengthPrefixedSlice(entry, value)
}

// buildProbe builds a seek key containing only the internal-key prefix the
// comparator reads; it is never inserted, only searched for.
func buildProbe(internalKey dbformat.InternalKey) []byte {
	return encoding.AppendLengthPrefixedSlice(nil, internalKey)
}

// Ref increments the reference count. Held by every reader (including an
// iterator) for as long as it may still touch this table.
func (mt *MemTable) Ref() {
	atomic.AddInt32(&mt.refs, 1)
}

// Unref decrements the reference count and reports whether it dropped to
// zero, meaning the table's memory can be reclaimed.
func (mt *MemTable) Unref() bool {
	return atomic.AddInt32(&mt.refs, -1) == 0
}

// Add inserts (key, seq, kind, value) into the table. REQUIRES: no entry
// with the same (key, seq, kind) already exists.
func (mt *MemTable) Add(seq dbformat.SequenceNumber, kind dbformat.Kind, key, value []byte) {
	internalKey := dbformat.Encode(key, seq, kind)
	entry := buildEntry(internalKey, value)
	mt.skiplist.Insert(entry)
	atomic.AddInt64(&mt.memoryUsage, int64(len(entry)+skipNodeOverhead))
}

// skipNodeOverhead is a rough per-entry accounting charge for the skip
// list's node and pointer array, so ApproximateMemoryUsage tracks real
// memory pressure rather than just payload bytes.
const skipNodeOverhead = 64

// Get looks up key as of snapshot seq: the highest-sequence entry with
// sequence <= seq. found is false if no such entry exists in this table.
// When found and kind is KindTombstone, the key is deleted as of seq and
// value is nil.
func (mt *MemTable) Get(key []byte, seq dbformat.SequenceNumber) (value []byte, kind dbformat.Kind, found bool) {
	probe := buildProbe(dbformat.SeekKey(key, seq))

	it := mt.skiplist.NewIterator()
	it.Seek(probe)
	if !it.Valid() {
		return nil, 0, false
	}

	internalKey, rest, err := encoding.DecodeLengthPrefixedSlice(it.Key())
	if err != nil || dbformat.CompareUserKeys(internalKey, key) != 0 {
		return nil, 0, false
	}

	entryValue, _, err := encoding.DecodeLengthPrefixedSlice(rest)
	if err != nil {
		return nil, 0, false
	}

	entryKind := dbformat.ExtractKind(internalKey)
	if entryKind == dbformat.KindTombstone {
		return nil, entryKind, true
	}
	return entryValue, entryKind, true
}

// ApproximateMemoryUsage returns the table's estimated in-memory footprint
// in bytes.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return atomic.LoadInt64(&mt.memoryUsage)
}

// Count returns the number of entries in the table.
func (mt *MemTable) Count() int64 {
	return mt.skiplist.Count()
}

// Empty reports whether the table holds no entries.
func (mt *MemTable) Empty() bool {
	return mt.Count() == 0
}

// NewIterator returns an iterator over every entry in the table in
// internal-key order.
func (mt *MemTable) NewIterator() *MemTableIterator {
	return &MemTableIterator{skip: mt.skiplist.NewIterator()}
}

// MemTableIterator iterates over decoded (internal key, value) pairs. It
// wraps the skip list's raw-entry iterator, splitting each entry back into
// its internal key and value on every move.
type MemTableIterator struct {
	skip *Iterator

	key   []byte
	value []byte
	valid bool
}

func (it *MemTableIterator) Valid() bool   { return it.valid }
func (it *MemTableIterator) Key() []byte   { return it.key }
func (it *MemTableIterator) Value() []byte { return it.value }
func (it *MemTableIterator) Error() error  { return nil }

func (it *MemTableIterator) SeekToFirst() {
	it.skip.SeekToFirst()
	it.parse()
}

// Seek accepts an already-encoded internal key (the seek target the
// merging iterator and engine read path both build via dbformat.SeekKey),
// matching the iterator.Iterator contract shared with table.Iterator.
func (it *MemTableIterator) Seek(target []byte) {
	it.skip.Seek(buildProbe(target))
	it.parse()
}

func (it *MemTableIterator) Next() {
	it.skip.Next()
	it.parse()
}

func (it *MemTableIterator) parse() {
	if !it.skip.Valid() {
		it.valid = false
		it.key, it.value = nil, nil
		return
	}
	internalKey, rest, err := encoding.DecodeLengthPrefixedSlice(it.skip.Key())
	if err != nil {
		it.valid = false
		return
	}
	value, _, err := encoding.DecodeLengthPrefixedSlice(rest)
	if err != nil {
		it.valid = false
		return
	}
	it.key, it.value, it.valid = internalKey, value, true
}
