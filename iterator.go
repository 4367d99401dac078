package rockyardkv

// iterator.go implements DB.NewIterator (§4.11): a forward-only cursor over
// a partition's keys as of a fixed read sequence.
//
// The merge itself is built on internal/iterator's RawMergingIterator, which
// preserves every version of every key instead of collapsing to the newest.
// A cursor bound to a fixed read sequence can't use the newest version
// unconditionally: by the time it reaches a given user key, a write newer
// than readSeq may already have shadowed the version that sequence is
// entitled to see, and the collapsed stream would have no way to fall back
// to it. This wrapper instead walks the raw, duplicate-preserving stream
// itself and applies the same per-user-key suppression rule compaction's
// processEntries applies when collapsing versions, but bounded by readSeq:
// skip any entry newer than readSeq, then take the first remaining entry for
// each user key (live or tombstone) and skip every older entry sharing that
// key.

import (
	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/iterator"
)

// Iterator is a forward-only cursor over a partition's keys, as of a fixed
// read sequence, with every version older than the one current as of that
// sequence suppressed and every tombstone hidden.
type Iterator struct {
	raw     *iterator.RawMergingIterator
	readSeq dbformat.SequenceNumber
	release func()

	valid bool
	key   []byte
	value []byte
	err   error
}

// NewIterator returns an iterator over partitionID as of ro's snapshot, or
// the engine's current sequence if ro has none. The caller must call
// Close when done to release the table handles it holds open.
func (db *DB) NewIterator(partitionID uint32, ro *ReadOptions) (*Iterator, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if ro == nil {
		ro = DefaultReadOptions()
	}
	if _, ok := db.partitions.Get(partitionID); !ok {
		return nil, ErrInvalidArgument
	}

	children, release, err := db.openChildren(partitionID)
	if err != nil {
		return nil, err
	}

	return &Iterator{
		raw:     iterator.NewRawMergingIterator(children),
		readSeq: db.readSequence(ro),
		release: release,
	}, nil
}

// SeekToFirst positions the iterator at the smallest live key.
func (it *Iterator) SeekToFirst() {
	it.raw.SeekToFirst()
	it.settle()
}

// Seek positions the iterator at the smallest live key >= key.
func (it *Iterator) Seek(key []byte) {
	it.raw.Seek(dbformat.SeekKey(key, it.readSeq))
	it.settle()
}

// Next advances to the next live key.
func (it *Iterator) Next() {
	if !it.valid {
		return
	}
	it.advancePastCurrentUserKey()
	it.settle()
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current entry's user key. Only valid while Valid().
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current entry's value. Only valid while Valid().
func (it *Iterator) Value() []byte { return it.value }

// Error returns the first error encountered reading an underlying source,
// if any.
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.raw.Error()
}

// Close releases the table handles this iterator's children hold open.
// The iterator must not be used afterward.
func (it *Iterator) Close() error {
	it.release()
	return it.Error()
}

// settle advances past every entry newer than readSeq and every entry
// shadowed by an already-exposed newer version of the same key, landing on
// either a live, seq-qualifying entry or the end of the stream.
func (it *Iterator) settle() {
	for {
		if !it.skipNewerThanReadSeq() {
			it.valid = false
			return
		}

		userKey := dbformat.UserKey(it.raw.Key())
		kind := dbformat.ExtractKind(it.raw.Key())
		value := it.raw.Value()

		it.advancePastCurrentUserKey()

		if kind == dbformat.KindTombstone {
			continue
		}
		it.key = append([]byte(nil), userKey...)
		it.value = append([]byte(nil), value...)
		it.valid = true
		return
	}
}

// skipNewerThanReadSeq advances past any entry whose sequence exceeds
// readSeq, leaving the cursor on the first qualifying entry (or invalid).
func (it *Iterator) skipNewerThanReadSeq() bool {
	for it.raw.Valid() {
		if dbformat.ExtractSequence(it.raw.Key()) <= it.readSeq {
			return true
		}
		it.raw.Next()
	}
	return false
}

// advancePastCurrentUserKey moves past every remaining version (of any
// sequence) of the user key the cursor is currently on, so each call to
// settle starts fresh on the next distinct key.
func (it *Iterator) advancePastCurrentUserKey() {
	if !it.raw.Valid() {
		return
	}
	currentUserKey := append([]byte(nil), dbformat.UserKey(it.raw.Key())...)
	for it.raw.Valid() && dbformat.CompareUserKeys(it.raw.Key(), currentUserKey) == 0 {
		it.raw.Next()
	}
}
