// Package batch implements §6's write-record payload: the wire format an
// atomic multi-operation Write() call is encoded into before it goes to
// the WAL, and decoded back out of during recovery and replay.
//
// Wire format:
//
//	Header (12 bytes):
//	  - 8 bytes: sequence number (little-endian uint64)
//	  - 4 bytes: count (little-endian uint32)
//	Records (repeated, count of them):
//	  - 4 bytes: partition id (little-endian uint32)
//	  - 1 byte: kind (0 = value, 1 = tombstone)
//	  - 4 bytes: key length (little-endian uint32), then the key
//	  - (value kind only) 4 bytes: value length, then the value
package batch

import (
	"encoding/binary"
	"errors"

	"github.com/aalhour/rockyardkv/internal/dbformat"
)

// HeaderSize is the size in bytes of a batch's header (8-byte sequence,
// 4-byte count).
const HeaderSize = 12

// recordHeaderSize is the fixed portion preceding a key: partition id (4)
// plus kind (1).
const recordHeaderSize = 5

var (
	// ErrCorrupted indicates a malformed batch payload.
	ErrCorrupted = errors.New("batch: corrupted write batch")

	// ErrTooSmall indicates the batch is smaller than the header.
	ErrTooSmall = errors.New("batch: too small")
)

// WriteBatch accumulates Put/Delete operations, across any number of
// partitions, for atomic application: one WAL record, one span of
// sequence numbers, one all-or-nothing memtable insert.
type WriteBatch struct {
	data  []byte
	count uint32
}

// New returns an empty WriteBatch with its sequence number unset — the
// engine assigns it just before the batch is written to the log.
func New() *WriteBatch {
	return &WriteBatch{data: make([]byte, HeaderSize)}
}

// NewFromData wraps an already-encoded payload, as read back from the WAL.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	wb := &WriteBatch{data: data, count: binary.LittleEndian.Uint32(data[8:12])}
	return wb, nil
}

// Clear resets the batch to empty, preserving no prior sequence number.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	wb.count = 0
	binary.LittleEndian.PutUint64(wb.data[0:8], 0)
	binary.LittleEndian.PutUint32(wb.data[8:12], 0)
}

// Data returns the raw encoded payload, ready to hand to the WAL writer.
func (wb *WriteBatch) Data() []byte { return wb.data }

// Clone returns a deep copy.
func (wb *WriteBatch) Clone() *WriteBatch {
	clone := make([]byte, len(wb.data))
	copy(clone, wb.data)
	return &WriteBatch{data: clone, count: wb.count}
}

// Size returns the encoded payload size in bytes.
func (wb *WriteBatch) Size() int { return len(wb.data) }

// Count returns the number of operations recorded in the batch.
func (wb *WriteBatch) Count() uint32 { return wb.count }

// Sequence returns the sequence number assigned to the batch's first
// operation; later operations occupy seq+1, seq+2, and so on.
func (wb *WriteBatch) Sequence() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(binary.LittleEndian.Uint64(wb.data[0:8]))
}

// SetSequence stamps the batch's starting sequence number.
func (wb *WriteBatch) SetSequence(seq dbformat.SequenceNumber) {
	binary.LittleEndian.PutUint64(wb.data[0:8], uint64(seq))
}

// Put appends a value write against partitionID.
func (wb *WriteBatch) Put(partitionID uint32, key, value []byte) {
	wb.data = appendUint32(wb.data, partitionID)
	wb.data = append(wb.data, byte(dbformat.KindValue))
	wb.data = appendLengthPrefixed(wb.data, key)
	wb.data = appendLengthPrefixed(wb.data, value)
	wb.incrementCount()
}

// Delete appends a tombstone write against partitionID.
func (wb *WriteBatch) Delete(partitionID uint32, key []byte) {
	wb.data = appendUint32(wb.data, partitionID)
	wb.data = append(wb.data, byte(dbformat.KindTombstone))
	wb.data = appendLengthPrefixed(wb.data, key)
	wb.incrementCount()
}

// Append concatenates src's operations onto wb, ignoring src's sequence
// number.
func (wb *WriteBatch) Append(src *WriteBatch) {
	if src.Count() == 0 {
		return
	}
	wb.data = append(wb.data, src.data[HeaderSize:]...)
	wb.count += src.count
}

func (wb *WriteBatch) incrementCount() {
	wb.count++
	binary.LittleEndian.PutUint32(wb.data[8:12], wb.count)
}

// Op is one decoded operation from a batch, with the sequence number it
// was assigned during iteration (Sequence()+offset within the batch).
type Op struct {
	PartitionID uint32
	Kind        dbformat.Kind
	Key         []byte
	Value       []byte
	Sequence    dbformat.SequenceNumber
}

// Handler receives each decoded operation in order, along with its
// assigned sequence number.
type Handler interface {
	Put(partitionID uint32, seq dbformat.SequenceNumber, key, value []byte) error
	Delete(partitionID uint32, seq dbformat.SequenceNumber, key []byte) error
}

// Iterate decodes every operation in the batch in order and calls handler,
// assigning sequence numbers starting at Sequence().
func (wb *WriteBatch) Iterate(handler Handler) error {
	if len(wb.data) < HeaderSize {
		return ErrTooSmall
	}

	data := wb.data[HeaderSize:]
	seq := wb.Sequence()

	for len(data) > 0 {
		if len(data) < recordHeaderSize {
			return ErrCorrupted
		}
		partitionID := binary.LittleEndian.Uint32(data[0:4])
		kind := dbformat.Kind(data[4])
		data = data[recordHeaderSize:]

		key, rest, err := decodeLengthPrefixed(data)
		if err != nil {
			return err
		}
		data = rest

		switch kind {
		case dbformat.KindValue:
			value, rest, err := decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			data = rest
			if err := handler.Put(partitionID, seq, key, value); err != nil {
				return err
			}
		case dbformat.KindTombstone:
			if err := handler.Delete(partitionID, seq, key); err != nil {
				return err
			}
		default:
			return ErrCorrupted
		}
		seq++
	}
	return nil
}

// Ops decodes the batch into a flat slice, assigning sequence numbers
// starting at Sequence(). Convenience wrapper around Iterate for callers
// that want the whole batch materialized rather than a streaming handler.
func (wb *WriteBatch) Ops() ([]Op, error) {
	var ops []Op
	err := wb.Iterate(opCollector(func(op Op) error {
		ops = append(ops, op)
		return nil
	}))
	return ops, err
}

type opCollector func(Op) error

func (f opCollector) Put(partitionID uint32, seq dbformat.SequenceNumber, key, value []byte) error {
	return f(Op{PartitionID: partitionID, Kind: dbformat.KindValue, Key: key, Value: value, Sequence: seq})
}

func (f opCollector) Delete(partitionID uint32, seq dbformat.SequenceNumber, key []byte) error {
	return f(Op{PartitionID: partitionID, Kind: dbformat.KindTombstone, Key: key, Sequence: seq})
}

func appendUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func appendLengthPrefixed(dst, v []byte) []byte {
	dst = appendUint32(dst, uint32(len(v)))
	return append(dst, v...)
}

func decodeLengthPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, ErrCorrupted
	}
	length := binary.LittleEndian.Uint32(data[0:4])
	data = data[4:]
	if uint64(len(data)) < uint64(length) {
		return nil, nil, ErrCorrupted
	}
	return data[:length], data[length:], nil
}
