// Package wal implements the write-ahead log described in §4.9: a durable,
// block-framed record stream that every write batch is appended to before
// it touches a memtable.
//
// A log file is a sequence of fixed-size 32 KiB blocks. A logical record is
// fragmented across block boundaries as needed; each physical fragment
// carries its own checksum, length, and type so a reader can detect and
// isolate corruption without trusting the rest of the file.
//
// Fragment format:
//
//	+-----------+-----------+------+---------+
//	| CRC32C(4) | Length(2) | Type | Payload |
//	+-----------+-----------+------+---------+
//
// CRC32C is computed over type + payload.
package wal

// BlockSize is the size of each block in the log file.
const BlockSize = 32768

// HeaderSize is the size of a fragment header: checksum(4) + length(2) + type(1).
const HeaderSize = 7

// MaxRecordPayload is the largest payload a single fragment can carry.
const MaxRecordPayload = BlockSize - HeaderSize

// RecordType identifies a fragment's place within its logical record.
type RecordType uint8

const (
	// ZeroType marks the zero padding left at the tail of a block when fewer
	// than HeaderSize bytes remain; it is never a real fragment.
	ZeroType RecordType = 0

	// FullType is a logical record that fits entirely within one fragment.
	FullType RecordType = 1

	// FirstType is the first fragment of a record spanning multiple blocks.
	FirstType RecordType = 2

	// MiddleType is an interior fragment of a multi-fragment record.
	MiddleType RecordType = 3

	// LastType is the final fragment of a multi-fragment record.
	LastType RecordType = 4
)

// String returns a human-readable name for t.
func (t RecordType) String() string {
	switch t {
	case ZeroType:
		return "ZeroType"
	case FullType:
		return "FullType"
	case FirstType:
		return "FirstType"
	case MiddleType:
		return "MiddleType"
	case LastType:
		return "LastType"
	default:
		return "UnknownType"
	}
}
