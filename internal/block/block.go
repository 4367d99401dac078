// Package block implements the block codec (§4.3): a sequence of
// prefix-compressed entries with periodic restart points, followed by a
// restart-point array, wrapped on disk in a compression-type byte and a
// CRC32C trailer.
package block

import (
	"encoding/binary"
	"errors"

	"github.com/aalhour/rockyardkv/internal/checksum"
	"github.com/aalhour/rockyardkv/internal/compression"
	"github.com/aalhour/rockyardkv/internal/encoding"
)

var (
	// ErrBadBlockHandle is returned when a block handle is corrupted.
	ErrBadBlockHandle = errors.New("block: bad block handle")
	// ErrBadBlockFooter is returned when the SST footer is corrupted.
	ErrBadBlockFooter = errors.New("block: bad footer")
	// ErrBadBlock is returned when block contents are corrupted.
	ErrBadBlock = errors.New("block: corrupted block")
	// ErrChecksumMismatch is returned when a block's on-disk checksum doesn't match.
	ErrChecksumMismatch = errors.New("block: checksum mismatch")
)

// TrailerSize is the number of bytes following a block's payload on disk:
// one compression-type byte and a four-byte big-endian CRC32C.
const TrailerSize = 1 + 4

// Encode compresses payload (the raw, uncompressed block bytes) with
// preferredCompression and appends the on-disk trailer. If compression
// would not shrink the payload, it falls back to NoCompression.
func Encode(payload []byte, preferredCompression compression.Type) ([]byte, error) {
	compressed := payload
	ctype := compression.NoCompression
	if preferredCompression != compression.NoCompression {
		c, err := compression.Compress(preferredCompression, payload)
		if err != nil {
			return nil, err
		}
		if c != nil && len(c) < len(payload) {
			compressed = c
			ctype = preferredCompression
		}
	}

	out := make([]byte, len(compressed)+TrailerSize)
	copy(out, compressed)
	out[len(compressed)] = byte(ctype)
	crc := checksum.Value(out[:len(compressed)+1])
	binary.BigEndian.PutUint32(out[len(compressed)+1:], crc)
	return out, nil
}

// Decode verifies the trailer's checksum and decompresses raw into the
// original block payload. raw includes the trailer.
func Decode(raw []byte, uncompressedSizeHint int) ([]byte, error) {
	if len(raw) < TrailerSize {
		return nil, ErrBadBlock
	}
	body := raw[:len(raw)-4]
	gotCRC := checksum.Value(body)
	storedCRC := binary.BigEndian.Uint32(raw[len(raw)-4:])
	if gotCRC != storedCRC {
		return nil, ErrChecksumMismatch
	}

	ctype := compression.Type(body[len(body)-1])
	payload := body[:len(body)-1]
	return compression.Decompress(ctype, payload, uncompressedSizeHint)
}

// Block is a parsed, decompressed block ready for iteration.
type Block struct {
	data        []byte // entries, up to the restart array
	restarts    []byte // the restart-point array, 4 bytes each
	numRestarts int
}

// Parse interprets decompressed block bytes: entries followed by
// numRestarts little-endian uint32 restart offsets followed by a final
// little-endian uint32 restart count.
func Parse(data []byte) (*Block, error) {
	if len(data) < 4 {
		return nil, ErrBadBlock
	}
	numRestarts := int(encoding.DecodeFixed32(data[len(data)-4:]))
	restartsSize := (numRestarts + 1) * 4
	if numRestarts < 0 || restartsSize > len(data) {
		return nil, ErrBadBlock
	}
	restartsOffset := len(data) - restartsSize
	return &Block{
		data:        data[:restartsOffset],
		restarts:    data[restartsOffset : len(data)-4],
		numRestarts: numRestarts,
	}, nil
}

// NumRestarts returns the number of restart points.
func (b *Block) NumRestarts() int {
	return b.numRestarts
}

func (b *Block) restartOffset(i int) int {
	return int(encoding.DecodeFixed32(b.restarts[i*4:]))
}

// Iterator walks a block's entries in key order.
type Iterator struct {
	block   *Block
	current int // offset of the current entry
	next    int // offset just past the current entry
	key     []byte
	value   []byte
	valid   bool
	err     error
}

// NewIterator returns an iterator over b, initially invalid.
func (b *Block) NewIterator() *Iterator {
	return &Iterator{block: b}
}

func (it *Iterator) Valid() bool   { return it.valid && it.err == nil }
func (it *Iterator) Key() []byte   { return it.key }
func (it *Iterator) Value() []byte { return it.value }
func (it *Iterator) Error() error  { return it.err }

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.key = it.key[:0]
	it.current, it.next = 0, 0
	it.Next()
}

// Next advances linearly to the next entry.
func (it *Iterator) Next() {
	if it.err != nil {
		it.valid = false
		return
	}
	if it.next >= len(it.block.data) {
		it.valid = false
		return
	}
	it.current = it.next
	it.parseEntryAt(it.current)
}

func (it *Iterator) parseEntryAt(offset int) {
	data := it.block.data[offset:]

	shared, n1, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	data = data[n1:]

	unshared, n2, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	data = data[n2:]

	valueLen, n3, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	data = data[n3:]

	if int(shared) > len(it.key) || len(data) < int(unshared)+int(valueLen) {
		it.err = ErrBadBlock
		it.valid = false
		return
	}

	it.key = append(it.key[:shared], data[:unshared]...)
	data = data[unshared:]
	it.value = data[:valueLen]

	consumed := n1 + n2 + n3 + int(unshared) + int(valueLen)
	it.next = offset + consumed
	it.valid = true
}

// seekToRestart repositions the iterator (not yet valid) at restart point i.
func (it *Iterator) seekToRestart(i int) {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	offset := max(it.block.restartOffset(i), 0)
	it.current, it.next = offset, offset
}

// Seek positions the iterator at the first entry whose key is >= target,
// using binary search over restart points followed by a linear scan,
// as required by the block codec.
func (it *Iterator) Seek(target []byte, compare func(a, b []byte) int) {
	left, right := 0, it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		it.seekToRestart(mid)
		it.Next()
		if !it.Valid() || compare(it.key, target) > 0 {
			right = mid - 1
		} else {
			left = mid
		}
	}

	it.seekToRestart(left)
	for {
		it.Next()
		if !it.Valid() {
			return
		}
		if compare(it.key, target) >= 0 {
			return
		}
	}
}
