// Package dbformat implements the internal key codec: the encoding that
// turns a (user key, sequence number, entry kind) triple into a single
// byte string whose plain lexicographic order already matches the order
// readers need — user key ascending, then sequence descending, then kind.
//
// Encoding: user_key || 0x00 || be64(MaxUint64-sequence) || kind_byte.
// Reversing the sequence number before encoding it big-endian means a
// newer version of a key sorts before an older one without any special
// comparator: plain bytes.Compare on the whole encoded key is correct.
//
// The 0x00 separator keeps one user key from being a prefix of another
// and blending into its trailer, but it is ambiguous when a user key
// itself contains a 0x00 byte — the decoder still locates the trailer by
// fixed offset from the end, so such a key's trailing bytes will resemble
// a separator without being the one the encoder inserted. This package
// follows the source-compatible form and does not work around it.
package dbformat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SequenceNumber is the monotonically increasing counter allocated per
// mutation; never reused.
type SequenceNumber uint64

// MaxSequenceNumber is the largest sequence number the engine will assign.
const MaxSequenceNumber SequenceNumber = math.MaxUint64

// Kind is an entry's kind: a value or a tombstone marking a deletion.
type Kind uint8

const (
	// KindValue marks a live value.
	KindValue Kind = 0
	// KindTombstone marks a deletion.
	KindTombstone Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// separator is the byte inserted between the user key and the trailer.
const separator byte = 0x00

// trailerLen is the number of bytes appended after the user key: one
// separator byte, an 8-byte reversed sequence number, and one kind byte.
const trailerLen = 1 + 8 + 1

var (
	// ErrKeyTooShort is returned when an encoded key is shorter than a trailer.
	ErrKeyTooShort = errors.New("dbformat: internal key shorter than trailer")
	// ErrInvalidKind is returned when a decoded kind byte is not a known Kind.
	ErrInvalidKind = errors.New("dbformat: invalid entry kind")
)

// ParsedInternalKey is the decoded form of an internal key.
type ParsedInternalKey struct {
	UserKey  []byte
	Sequence SequenceNumber
	Kind     Kind
}

func (p ParsedInternalKey) String() string {
	return fmt.Sprintf("%q@%d:%s", p.UserKey, p.Sequence, p.Kind)
}

// EncodedLen returns the length of p's encoded form.
func (p ParsedInternalKey) EncodedLen() int {
	return len(p.UserKey) + trailerLen
}

// Append encodes p and appends it to dst, returning the extended slice.
func Append(dst []byte, p ParsedInternalKey) []byte {
	dst = append(dst, p.UserKey...)
	dst = append(dst, separator)
	dst = binary.BigEndian.AppendUint64(dst, uint64(MaxSequenceNumber-p.Sequence))
	dst = append(dst, byte(p.Kind))
	return dst
}

// Encode is a convenience wrapper returning a fresh internal key.
func Encode(userKey []byte, seq SequenceNumber, kind Kind) InternalKey {
	return Append(make([]byte, 0, len(userKey)+trailerLen), ParsedInternalKey{
		UserKey:  userKey,
		Sequence: seq,
		Kind:     kind,
	})
}

// Parse decodes an internal key. It returns ErrKeyTooShort if key is
// shorter than a bare trailer, and ErrInvalidKind if the kind byte is
// unrecognized.
func Parse(key []byte) (ParsedInternalKey, error) {
	n := len(key)
	if n < trailerLen {
		return ParsedInternalKey{}, ErrKeyTooShort
	}
	kind := Kind(key[n-1])
	if kind != KindValue && kind != KindTombstone {
		return ParsedInternalKey{}, ErrInvalidKind
	}
	reversed := binary.BigEndian.Uint64(key[n-trailerLen+1 : n-1])
	return ParsedInternalKey{
		UserKey:  key[:n-trailerLen],
		Sequence: MaxSequenceNumber - SequenceNumber(reversed),
		Kind:     kind,
	}, nil
}

// InternalKey is an encoded (user key, sequence, kind) triple.
type InternalKey []byte

// UserKey returns the user-key prefix of an encoded internal key.
// REQUIRES: len(key) >= trailer length.
func UserKey(key []byte) []byte {
	if len(key) < trailerLen {
		return nil
	}
	return key[:len(key)-trailerLen]
}

// ExtractKind returns the kind byte of an encoded internal key.
func ExtractKind(key []byte) Kind {
	if len(key) < trailerLen {
		return Kind(0xFF)
	}
	return Kind(key[len(key)-1])
}

// ExtractSequence returns the sequence number of an encoded internal key.
func ExtractSequence(key []byte) SequenceNumber {
	if len(key) < trailerLen {
		return 0
	}
	n := len(key)
	reversed := binary.BigEndian.Uint64(key[n-trailerLen+1 : n-1])
	return MaxSequenceNumber - SequenceNumber(reversed)
}

// Compare orders two encoded internal keys. Because the sequence number
// is stored reversed and big-endian, plain byte comparison of the whole
// encoded key already produces: user key ascending, sequence descending,
// kind ascending — exactly the order described in the key codec.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// CompareUserKeys compares the user-key portion of two encoded internal
// keys, ignoring sequence and kind.
func CompareUserKeys(a, b []byte) int {
	return bytes.Compare(UserKey(a), UserKey(b))
}

// SeekKey returns the internal key to seek to in order to find the first
// entry at or before snapshot seq for userKey: the encoding whose trailer
// sorts earliest among all entries at that sequence, so a forward scan
// from it lands on the highest sequence ≤ seq.
func SeekKey(userKey []byte, seq SequenceNumber) InternalKey {
	return Encode(userKey, seq, KindValue)
}
