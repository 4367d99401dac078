// Package filter implements the bloom filter attached to each SST file's
// index (§4.2): a builder that accumulates user keys and produces a bit
// array, and a reader that probes it. Both hash a key once via XXH3 down
// to a 32-bit seed and derive the two probe hashes from that single seed
// by rotation, rather than computing two independent hash functions.
package filter

import (
	"math"

	"github.com/zeebo/xxh3"
)

// minBits is the smallest bit-array size, even for an empty or tiny key set.
const minBits = 64

// Builder accumulates user keys and produces a bloom filter.
type Builder struct {
	bitsPerKey int
	seeds      []uint32
}

// NewBuilder returns a builder targeting bitsPerKey bits of filter state
// per key added (about 1% false-positive rate at 10 bits/key).
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return &Builder{bitsPerKey: bitsPerKey}
}

// AddKey records a user key to be included in the filter.
func (b *Builder) AddKey(key []byte) {
	b.seeds = append(b.seeds, seedHash(key))
}

// NumKeys returns the number of keys added so far.
func (b *Builder) NumKeys() int {
	return len(b.seeds)
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.seeds = b.seeds[:0]
}

// numProbes returns k = clamp(round(bitsPerKey * ln2), 1, 30).
func numProbes(bitsPerKey int) int {
	k := int(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}

// Finish builds the filter for all keys added so far, appends the number
// of probes as the final byte, and resets the builder.
func (b *Builder) Finish() []byte {
	k := numProbes(b.bitsPerKey)

	numBits := len(b.seeds) * b.bitsPerKey
	if numBits < minBits {
		numBits = minBits
	}
	numBytes := (numBits + 7) / 8
	numBits = numBytes * 8

	data := make([]byte, numBytes+1)
	for _, seed := range b.seeds {
		h := seed
		delta := (h >> 17) | (h << 15)
		for range k {
			bitpos := h % uint32(numBits)
			data[bitpos/8] |= 1 << (bitpos % 8)
			h += delta
		}
	}
	data[numBytes] = byte(k)

	b.seeds = b.seeds[:0]
	return data
}

// seedHash derives a 32-bit probe seed from a user key via XXH3.
func seedHash(key []byte) uint32 {
	return uint32(xxh3.Hash(key))
}

// MayContain reports whether key may be present in a filter produced by
// Builder.Finish. false means key is definitely absent; true means it
// might be present.
func MayContain(filter, key []byte) bool {
	if len(filter) < 1 {
		return false
	}
	k := int(filter[len(filter)-1])
	bits := filter[:len(filter)-1]
	numBits := len(bits) * 8
	if numBits == 0 || k == 0 {
		return k == 0
	}

	h := seedHash(key)
	delta := (h >> 17) | (h << 15)
	for range k {
		bitpos := h % uint32(numBits)
		if bits[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}
