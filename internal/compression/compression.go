// Package compression implements the block-level compression named in the
// block codec (§4.3): none, snappy, and lz4. Each data block in an SST file
// carries a one-byte compression type alongside its compressed (or raw)
// payload so the reader knows how to invert it.
package compression

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Type identifies the compression algorithm applied to a block.
type Type uint8

const (
	// NoCompression stores the block payload unmodified.
	NoCompression Type = 0x0
	// SnappyCompression uses Google's Snappy codec.
	SnappyCompression Type = 0x1
	// LZ4Compression uses the LZ4 raw block format.
	LZ4Compression Type = 0x2
)

func (t Type) String() string {
	switch t {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case LZ4Compression:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// IsSupported reports whether t is a compression type this build understands.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, LZ4Compression:
		return true
	default:
		return false
	}
}

// Compress compresses data with t. Callers implementing the block codec's
// fallback rule should compare len(result) against len(data) and substitute
// NoCompression when compression did not shrink the payload (§4.3).
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Encode(nil, data), nil
	case LZ4Compression:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		var ht [1 << 16]int
		n, err := lz4.CompressBlock(data, dst, ht[:])
		if err != nil {
			return nil, fmt.Errorf("compression: lz4 compress: %w", err)
		}
		if n == 0 {
			// Incompressible input: lz4 signals this by writing nothing.
			return nil, nil
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

// Decompress reverses Compress. expectedSize, when known, sizes the LZ4
// output buffer directly; pass 0 to let lz4 grow the buffer until it fits.
func Decompress(t Type, data []byte, expectedSize int) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Decode(nil, data)
	case LZ4Compression:
		return decompressLZ4(data, expectedSize)
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

func decompressLZ4(data []byte, expectedSize int) ([]byte, error) {
	if expectedSize > 0 {
		dst := make([]byte, expectedSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("compression: lz4 uncompress: %w", err)
		}
		return dst[:n], nil
	}

	bufSize := max(len(data)*4, 256)
	for range 10 {
		dst := make([]byte, bufSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return dst[:n], nil
		}
		bufSize *= 2
	}
	return nil, fmt.Errorf("compression: lz4 uncompress: buffer too small after retries")
}
