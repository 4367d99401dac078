// footer.go implements the fixed-size footer at the end of every SST file
// (§4.4): the meta-index handle, the index handle, zero padding out to 48
// bytes, and an 8-byte magic number.
package block

import (
	"encoding/binary"
)

// Magic is the 8-byte number identifying an lsmkv SST file.
const Magic uint64 = 0x88e3f3fb2af1ecd7

// FooterLen is the fixed, on-disk footer size.
const FooterLen = 48

// Footer is the fixed trailer every SST file ends with.
type Footer struct {
	MetaIndexHandle Handle
	IndexHandle     Handle
}

// EncodeTo serializes f into a FooterLen-byte buffer: both handles
// (varint-encoded), zero padding, then the magic number.
func (f Footer) EncodeTo() []byte {
	buf := make([]byte, FooterLen)
	n := 0
	n += copy(buf[n:], f.MetaIndexHandle.EncodeToSlice())
	n += copy(buf[n:], f.IndexHandle.EncodeToSlice())
	for i := n; i < FooterLen-8; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[FooterLen-8:], Magic)
	return buf
}

// DecodeFooter parses a FooterLen-byte buffer back into a Footer,
// verifying the magic number.
func DecodeFooter(data []byte) (Footer, error) {
	if len(data) != FooterLen {
		return Footer{}, ErrBadBlockFooter
	}
	magic := binary.LittleEndian.Uint64(data[FooterLen-8:])
	if magic != Magic {
		return Footer{}, ErrBadBlockFooter
	}

	metaIndexHandle, rest, err := DecodeHandle(data)
	if err != nil {
		return Footer{}, ErrBadBlockFooter
	}
	indexHandle, _, err := DecodeHandle(rest)
	if err != nil {
		return Footer{}, ErrBadBlockFooter
	}

	return Footer{MetaIndexHandle: metaIndexHandle, IndexHandle: indexHandle}, nil
}
