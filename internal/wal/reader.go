package wal

import (
	"errors"
	"io"

	"github.com/aalhour/rockyardkv/internal/checksum"
	"github.com/aalhour/rockyardkv/internal/encoding"
	"github.com/aalhour/rockyardkv/vfs"
)

// ErrCorruption is returned for a checksum failure or truncated fragment
// that is NOT at the end of the file — i.e. valid-looking data follows it.
// Recovery treats this as a hard error unless the reader is in permissive
// mode (§5: "a mid-log failure is corruption unless the caller opted into
// permissive mode").
var ErrCorruption = errors.New("wal: corrupted record")

// Reader reassembles logical records from a sequence of fragments, per
// §4.9. A checksum failure on the final fragment of the file is treated as
// a recoverable truncation (Recoverable() reports it) rather than an error;
// callers replaying a log after an unclean shutdown stop there instead of
// failing recovery.
type Reader struct {
	src        vfs.SequentialFile
	permissive bool

	backingStore []byte
	buffer       []byte
	eof          bool
	recoverable  bool

	fragments          []byte
	inFragmentedRecord bool
}

// NewReader creates a reader over src. In permissive mode, a checksum
// failure that is not at end-of-file drops the offending record and keeps
// reading instead of returning ErrCorruption.
func NewReader(src vfs.SequentialFile, permissive bool) *Reader {
	return &Reader{
		src:          src,
		permissive:   permissive,
		backingStore: make([]byte, BlockSize),
	}
}

// Recoverable reports whether the stream ended with a truncated or corrupt
// trailing fragment rather than a clean boundary.
func (r *Reader) Recoverable() bool {
	return r.recoverable
}

// ReadRecord returns the next logical record. It returns io.EOF once the
// log is exhausted (whether cleanly or via a recoverable trailing
// truncation — check Recoverable() to tell them apart).
func (r *Reader) ReadRecord() ([]byte, error) {
	r.fragments = r.fragments[:0]
	r.inFragmentedRecord = false

	for {
		recordType, fragment, err := r.readFragment()
		if err != nil {
			if errors.Is(err, io.EOF) && r.inFragmentedRecord {
				r.recoverable = true
				return nil, io.EOF
			}
			return nil, err
		}

		switch recordType {
		case FullType:
			return fragment, nil

		case FirstType:
			r.fragments = append(r.fragments[:0], fragment...)
			r.inFragmentedRecord = true

		case MiddleType:
			if !r.inFragmentedRecord {
				continue
			}
			r.fragments = append(r.fragments, fragment...)

		case LastType:
			if !r.inFragmentedRecord {
				continue
			}
			r.fragments = append(r.fragments, fragment...)
			r.inFragmentedRecord = false
			result := make([]byte, len(r.fragments))
			copy(result, r.fragments)
			return result, nil

		case ZeroType:
			continue
		}
	}
}

// readFragment reads and validates a single physical fragment.
func (r *Reader) readFragment() (RecordType, []byte, error) {
	for {
		if len(r.buffer) < HeaderSize {
			if r.eof {
				if len(r.buffer) > 0 {
					r.recoverable = true
				}
				return 0, nil, io.EOF
			}

			n, err := io.ReadFull(r.src, r.backingStore)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					r.eof = true
					if n == 0 {
						return 0, nil, io.EOF
					}
				} else {
					return 0, nil, err
				}
			}
			r.buffer = r.backingStore[:n]
		}

		if len(r.buffer) < HeaderSize {
			r.recoverable = true
			r.buffer = nil
			return 0, nil, io.EOF
		}

		header := r.buffer[:HeaderSize]
		crcStored := encoding.DecodeFixed32(header[0:4])
		length := int(encoding.DecodeFixed16(header[4:6]))
		recordType := RecordType(header[6])

		if len(r.buffer) < HeaderSize+length {
			// Truncated fragment: recoverable only if nothing valid follows.
			if r.eof {
				r.recoverable = true
				r.buffer = nil
				return 0, nil, io.EOF
			}
			if !r.permissive {
				return 0, nil, ErrCorruption
			}
			r.buffer = nil
			continue
		}

		if recordType == ZeroType && length == 0 {
			r.buffer = r.buffer[HeaderSize:]
			continue
		}

		payload := r.buffer[HeaderSize : HeaderSize+length]
		crc := checksum.Extend(checksum.Value([]byte{byte(recordType)}), payload)
		if crc != crcStored {
			if r.eof && len(r.buffer) == HeaderSize+length {
				r.recoverable = true
				r.buffer = nil
				return 0, nil, io.EOF
			}
			if !r.permissive {
				return 0, nil, ErrCorruption
			}
			r.buffer = r.buffer[HeaderSize+length:]
			continue
		}

		result := make([]byte, length)
		copy(result, payload)
		r.buffer = r.buffer[HeaderSize+length:]
		return recordType, result, nil
	}
}
