package wal

import (
	"github.com/aalhour/rockyardkv/internal/checksum"
	"github.com/aalhour/rockyardkv/internal/encoding"
	"github.com/aalhour/rockyardkv/vfs"
)

// Writer appends logical records to an open log file, fragmenting each one
// across block boundaries per §4.9.
type Writer struct {
	dest        vfs.WritableFile
	blockOffset int
	sync        bool

	typeCRC [LastType + 1]uint32
}

// NewWriter creates a writer appending to dest. When sync is true, Commit
// forces the underlying file to stable storage.
func NewWriter(dest vfs.WritableFile, sync bool) *Writer {
	w := &Writer{dest: dest, sync: sync}
	for i := range w.typeCRC {
		w.typeCRC[i] = checksum.Value([]byte{byte(i)})
	}
	return w
}

// AddRecord writes data as one logical record, fragmenting it across block
// boundaries as needed. Even an empty record emits one zero-length fragment.
func (w *Writer) AddRecord(data []byte) error {
	left := len(data)
	begin := true

	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			if leftover > 0 {
				if _, err := w.dest.Write(make([]byte, leftover)); err != nil {
					return err
				}
			}
			w.blockOffset = 0
			leftover = BlockSize
		}

		avail := leftover - HeaderSize
		fragmentLen := left
		if fragmentLen > avail {
			fragmentLen = avail
		}

		end := left == fragmentLen
		var recordType RecordType
		switch {
		case begin && end:
			recordType = FullType
		case begin:
			recordType = FirstType
		case end:
			recordType = LastType
		default:
			recordType = MiddleType
		}

		offset := len(data) - left
		if err := w.emitFragment(recordType, data[offset:offset+fragmentLen]); err != nil {
			return err
		}

		left -= fragmentLen
		begin = false
		if left == 0 {
			break
		}
	}

	return nil
}

// emitFragment writes a single physical fragment: the pre-sized header
// buffer means exactly HeaderSize+len(payload) bytes reach dest.Write.
func (w *Writer) emitFragment(t RecordType, payload []byte) error {
	buf := make([]byte, HeaderSize+len(payload))
	crc := checksum.Extend(w.typeCRC[t], payload)
	encoding.EncodeFixed32(buf[0:4], crc)
	encoding.EncodeFixed16(buf[4:6], uint16(len(payload)))
	buf[6] = byte(t)
	copy(buf[HeaderSize:], payload)

	if _, err := w.dest.Write(buf); err != nil {
		return err
	}
	w.blockOffset += len(buf)
	return nil
}

// Commit flushes a just-written record to the caller's durability
// requirement: it syncs the file when the writer was built with sync=true.
func (w *Writer) Commit() error {
	if !w.sync {
		return nil
	}
	return w.dest.Sync()
}

// BlockOffset returns the writer's current offset within the active block.
func (w *Writer) BlockOffset() int {
	return w.blockOffset
}
