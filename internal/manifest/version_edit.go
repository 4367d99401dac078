package manifest

import (
	"errors"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/encoding"
)

// Errors returned while decoding a VersionEdit.
var (
	ErrUnexpectedEndOfInput = errors.New("manifest: unexpected end of input")
	ErrUnknownTag           = errors.New("manifest: unknown tag")
)

// FileMetaData describes one table file as recorded in a version edit and
// held by a Version's per-level file lists.
type FileMetaData struct {
	FileNumber    uint64
	FileSize      uint64
	Smallest      dbformat.InternalKey
	Largest       dbformat.InternalKey
	SmallestSeqno dbformat.SequenceNumber
	LargestSeqno  dbformat.SequenceNumber

	// BeingCompacted is runtime state, never persisted: set while a
	// compaction has selected this file as an input.
	BeingCompacted bool
}

// NewFileEntry is one "add file" edit: a file placed at level in partition.
type NewFileEntry struct {
	PartitionID uint32
	Level       int
	Meta        *FileMetaData
}

// DeletedFileEntry is one "delete file" edit.
type DeletedFileEntry struct {
	PartitionID uint32
	Level       int
	FileNumber  uint64
}

// CompactPointerEntry records the per-level compaction cursor: the smallest
// key greater than the last key compacted out of that level, per §4.13's
// file-selection rule.
type CompactPointerEntry struct {
	PartitionID uint32
	Level       int
	Key         dbformat.InternalKey
}

// PartitionEntry is a create or drop edit for a partition (column family).
type PartitionEntry struct {
	PartitionID uint32
	Name        string
}

// VersionEdit accumulates the fields of one manifest record: the delta
// log_and_apply applies to build the next Version.
type VersionEdit struct {
	Comparator    string
	HasComparator bool

	LogNumber    uint64
	HasLogNumber bool

	NextFileNumber    uint64
	HasNextFileNumber bool

	LastSequence    dbformat.SequenceNumber
	HasLastSequence bool

	CompactPointers []CompactPointerEntry
	DeletedFiles    []DeletedFileEntry
	NewFiles        []NewFileEntry

	PartitionCreates []PartitionEntry
	PartitionDrops   []uint32
}

// NewVersionEdit returns an empty VersionEdit.
func NewVersionEdit() *VersionEdit {
	return &VersionEdit{}
}

// Clear resets the edit to its zero value so it can be reused.
func (ve *VersionEdit) Clear() {
	*ve = VersionEdit{}
}

func (ve *VersionEdit) SetComparatorName(name string) {
	ve.Comparator = name
	ve.HasComparator = true
}

func (ve *VersionEdit) SetLogNumber(num uint64) {
	ve.LogNumber = num
	ve.HasLogNumber = true
}

func (ve *VersionEdit) SetNextFileNumber(num uint64) {
	ve.NextFileNumber = num
	ve.HasNextFileNumber = true
}

func (ve *VersionEdit) SetLastSequence(seq dbformat.SequenceNumber) {
	ve.LastSequence = seq
	ve.HasLastSequence = true
}

func (ve *VersionEdit) SetCompactPointer(partitionID uint32, level int, key dbformat.InternalKey) {
	ve.CompactPointers = append(ve.CompactPointers, CompactPointerEntry{
		PartitionID: partitionID, Level: level, Key: key,
	})
}

func (ve *VersionEdit) DeleteFile(partitionID uint32, level int, fileNumber uint64) {
	ve.DeletedFiles = append(ve.DeletedFiles, DeletedFileEntry{
		PartitionID: partitionID, Level: level, FileNumber: fileNumber,
	})
}

func (ve *VersionEdit) AddFile(partitionID uint32, level int, meta *FileMetaData) {
	ve.NewFiles = append(ve.NewFiles, NewFileEntry{
		PartitionID: partitionID, Level: level, Meta: meta,
	})
}

func (ve *VersionEdit) CreatePartition(partitionID uint32, name string) {
	ve.PartitionCreates = append(ve.PartitionCreates, PartitionEntry{PartitionID: partitionID, Name: name})
}

func (ve *VersionEdit) DropPartition(partitionID uint32) {
	ve.PartitionDrops = append(ve.PartitionDrops, partitionID)
}

// EncodeTo appends the edit's tagged-field encoding to dst.
func (ve *VersionEdit) EncodeTo(dst []byte) []byte {
	if ve.HasComparator {
		dst = encoding.AppendVarint32(dst, uint32(TagComparator))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.Comparator))
	}
	if ve.HasLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagLogNumber))
		dst = encoding.AppendVarint64(dst, ve.LogNumber)
	}
	if ve.HasNextFileNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagNextFileNumber))
		dst = encoding.AppendVarint64(dst, ve.NextFileNumber)
	}
	if ve.HasLastSequence {
		dst = encoding.AppendVarint32(dst, uint32(TagLastSequence))
		dst = encoding.AppendVarint64(dst, uint64(ve.LastSequence))
	}
	for _, cp := range ve.CompactPointers {
		dst = encoding.AppendVarint32(dst, uint32(TagCompactPointer))
		dst = encoding.AppendVarint32(dst, cp.PartitionID)
		dst = encoding.AppendVarint32(dst, uint32(cp.Level))
		dst = encoding.AppendLengthPrefixedSlice(dst, cp.Key)
	}
	for _, df := range ve.DeletedFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeleteFile))
		dst = encoding.AppendVarint32(dst, df.PartitionID)
		dst = encoding.AppendVarint32(dst, uint32(df.Level))
		dst = encoding.AppendVarint64(dst, df.FileNumber)
	}
	for _, nf := range ve.NewFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagAddFile))
		dst = encoding.AppendVarint32(dst, nf.PartitionID)
		dst = encoding.AppendVarint32(dst, uint32(nf.Level))
		dst = encoding.AppendVarint64(dst, nf.Meta.FileNumber)
		dst = encoding.AppendVarint64(dst, nf.Meta.FileSize)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Smallest)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Largest)
		dst = encoding.AppendVarint64(dst, uint64(nf.Meta.SmallestSeqno))
		dst = encoding.AppendVarint64(dst, uint64(nf.Meta.LargestSeqno))
	}
	for _, pc := range ve.PartitionCreates {
		dst = encoding.AppendVarint32(dst, uint32(TagPartitionCreate))
		dst = encoding.AppendVarint32(dst, pc.PartitionID)
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(pc.Name))
	}
	for _, id := range ve.PartitionDrops {
		dst = encoding.AppendVarint32(dst, uint32(TagPartitionDrop))
		dst = encoding.AppendVarint32(dst, id)
	}
	return dst
}

// DecodeFrom replaces the edit's contents with the fields encoded in data.
func (ve *VersionEdit) DecodeFrom(data []byte) error {
	ve.Clear()

	for len(data) > 0 {
		tagVal, n, err := encoding.DecodeVarint32(data)
		if err != nil {
			return ErrUnexpectedEndOfInput
		}
		data = data[n:]

		switch Tag(tagVal) {
		case TagComparator:
			val, n, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			ve.Comparator, ve.HasComparator = string(val), true
			data = data[n:]

		case TagLogNumber:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			ve.LogNumber, ve.HasLogNumber = val, true
			data = data[n:]

		case TagNextFileNumber:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			ve.NextFileNumber, ve.HasNextFileNumber = val, true
			data = data[n:]

		case TagLastSequence:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			ve.LastSequence, ve.HasLastSequence = dbformat.SequenceNumber(val), true
			data = data[n:]

		case TagCompactPointer:
			partitionID, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]
			key, n, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]
			ve.SetCompactPointer(partitionID, int(level), key)

		case TagDeleteFile:
			partitionID, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]
			fileNum, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]
			ve.DeleteFile(partitionID, int(level), fileNum)

		case TagAddFile:
			var err error
			data, err = ve.decodeAddFile(data)
			if err != nil {
				return err
			}

		case TagPartitionCreate:
			partitionID, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]
			name, n, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]
			ve.CreatePartition(partitionID, string(name))

		case TagPartitionDrop:
			partitionID, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return ErrUnexpectedEndOfInput
			}
			data = data[n:]
			ve.DropPartition(partitionID)

		default:
			return ErrUnknownTag
		}
	}

	return nil
}

func (ve *VersionEdit) decodeAddFile(data []byte) ([]byte, error) {
	partitionID, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	level, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	fileNum, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	fileSize, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	smallest, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	largest, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	smallestSeqno, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	largestSeqno, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	data = data[n:]

	ve.AddFile(partitionID, int(level), &FileMetaData{
		FileNumber:    fileNum,
		FileSize:      fileSize,
		Smallest:      dbformat.InternalKey(smallest),
		Largest:       dbformat.InternalKey(largest),
		SmallestSeqno: dbformat.SequenceNumber(smallestSeqno),
		LargestSeqno:  dbformat.SequenceNumber(largestSeqno),
	})

	return data, nil
}
