package manifest

import (
	"testing"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/encoding"
	"github.com/stretchr/testify/require"
)

func TestVersionEditEncodeDecodeRoundTrip(t *testing.T) {
	edit := NewVersionEdit()
	edit.SetComparatorName("bytewise")
	edit.SetLogNumber(7)
	edit.SetNextFileNumber(42)
	edit.SetLastSequence(1000)
	edit.SetCompactPointer(0, 2, dbformat.Encode([]byte("m"), 5, dbformat.KindValue))
	edit.DeleteFile(0, 1, 9)
	edit.AddFile(0, 1, &FileMetaData{
		FileNumber:    10,
		FileSize:      4096,
		Smallest:      dbformat.Encode([]byte("a"), 1, dbformat.KindValue),
		Largest:       dbformat.Encode([]byte("z"), 2, dbformat.KindValue),
		SmallestSeqno: 1,
		LargestSeqno:  2,
	})
	edit.CreatePartition(1, "index")
	edit.DropPartition(2)

	encoded := edit.EncodeTo(nil)

	decoded := NewVersionEdit()
	require.NoError(t, decoded.DecodeFrom(encoded))

	require.Equal(t, "bytewise", decoded.Comparator)
	require.True(t, decoded.HasComparator)
	require.EqualValues(t, 7, decoded.LogNumber)
	require.EqualValues(t, 42, decoded.NextFileNumber)
	require.EqualValues(t, 1000, decoded.LastSequence)

	require.Len(t, decoded.CompactPointers, 1)
	require.Equal(t, 2, decoded.CompactPointers[0].Level)

	require.Len(t, decoded.DeletedFiles, 1)
	require.EqualValues(t, 9, decoded.DeletedFiles[0].FileNumber)

	require.Len(t, decoded.NewFiles, 1)
	require.EqualValues(t, 10, decoded.NewFiles[0].Meta.FileNumber)
	require.EqualValues(t, 4096, decoded.NewFiles[0].Meta.FileSize)
	require.Equal(t, []byte("a"), dbformat.UserKey(decoded.NewFiles[0].Meta.Smallest))
	require.Equal(t, []byte("z"), dbformat.UserKey(decoded.NewFiles[0].Meta.Largest))

	require.Len(t, decoded.PartitionCreates, 1)
	require.Equal(t, "index", decoded.PartitionCreates[0].Name)
	require.EqualValues(t, 1, decoded.PartitionCreates[0].PartitionID)

	require.Equal(t, []uint32{2}, decoded.PartitionDrops)
}

func TestVersionEditEmptyEncodesToEmpty(t *testing.T) {
	edit := NewVersionEdit()
	require.Empty(t, edit.EncodeTo(nil))
}

func TestVersionEditDecodeUnknownTagErrors(t *testing.T) {
	data := encoding.AppendVarint32(nil, 0xFFFFFFFF)
	edit := NewVersionEdit()
	err := edit.DecodeFrom(data)
	require.ErrorIs(t, err, ErrUnknownTag)
}

func TestVersionEditDecodeTruncatedErrors(t *testing.T) {
	edit := NewVersionEdit()
	edit.SetLogNumber(123)
	encoded := edit.EncodeTo(nil)

	decoded := NewVersionEdit()
	err := decoded.DecodeFrom(encoded[:len(encoded)-1])
	require.ErrorIs(t, err, ErrUnexpectedEndOfInput)
}

func TestVersionEditClearResetsFields(t *testing.T) {
	edit := NewVersionEdit()
	edit.SetLogNumber(5)
	edit.Clear()
	require.False(t, edit.HasLogNumber)
	require.Empty(t, edit.EncodeTo(nil))
}
