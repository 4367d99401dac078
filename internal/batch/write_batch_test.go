package batch

import (
	"testing"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/stretchr/testify/require"
)

func TestWriteBatchPutDeleteRoundTrip(t *testing.T) {
	wb := New()
	wb.SetSequence(10)
	wb.Put(0, []byte("a"), []byte("1"))
	wb.Delete(1, []byte("b"))
	wb.Put(0, []byte("c"), []byte("2"))

	require.Equal(t, uint32(3), wb.Count())

	ops, err := wb.Ops()
	require.NoError(t, err)
	require.Len(t, ops, 3)

	require.Equal(t, uint32(0), ops[0].PartitionID)
	require.Equal(t, dbformat.KindValue, ops[0].Kind)
	require.Equal(t, "a", string(ops[0].Key))
	require.Equal(t, "1", string(ops[0].Value))
	require.Equal(t, dbformat.SequenceNumber(10), ops[0].Sequence)

	require.Equal(t, uint32(1), ops[1].PartitionID)
	require.Equal(t, dbformat.KindTombstone, ops[1].Kind)
	require.Equal(t, "b", string(ops[1].Key))
	require.Nil(t, ops[1].Value)
	require.Equal(t, dbformat.SequenceNumber(11), ops[1].Sequence)

	require.Equal(t, dbformat.SequenceNumber(12), ops[2].Sequence)
}

func TestWriteBatchEmptyAfterClear(t *testing.T) {
	wb := New()
	wb.Put(0, []byte("a"), []byte("1"))
	wb.Clear()

	require.Equal(t, uint32(0), wb.Count())
	require.Equal(t, HeaderSize, wb.Size())
}

func TestWriteBatchAppend(t *testing.T) {
	a := New()
	a.Put(0, []byte("a"), []byte("1"))

	b := New()
	b.Delete(0, []byte("b"))

	a.Append(b)
	require.Equal(t, uint32(2), a.Count())

	ops, err := a.Ops()
	require.NoError(t, err)
	require.Len(t, ops, 2)
}

func TestWriteBatchClone(t *testing.T) {
	a := New()
	a.Put(0, []byte("a"), []byte("1"))

	clone := a.Clone()
	clone.Put(0, []byte("b"), []byte("2"))

	require.Equal(t, uint32(1), a.Count())
	require.Equal(t, uint32(2), clone.Count())
}

func TestWriteBatchFromDataRoundTrip(t *testing.T) {
	a := New()
	a.SetSequence(5)
	a.Put(2, []byte("k"), []byte("v"))

	wb, err := NewFromData(a.Data())
	require.NoError(t, err)
	require.Equal(t, dbformat.SequenceNumber(5), wb.Sequence())
	require.Equal(t, uint32(1), wb.Count())

	ops, err := wb.Ops()
	require.NoError(t, err)
	require.Equal(t, uint32(2), ops[0].PartitionID)
}

func TestWriteBatchTooSmall(t *testing.T) {
	_, err := NewFromData([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrTooSmall)
}

func TestWriteBatchCorruptedIterate(t *testing.T) {
	wb := New()
	wb.Put(0, []byte("a"), []byte("1"))
	data := wb.Data()
	truncated := data[:len(data)-1]
	wb2, err := NewFromData(truncated)
	require.NoError(t, err)

	_, err = wb2.Ops()
	require.Error(t, err)
}
