package memtable

import (
	"testing"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/stretchr/testify/require"
)

func TestMemTableGetLatestVisibleValue(t *testing.T) {
	mt := New()
	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("v1"))
	mt.Add(2, dbformat.KindValue, []byte("a"), []byte("v2"))

	value, kind, found := mt.Get([]byte("a"), 10)
	require.True(t, found)
	require.Equal(t, dbformat.KindValue, kind)
	require.Equal(t, []byte("v2"), value)
}

func TestMemTableGetRespectsSnapshotSequence(t *testing.T) {
	mt := New()
	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("v1"))
	mt.Add(5, dbformat.KindValue, []byte("a"), []byte("v5"))

	value, _, found := mt.Get([]byte("a"), 3)
	require.True(t, found)
	require.Equal(t, []byte("v1"), value)

	_, _, found = mt.Get([]byte("a"), 0)
	require.False(t, found)
}

func TestMemTableGetTombstoneShadowsOlderValue(t *testing.T) {
	mt := New()
	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("v1"))
	mt.Add(2, dbformat.KindTombstone, []byte("a"), nil)

	_, kind, found := mt.Get([]byte("a"), 10)
	require.True(t, found)
	require.Equal(t, dbformat.KindTombstone, kind)
}

func TestMemTableGetMissingKey(t *testing.T) {
	mt := New()
	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("v1"))

	_, _, found := mt.Get([]byte("b"), 10)
	require.False(t, found)
}

func TestMemTableRefUnref(t *testing.T) {
	mt := New()
	mt.Ref()
	require.False(t, mt.Unref())
	require.True(t, mt.Unref())
}

func TestMemTableApproximateMemoryUsageGrows(t *testing.T) {
	mt := New()
	require.Zero(t, mt.ApproximateMemoryUsage())
	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("v1"))
	require.Positive(t, mt.ApproximateMemoryUsage())
}

func TestMemTableCountAndEmpty(t *testing.T) {
	mt := New()
	require.True(t, mt.Empty())
	require.Zero(t, mt.Count())

	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("v1"))
	mt.Add(2, dbformat.KindValue, []byte("b"), []byte("v2"))
	require.False(t, mt.Empty())
	require.EqualValues(t, 2, mt.Count())
}

func TestMemTableIteratorOrdersByUserKeyThenSequenceDescending(t *testing.T) {
	mt := New()
	mt.Add(1, dbformat.KindValue, []byte("b"), []byte("b1"))
	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("a1"))
	mt.Add(2, dbformat.KindValue, []byte("a"), []byte("a2"))

	it := mt.NewIterator()
	it.SeekToFirst()

	require.True(t, it.Valid())
	require.Equal(t, []byte("a"), dbformat.UserKey(it.Key()))
	require.Equal(t, []byte("a2"), it.Value())

	it.Next()
	require.True(t, it.Valid())
	require.Equal(t, []byte("a"), dbformat.UserKey(it.Key()))
	require.Equal(t, []byte("a1"), it.Value())

	it.Next()
	require.True(t, it.Valid())
	require.Equal(t, []byte("b"), dbformat.UserKey(it.Key()))
	require.Equal(t, []byte("b1"), it.Value())

	it.Next()
	require.False(t, it.Valid())
}

func TestMemTableIteratorSeek(t *testing.T) {
	mt := New()
	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("a1"))
	mt.Add(1, dbformat.KindValue, []byte("c"), []byte("c1"))

	it := mt.NewIterator()
	it.Seek(dbformat.SeekKey([]byte("b"), dbformat.MaxSequenceNumber))
	require.True(t, it.Valid())
	require.Equal(t, []byte("c"), dbformat.UserKey(it.Key()))
}
