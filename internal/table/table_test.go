package table

import (
	"testing"

	"github.com/aalhour/rockyardkv/internal/cache"
	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/vfs"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, fs vfs.FS, path string, entries [][2]string) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)

	b := NewBuilder(f, DefaultBuilderOptions())
	for _, e := range entries {
		ik := dbformat.Encode([]byte(e[0]), dbformat.SequenceNumber(1), dbformat.KindValue)
		require.NoError(t, b.Add(ik, []byte(e[1])))
	}
	require.NoError(t, b.Finish())
	require.NoError(t, f.Close())
}

func TestBuilderReaderRoundTrip(t *testing.T) {
	fs := vfs.NewMemFS()
	entries := [][2]string{
		{"alpha", "1"}, {"bravo", "2"}, {"charlie", "3"}, {"delta", "4"}, {"echo", "5"},
	}
	buildTable(t, fs, "/test.sst", entries)

	rf, err := fs.OpenRandomAccess("/test.sst")
	require.NoError(t, err)
	defer rf.Close()

	reader, err := Open(1, rf, DefaultReaderOptions())
	require.NoError(t, err)
	defer reader.Close()

	for _, e := range entries {
		ik := dbformat.Encode([]byte(e[0]), dbformat.SequenceNumber(1), dbformat.KindValue)
		value, ok, err := reader.Get(ik)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, e[1], string(value))
	}

	missIK := dbformat.Encode([]byte("zulu"), dbformat.SequenceNumber(1), dbformat.KindValue)
	_, ok, err := reader.Get(missIK)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTableIteratorScansInOrder(t *testing.T) {
	fs := vfs.NewMemFS()
	entries := [][2]string{
		{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"},
	}
	buildTable(t, fs, "/scan.sst", entries)

	rf, err := fs.OpenRandomAccess("/scan.sst")
	require.NoError(t, err)
	defer rf.Close()

	reader, err := Open(1, rf, ReaderOptions{})
	require.NoError(t, err)
	defer reader.Close()

	it := reader.NewIterator()
	it.SeekToFirst()
	for _, e := range entries {
		require.True(t, it.Valid())
		require.Equal(t, e[0], string(dbformat.UserKey(it.Key())))
		require.Equal(t, e[1], string(it.Value()))
		it.Next()
	}
	require.False(t, it.Valid())
	require.NoError(t, it.Error())
}

func TestBuilderRejectsOutOfOrderKeys(t *testing.T) {
	fs := vfs.NewMemFS()
	f, err := fs.Create("/bad.sst")
	require.NoError(t, err)
	defer f.Close()

	b := NewBuilder(f, DefaultBuilderOptions())
	ik1 := dbformat.Encode([]byte("b"), dbformat.SequenceNumber(1), dbformat.KindValue)
	ik2 := dbformat.Encode([]byte("a"), dbformat.SequenceNumber(1), dbformat.KindValue)

	require.NoError(t, b.Add(ik1, []byte("1")))
	require.ErrorIs(t, b.Add(ik2, []byte("2")), ErrOutOfOrder)
}

func TestTableCacheReusesOpenReader(t *testing.T) {
	fs := vfs.NewMemFS()
	buildTable(t, fs, "/000001.sst", [][2]string{{"k", "v"}})

	tc := NewCache(fs, "/", 10, DefaultReaderOptions())
	defer tc.Close()

	h1, err := tc.Get(1)
	require.NoError(t, err)
	tc.Release(h1)

	h2, err := tc.Get(1)
	require.NoError(t, err)
	defer tc.Release(h2)

	require.Equal(t, uint64(1), tc.HitCount())
	require.Equal(t, uint64(1), tc.MissCount())
}

func TestBlockCacheIsConsultedOnRead(t *testing.T) {
	fs := vfs.NewMemFS()
	buildTable(t, fs, "/bc.sst", [][2]string{{"k1", "v1"}, {"k2", "v2"}})

	rf, err := fs.OpenRandomAccess("/bc.sst")
	require.NoError(t, err)
	defer rf.Close()

	bc := cache.NewBlockCache(1 << 20)
	reader, err := Open(7, rf, ReaderOptions{BlockCache: bc})
	require.NoError(t, err)
	defer reader.Close()

	ik := dbformat.Encode([]byte("k1"), dbformat.SequenceNumber(1), dbformat.KindValue)
	_, ok, err := reader.Get(ik)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = reader.Get(ik)
	require.NoError(t, err)
	require.True(t, ok)

	require.Greater(t, bc.HitCount(), uint64(0))
}
