package rockyardkv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/rockyardkv/vfs"
)

func newTestOptions() *Options {
	opts := DefaultOptions()
	opts.FS = vfs.NewMemFS()
	opts.WriteBufferBytes = 4 * 1024
	return opts
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	opts := newTestOptions()
	opts.CreateIfMissing = true
	db, err := Open("/db", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenCreatesDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NotNil(t, db.versions)
}

func TestOpenWithoutCreateIfMissingFails(t *testing.T) {
	opts := newTestOptions()
	_, err := Open("/db", opts)
	require.Error(t, err)
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	v, err := db.Get(DefaultPartitionID, []byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get(DefaultPartitionID, []byte("missing"), nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteHidesKey(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	require.NoError(t, db.Delete(DefaultPartitionID, []byte("a"), nil))

	_, err := db.Get(DefaultPartitionID, []byte("a"), nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutOverwritesPreviousValue(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("2"), nil))

	v, err := db.Get(DefaultPartitionID, []byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestSnapshotPinsReadToOldValue(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	snap := db.Snapshot()
	defer db.ReleaseSnapshot(snap)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("2"), nil))

	v, err := db.Get(DefaultPartitionID, []byte("a"), &ReadOptions{Snapshot: snap})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	v, err = db.Get(DefaultPartitionID, []byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestSnapshotSurvivesDelete(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	snap := db.Snapshot()
	defer db.ReleaseSnapshot(snap)

	require.NoError(t, db.Delete(DefaultPartitionID, []byte("a"), nil))

	v, err := db.Get(DefaultPartitionID, []byte("a"), &ReadOptions{Snapshot: snap})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestIteratorWalksKeysInOrder(t *testing.T) {
	db := openTestDB(t)

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, db.Put(DefaultPartitionID, []byte(k), []byte("v-"+k), nil))
	}

	it, err := db.NewIterator(DefaultPartitionID, nil)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestIteratorSkipsTombstones(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	require.NoError(t, db.Put(DefaultPartitionID, []byte("b"), []byte("2"), nil))
	require.NoError(t, db.Delete(DefaultPartitionID, []byte("a"), nil))

	it, err := db.NewIterator(DefaultPartitionID, nil)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"b"}, keys)
}

func TestIteratorSeek(t *testing.T) {
	db := openTestDB(t)

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.Put(DefaultPartitionID, []byte(k), []byte(k), nil))
	}

	it, err := db.NewIterator(DefaultPartitionID, nil)
	require.NoError(t, err)
	defer it.Close()

	it.Seek([]byte("c"))
	require.True(t, it.Valid())
	require.Equal(t, []byte("c"), it.Key())
}

func TestWriteAcrossMemtableRotationFlushesToDisk(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 512; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := make([]byte, 64)
		require.NoError(t, db.Put(DefaultPartitionID, key, val, nil))
	}

	v, ok := db.versions.Current(DefaultPartitionID)
	require.True(t, ok)
	require.Greater(t, v.NumFiles(0), 0)

	got, err := db.Get(DefaultPartitionID, []byte("key-0000"), nil)
	require.NoError(t, err)
	require.Len(t, got, 64)
}

func TestRecoveryReplaysUnflushedWrites(t *testing.T) {
	opts := newTestOptions()
	opts.CreateIfMissing = true
	fs := opts.FS

	db, err := Open("/db", opts)
	require.NoError(t, err)
	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	require.NoError(t, db.Close())

	reopened, err := Open("/db", &Options{FS: fs})
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Get(DefaultPartitionID, []byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestCreatePartitionIsolatesKeys(t *testing.T) {
	db := openTestDB(t)

	p, err := db.CreatePartition("widgets", nil)
	require.NoError(t, err)
	require.NotEqual(t, DefaultPartitionID, p.ID)

	require.NoError(t, db.Put(p.ID, []byte("a"), []byte("widget"), nil))
	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("default"), nil))

	v, err := db.Get(p.ID, []byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("widget"), v)

	v, err = db.Get(DefaultPartitionID, []byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("default"), v)
}

func TestCreatePartitionDuplicateNameFails(t *testing.T) {
	db := openTestDB(t)

	_, err := db.CreatePartition("widgets", nil)
	require.NoError(t, err)
	_, err = db.CreatePartition("widgets", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDropDefaultPartitionFails(t *testing.T) {
	db := openTestDB(t)
	err := db.DropPartition(Partition{ID: DefaultPartitionID, Name: "default"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDropPartitionHidesItsKeys(t *testing.T) {
	db := openTestDB(t)

	p, err := db.CreatePartition("widgets", nil)
	require.NoError(t, err)
	require.NoError(t, db.Put(p.ID, []byte("a"), []byte("1"), nil))

	require.NoError(t, db.DropPartition(p))

	_, err = db.Get(p.ID, []byte("a"), nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	for _, got := range db.ListPartitions() {
		require.NotEqual(t, p.ID, got.ID)
	}
}

func TestWriteToUnknownPartitionFails(t *testing.T) {
	db := openTestDB(t)
	err := db.Put(999, []byte("a"), []byte("1"), nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCheckpointIsIndependentlyOpenable(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	require.NoError(t, db.Checkpoint("/checkpoint"))

	cpOpts := &Options{FS: db.opts.FS}
	cp, err := Open("/checkpoint", cpOpts)
	require.NoError(t, err)
	defer cp.Close()

	v, err := cp.Get(DefaultPartitionID, []byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestCheckpointIsIndependentOfLaterWrites(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	require.NoError(t, db.Checkpoint("/checkpoint"))
	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("2"), nil))

	cp, err := Open("/checkpoint", &Options{FS: db.opts.FS})
	require.NoError(t, err)
	defer cp.Close()

	v, err := cp.Get(DefaultPartitionID, []byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestCompactRangePreservesData(t *testing.T) {
	db := openTestDB(t)

	for round := 0; round < 3; round++ {
		for i := 0; i < 200; i++ {
			key := []byte(fmt.Sprintf("key-%04d", i))
			require.NoError(t, db.Put(DefaultPartitionID, key, []byte("v"), nil))
		}
	}

	v, ok := db.versions.Current(DefaultPartitionID)
	require.True(t, ok)
	before := v.NumFiles(0)
	require.Greater(t, before, 0)

	require.NoError(t, db.CompactRange(DefaultPartitionID, nil))

	got, err := db.Get(DefaultPartitionID, []byte("key-0000"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestStatsTrackReadsAndWrites(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil))
	_, err := db.Get(DefaultPartitionID, []byte("a"), nil)
	require.NoError(t, err)

	stats := db.Stats()
	require.Equal(t, uint64(1), stats.KeysWritten)
	require.GreaterOrEqual(t, stats.KeysRead, uint64(1))
}

func TestGetPropertyUnknownNameFails(t *testing.T) {
	db := openTestDB(t)
	_, ok := db.GetProperty("rockyardkv.nonexistent")
	require.False(t, ok)
}

func TestOperationsAfterCloseFail(t *testing.T) {
	opts := newTestOptions()
	opts.CreateIfMissing = true
	db, err := Open("/db", opts)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Get(DefaultPartitionID, []byte("a"), nil)
	require.ErrorIs(t, err, ErrClosed)
	err = db.Put(DefaultPartitionID, []byte("a"), []byte("1"), nil)
	require.ErrorIs(t, err, ErrClosed)
}
