package version

import (
	"testing"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/manifest"
	"github.com/aalhour/rockyardkv/vfs"
	"github.com/stretchr/testify/require"
)

func newTestVersionSet(t *testing.T) *VersionSet {
	t.Helper()
	fs := vfs.NewMemFS()
	require.NoError(t, fs.MkdirAll("/db", 0o755))
	vs := NewVersionSet(Options{DBName: "/db", FS: fs})
	require.NoError(t, vs.Create())
	return vs
}

func fileMeta(num uint64, smallest, largest string, seq dbformat.SequenceNumber) *manifest.FileMetaData {
	return &manifest.FileMetaData{
		FileNumber:    num,
		FileSize:      1024,
		Smallest:      dbformat.Encode([]byte(smallest), seq, dbformat.KindValue),
		Largest:       dbformat.Encode([]byte(largest), seq, dbformat.KindValue),
		SmallestSeqno: seq,
		LargestSeqno:  seq,
	}
}

func TestVersionSetCreateBootstrapsDefaultPartition(t *testing.T) {
	vs := newTestVersionSet(t)

	v, ok := vs.Current(DefaultPartitionID)
	require.True(t, ok)
	require.Equal(t, 0, v.TotalFiles())

	partitions := vs.Partitions()
	require.Len(t, partitions, 1)
	require.Equal(t, "default", partitions[0].Name)
	require.Equal(t, DefaultPartitionID, partitions[0].ID)
}

func TestVersionSetLogAndApplyAddsFile(t *testing.T) {
	vs := newTestVersionSet(t)

	edit := manifest.NewVersionEdit()
	edit.AddFile(DefaultPartitionID, 0, fileMeta(5, "a", "m", 10))
	require.NoError(t, vs.LogAndApply(edit))

	v, ok := vs.Current(DefaultPartitionID)
	require.True(t, ok)
	require.Equal(t, 1, v.NumFiles(0))
	require.EqualValues(t, 5, v.Files(0)[0].FileNumber)
}

func TestVersionSetLogAndApplyDeletesFile(t *testing.T) {
	vs := newTestVersionSet(t)

	add := manifest.NewVersionEdit()
	add.AddFile(DefaultPartitionID, 0, fileMeta(5, "a", "m", 10))
	require.NoError(t, vs.LogAndApply(add))

	del := manifest.NewVersionEdit()
	del.DeleteFile(DefaultPartitionID, 0, 5)
	require.NoError(t, vs.LogAndApply(del))

	v, _ := vs.Current(DefaultPartitionID)
	require.Equal(t, 0, v.NumFiles(0))
}

func TestVersionSetCreatePartitionIsIsolated(t *testing.T) {
	vs := newTestVersionSet(t)

	create := manifest.NewVersionEdit()
	create.CreatePartition(1, "index")
	create.AddFile(1, 0, fileMeta(7, "b", "n", 3))
	require.NoError(t, vs.LogAndApply(create))

	indexVersion, ok := vs.Current(1)
	require.True(t, ok)
	require.Equal(t, 1, indexVersion.NumFiles(0))

	defaultVersion, ok := vs.Current(DefaultPartitionID)
	require.True(t, ok)
	require.Equal(t, 0, defaultVersion.NumFiles(0))

	id, ok := vs.PartitionByName("index")
	require.True(t, ok)
	require.EqualValues(t, 1, id)
}

func TestVersionSetDropPartitionRemovesIt(t *testing.T) {
	vs := newTestVersionSet(t)

	create := manifest.NewVersionEdit()
	create.CreatePartition(1, "index")
	require.NoError(t, vs.LogAndApply(create))

	drop := manifest.NewVersionEdit()
	drop.DropPartition(1)
	require.NoError(t, vs.LogAndApply(drop))

	_, ok := vs.Current(1)
	require.False(t, ok)
	_, ok = vs.PartitionByName("index")
	require.False(t, ok)
}

func TestVersionSetCompactPointerRoundTrips(t *testing.T) {
	vs := newTestVersionSet(t)

	key := dbformat.Encode([]byte("k"), 9, dbformat.KindValue)
	edit := manifest.NewVersionEdit()
	edit.SetCompactPointer(DefaultPartitionID, 1, key)
	require.NoError(t, vs.LogAndApply(edit))

	require.Equal(t, key, vs.CompactPointer(DefaultPartitionID, 1))
}

func TestVersionSetNextFileNumberIsMonotonicAndUnique(t *testing.T) {
	vs := newTestVersionSet(t)

	seen := make(map[uint64]bool)
	for range 20 {
		n := vs.NextFileNumber()
		require.False(t, seen[n], "file number %d reused", n)
		seen[n] = true
	}
}

func TestVersionSetRecoverRebuildsState(t *testing.T) {
	fs := vfs.NewMemFS()
	require.NoError(t, fs.MkdirAll("/db", 0o755))

	vs := NewVersionSet(Options{DBName: "/db", FS: fs})
	require.NoError(t, vs.Create())

	edit := manifest.NewVersionEdit()
	edit.CreatePartition(1, "index")
	edit.AddFile(DefaultPartitionID, 0, fileMeta(5, "a", "m", 10))
	edit.AddFile(1, 0, fileMeta(6, "b", "n", 11))
	edit.SetLastSequence(11)
	require.NoError(t, vs.LogAndApply(edit))
	require.NoError(t, vs.Close())

	recovered := NewVersionSet(Options{DBName: "/db", FS: fs})
	require.NoError(t, recovered.Recover())

	defaultVersion, ok := recovered.Current(DefaultPartitionID)
	require.True(t, ok)
	require.Equal(t, 1, defaultVersion.NumFiles(0))

	indexVersion, ok := recovered.Current(1)
	require.True(t, ok)
	require.Equal(t, 1, indexVersion.NumFiles(0))

	require.EqualValues(t, 11, recovered.LastSequence())

	id, ok := recovered.PartitionByName("index")
	require.True(t, ok)
	require.EqualValues(t, 1, id)

	next := recovered.NextFileNumber()
	require.Greater(t, next, uint64(6))
}

func TestVersionSetRecoverWithoutCurrentFails(t *testing.T) {
	fs := vfs.NewMemFS()
	require.NoError(t, fs.MkdirAll("/db", 0o755))

	vs := NewVersionSet(Options{DBName: "/db", FS: fs})
	require.ErrorIs(t, vs.Recover(), ErrNoCurrentManifest)
}
