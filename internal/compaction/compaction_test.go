package compaction

import (
	"testing"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/manifest"
	"github.com/stretchr/testify/require"
)

func meta(num uint64, smallest, largest string) *manifest.FileMetaData {
	return &manifest.FileMetaData{
		FileNumber: num,
		FileSize:   4096,
		Smallest:   dbformat.SeekKey([]byte(smallest), 1),
		Largest:    dbformat.SeekKey([]byte(largest), 1),
	}
}

func TestCompactionNumInputFiles(t *testing.T) {
	c := New(0, []InputFiles{
		{Level: 0, Files: []*manifest.FileMetaData{meta(1, "a", "b"), meta(2, "c", "d")}},
		{Level: 1, Files: []*manifest.FileMetaData{meta(3, "a", "d")}},
	}, 1, DefaultMaxOutputFileSize)

	require.Equal(t, 3, c.NumInputFiles())
	require.Equal(t, 0, c.StartLevel())
}

func TestCompactionAllFilesFlattens(t *testing.T) {
	c := New(0, []InputFiles{
		{Level: 0, Files: []*manifest.FileMetaData{meta(1, "a", "b")}},
		{Level: 1, Files: []*manifest.FileMetaData{meta(2, "a", "c"), meta(3, "d", "e")}},
	}, 1, DefaultMaxOutputFileSize)

	require.Len(t, c.AllFiles(), 3)
}

func TestCompactionIsTrivialMove(t *testing.T) {
	trivial := New(0, []InputFiles{
		{Level: 1, Files: []*manifest.FileMetaData{meta(1, "a", "b")}},
	}, 2, DefaultMaxOutputFileSize)
	require.True(t, trivial.IsTrivialMove())

	notLevel0 := New(0, []InputFiles{
		{Level: 0, Files: []*manifest.FileMetaData{meta(1, "a", "b")}},
	}, 1, DefaultMaxOutputFileSize)
	require.False(t, notLevel0.IsTrivialMove())

	multiFile := New(0, []InputFiles{
		{Level: 1, Files: []*manifest.FileMetaData{meta(1, "a", "b"), meta(2, "c", "d")}},
	}, 2, DefaultMaxOutputFileSize)
	require.False(t, multiFile.IsTrivialMove())
}

func TestCompactionMarkBeingCompacted(t *testing.T) {
	f1, f2 := meta(1, "a", "b"), meta(2, "c", "d")
	c := New(0, []InputFiles{{Level: 0, Files: []*manifest.FileMetaData{f1, f2}}}, 1, DefaultMaxOutputFileSize)

	c.MarkBeingCompacted(true)
	require.True(t, f1.BeingCompacted)
	require.True(t, f2.BeingCompacted)

	c.MarkBeingCompacted(false)
	require.False(t, f1.BeingCompacted)
	require.False(t, f2.BeingCompacted)
}

func TestCompactionAddInputDeletions(t *testing.T) {
	c := New(7, []InputFiles{
		{Level: 0, Files: []*manifest.FileMetaData{meta(1, "a", "b")}},
		{Level: 1, Files: []*manifest.FileMetaData{meta(2, "a", "b")}},
	}, 1, DefaultMaxOutputFileSize)

	edit := manifest.NewVersionEdit()
	c.AddInputDeletions(edit)

	require.Len(t, edit.DeletedFiles, 2)
	for _, df := range edit.DeletedFiles {
		require.Equal(t, uint32(7), df.PartitionID)
	}
}

func TestReasonString(t *testing.T) {
	require.Equal(t, "level score", ReasonLevelScore.String())
	require.Equal(t, "manual", ReasonManual.String())
	require.Equal(t, "unknown", ReasonUnknown.String())
}
