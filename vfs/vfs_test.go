package vfs

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemFSWriteReadRoundTrip(t *testing.T) {
	fs := NewMemFS()
	w, err := fs.Create("a/b.sst")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = w.Write([]byte(" world"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	r, err := fs.Open("a/b.sst")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.NoError(t, r.Close())
}

func TestMemFSRandomAccess(t *testing.T) {
	fs := NewMemFS()
	w, err := fs.Create("f")
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raf, err := fs.OpenRandomAccess("f")
	require.NoError(t, err)
	require.Equal(t, int64(10), raf.Size())

	buf := make([]byte, 4)
	n, err := raf.ReadAt(buf, 3)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "3456", string(buf))
}

func TestMemFSRenameAndExists(t *testing.T) {
	fs := NewMemFS()
	w, err := fs.Create("old")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.True(t, fs.Exists("old"))
	require.NoError(t, fs.Rename("old", "new"))
	require.False(t, fs.Exists("old"))
	require.True(t, fs.Exists("new"))
}

func TestMemFSListDir(t *testing.T) {
	fs := NewMemFS()
	for _, name := range []string{"dir/a.sst", "dir/b.sst", "dir/sub/c.sst"} {
		w, err := fs.Create(name)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	entries, err := fs.ListDir("dir")
	require.NoError(t, err)
	require.Equal(t, []string{"a.sst", "b.sst", "sub"}, entries)
}

func TestMemFSLockIsExclusive(t *testing.T) {
	fs := NewMemFS()
	l1, err := fs.Lock("LOCK")
	require.NoError(t, err)

	_, err = fs.Lock("LOCK")
	require.Error(t, err)

	require.NoError(t, l1.Close())

	l2, err := fs.Lock("LOCK")
	require.NoError(t, err)
	require.NoError(t, l2.Close())
}

func TestMemFSLinkOrCopy(t *testing.T) {
	fs := NewMemFS()
	w, err := fs.Create("src")
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, fs.LinkOrCopy("src", "dst"))
	r, err := fs.Open("dst")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestMemFSRemoveAll(t *testing.T) {
	fs := NewMemFS()
	for _, name := range []string{"d/a", "d/b", "other"} {
		w, err := fs.Create(name)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	require.NoError(t, fs.RemoveAll("d"))
	require.False(t, fs.Exists("d/a"))
	require.False(t, fs.Exists("d/b"))
	require.True(t, fs.Exists("other"))
}
