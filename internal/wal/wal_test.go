package wal

import (
	"bytes"
	"io"
	"testing"

	"github.com/aalhour/rockyardkv/vfs"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, fs vfs.FS, path string, records [][]byte) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)
	w := NewWriter(f, false)
	for _, rec := range records {
		require.NoError(t, w.AddRecord(rec))
	}
	require.NoError(t, f.Close())
}

func readAllRecords(t *testing.T, fs vfs.FS, path string) ([][]byte, *Reader) {
	t.Helper()
	sf, err := fs.Open(path)
	require.NoError(t, err)
	r := NewReader(sf, false)

	var got [][]byte
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	return got, r
}

func TestWriterReaderRoundTripSmallRecords(t *testing.T) {
	fs := vfs.NewMemFS()
	records := [][]byte{[]byte("alpha"), []byte(""), []byte("bravo charlie")}
	writeRecords(t, fs, "/log", records)

	got, r := readAllRecords(t, fs, "/log")
	require.False(t, r.Recoverable())
	require.Len(t, got, len(records))
	for i, rec := range records {
		require.Equal(t, rec, got[i])
	}
}

func TestWriterFragmentsAcrossBlockBoundary(t *testing.T) {
	fs := vfs.NewMemFS()
	big := bytes.Repeat([]byte("x"), BlockSize*3+100)
	writeRecords(t, fs, "/log", [][]byte{big})

	got, r := readAllRecords(t, fs, "/log")
	require.False(t, r.Recoverable())
	require.Len(t, got, 1)
	require.Equal(t, big, got[0])
}

func TestWriterPadsBlockWhenHeaderWontFit(t *testing.T) {
	fs := vfs.NewMemFS()
	// Leave fewer than HeaderSize bytes in the first block before a second
	// record, forcing a zero-padded tail.
	first := bytes.Repeat([]byte("a"), BlockSize-HeaderSize-3)
	second := []byte("next block")
	writeRecords(t, fs, "/log", [][]byte{first, second})

	got, r := readAllRecords(t, fs, "/log")
	require.False(t, r.Recoverable())
	require.Len(t, got, 2)
	require.Equal(t, first, got[0])
	require.Equal(t, second, got[1])
}

func TestReaderDetectsTrailingTruncationAsRecoverable(t *testing.T) {
	fs := vfs.NewMemFS()
	writeRecords(t, fs, "/log", [][]byte{[]byte("one"), []byte("two")})

	f, err := fs.OpenRandomAccess("/log")
	require.NoError(t, err)
	size := f.Size()
	require.NoError(t, f.Close())

	// Truncate mid-way through the last fragment's payload.
	raw := make([]byte, size)
	rf, err := fs.OpenRandomAccess("/log")
	require.NoError(t, err)
	_, err = rf.ReadAt(raw, 0)
	require.True(t, err == nil || err == io.EOF)
	require.NoError(t, rf.Close())

	truncated := raw[:size-2]
	wf, err := fs.Create("/log")
	require.NoError(t, err)
	_, err = wf.Write(truncated)
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	got, r := readAllRecords(t, fs, "/log")
	require.True(t, r.Recoverable())
	require.Equal(t, [][]byte{[]byte("one")}, got)
}

func TestReaderReportsCorruptionMidLog(t *testing.T) {
	fs := vfs.NewMemFS()
	writeRecords(t, fs, "/log", [][]byte{[]byte("one"), []byte("two"), []byte("three")})

	f, err := fs.OpenRandomAccess("/log")
	require.NoError(t, err)
	size := f.Size()
	raw := make([]byte, size)
	_, err = f.ReadAt(raw, 0)
	require.True(t, err == nil || err == io.EOF)
	require.NoError(t, f.Close())

	// Flip a byte inside the first fragment's payload (well before EOF).
	raw[HeaderSize] ^= 0xFF

	wf, err := fs.Create("/corrupt")
	require.NoError(t, err)
	_, err = wf.Write(raw)
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	sf, err := fs.Open("/corrupt")
	require.NoError(t, err)
	r := NewReader(sf, false)
	_, err = r.ReadRecord()
	require.ErrorIs(t, err, ErrCorruption)
}

func TestReaderPermissiveModeSkipsCorruptRecord(t *testing.T) {
	fs := vfs.NewMemFS()
	writeRecords(t, fs, "/log", [][]byte{[]byte("one"), []byte("two"), []byte("three")})

	f, err := fs.OpenRandomAccess("/log")
	require.NoError(t, err)
	size := f.Size()
	raw := make([]byte, size)
	_, err = f.ReadAt(raw, 0)
	require.True(t, err == nil || err == io.EOF)
	require.NoError(t, f.Close())

	raw[HeaderSize] ^= 0xFF

	wf, err := fs.Create("/corrupt")
	require.NoError(t, err)
	_, err = wf.Write(raw)
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	sf, err := fs.Open("/corrupt")
	require.NoError(t, err)
	r := NewReader(sf, true)

	var got [][]byte
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Equal(t, [][]byte{[]byte("two"), []byte("three")}, got)
}
