package partition

import (
	"testing"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/version"
	"github.com/stretchr/testify/require"
)

func TestSetBootstrapAndGet(t *testing.T) {
	s := NewSet()
	s.Bootstrap(version.DefaultPartitionID, "default")

	st, ok := s.Get(version.DefaultPartitionID)
	require.True(t, ok)
	require.Equal(t, "default", st.Name)

	byName, ok := s.ByName("default")
	require.True(t, ok)
	require.Same(t, st, byName)
}

func TestSetCreateRejectsDuplicateName(t *testing.T) {
	s := NewSet()
	s.Bootstrap(0, "default")

	_, err := s.Create(1, "default")
	require.ErrorIs(t, err, ErrExists)

	_, err = s.Create(1, "other")
	require.NoError(t, err)
}

func TestSetDropRemovesPartition(t *testing.T) {
	s := NewSet()
	s.Bootstrap(0, "default")
	s.Create(1, "other")

	require.NoError(t, s.Drop(1))
	_, ok := s.Get(1)
	require.False(t, ok)
	_, ok = s.ByName("other")
	require.False(t, ok)
}

func TestSetDropRejectsDefaultPartition(t *testing.T) {
	s := NewSet()
	s.Bootstrap(version.DefaultPartitionID, "default")

	err := s.Drop(version.DefaultPartitionID)
	require.ErrorIs(t, err, ErrDropDefault)
}

func TestSetDropUnknownPartition(t *testing.T) {
	s := NewSet()
	s.Bootstrap(0, "default")

	require.ErrorIs(t, s.Drop(99), ErrNotFound)
}

func TestSetList(t *testing.T) {
	s := NewSet()
	s.Bootstrap(0, "default")
	s.Create(1, "a")
	s.Create(2, "b")

	names := map[string]bool{}
	for _, p := range s.List() {
		names[p.Name] = true
	}
	require.Equal(t, map[string]bool{"default": true, "a": true, "b": true}, names)
}

func TestStateRotateIfFull(t *testing.T) {
	st := newState(0, "default")
	st.mutable.Add(1, dbformat.KindValue, []byte("k"), []byte("v"))

	full, rotated := st.RotateIfFull(1 << 30)
	require.False(t, rotated)
	require.Nil(t, full)

	full, rotated = st.RotateIfFull(0)
	require.True(t, rotated)
	require.NotNil(t, full)
	require.Len(t, st.Immutables(), 1)
	require.NotSame(t, full, st.Mutable())
}

func TestStatePopFlushed(t *testing.T) {
	st := newState(0, "default")
	st.mutable.Add(1, dbformat.KindValue, []byte("k"), []byte("v"))
	full, rotated := st.RotateIfFull(0)
	require.True(t, rotated)

	st.PopFlushed(full)
	require.Empty(t, st.Immutables())
}
