package compaction

import (
	"testing"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/version"
	"github.com/stretchr/testify/require"
)

func TestPickerTargetBytesGeometric(t *testing.T) {
	p := NewPicker()
	require.Equal(t, uint64(LevelBaseBytes), p.TargetBytes(1))
	require.Equal(t, uint64(LevelBaseBytes*10), p.TargetBytes(2))
	require.Equal(t, uint64(LevelBaseBytes*100), p.TargetBytes(3))
}

func TestPickerScoreLevelZeroByFileCount(t *testing.T) {
	p := NewPicker()
	b := version.NewBuilder(0, nil)
	b.ApplyNewFile(0, meta(1, "a", "b"))
	b.ApplyNewFile(0, meta(2, "c", "d"))
	v := b.SaveTo(1)

	require.InDelta(t, 2.0/float64(p.L0Trigger), p.Score(v, 0), 0.0001)
}

func TestPickerScoreLevelNByBytes(t *testing.T) {
	p := NewPicker()
	b := version.NewBuilder(0, nil)
	f := meta(1, "a", "b")
	f.FileSize = p.BaseBytes
	b.ApplyNewFile(1, f)
	v := b.SaveTo(1)

	require.InDelta(t, 1.0, p.Score(v, 1), 0.0001)
}

func TestPickerPickReturnsFalseWhenNothingExceedsScore(t *testing.T) {
	p := NewPicker()
	v := version.NewBuilder(0, nil).SaveTo(1)

	_, ok := p.Pick(0, v, func(int) dbformat.InternalKey { return nil })
	require.False(t, ok)
}

func TestPickerPicksHighestScoringLevel(t *testing.T) {
	p := NewPicker()
	b := version.NewBuilder(0, nil)
	// L0 over trigger: 5 files against a trigger of 4 -> score 1.25
	for i := uint64(1); i <= 5; i++ {
		b.ApplyNewFile(0, meta(i, "a", "b"))
	}
	v := b.SaveTo(1)

	c, ok := p.Pick(0, v, func(int) dbformat.InternalKey { return nil })
	require.True(t, ok)
	require.Equal(t, 0, c.StartLevel())
	require.Equal(t, 1, c.OutputLevel)
	require.Equal(t, ReasonLevelScore, c.Reason)
}

func TestPickerExpandsL0OverlapsAndPullsInParent(t *testing.T) {
	p := NewPicker()
	b := version.NewBuilder(0, nil)
	for i := uint64(1); i <= 5; i++ {
		b.ApplyNewFile(0, meta(i, "a", "m"))
	}
	b.ApplyNewFile(1, meta(10, "a", "z"))
	v := b.SaveTo(1)

	c, ok := p.Pick(0, v, func(int) dbformat.InternalKey { return nil })
	require.True(t, ok)
	require.Len(t, c.Inputs, 2)
	require.Equal(t, 0, c.Inputs[0].Level)
	require.Len(t, c.Inputs[0].Files, 5)
	require.Equal(t, 1, c.Inputs[1].Level)
	require.Len(t, c.Inputs[1].Files, 1)
}

func TestPickerSkipsFilesBeingCompacted(t *testing.T) {
	p := NewPicker()
	b := version.NewBuilder(0, nil)
	f1 := meta(1, "a", "b")
	f1.BeingCompacted = true
	f2 := meta(2, "c", "d")
	b.ApplyNewFile(1, f1)
	b.ApplyNewFile(1, f2)
	v := b.SaveTo(1)

	// selectInputFiles must skip the busy file and choose the other as base.
	inputs := p.selectInputFiles(v, 1, nil)
	require.Len(t, inputs, 1)
	require.Len(t, inputs[0].Files, 1)
	require.Equal(t, uint64(2), inputs[0].Files[0].FileNumber)
}
