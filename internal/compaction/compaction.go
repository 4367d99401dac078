// Package compaction implements the leveled compaction picker and executor
// described in §4.13: choose input files from the level with the highest
// score, merge them with the overlapping files one level down, and produce
// a version edit that retires the inputs and installs the outputs.
package compaction

import (
	"github.com/aalhour/rockyardkv/internal/manifest"
)

// InputFiles is the set of files a compaction reads from a single level.
type InputFiles struct {
	Level int
	Files []*manifest.FileMetaData
}

// Compaction describes one compaction: which files to read, which level to
// write to, and the edit that will record the result.
type Compaction struct {
	PartitionID uint32
	Inputs      []InputFiles
	OutputLevel int

	MaxOutputFileSize uint64

	Score  float64
	Reason Reason
}

// Reason records why a compaction was scheduled, for logging and stats.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonLevelScore
	ReasonManual
)

func (r Reason) String() string {
	switch r {
	case ReasonLevelScore:
		return "level score"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// New creates a Compaction from already-selected inputs.
func New(partitionID uint32, inputs []InputFiles, outputLevel int, maxOutputFileSize uint64) *Compaction {
	return &Compaction{
		PartitionID:       partitionID,
		Inputs:            inputs,
		OutputLevel:       outputLevel,
		MaxOutputFileSize: maxOutputFileSize,
	}
}

// NumInputFiles returns the total number of input files across all levels.
func (c *Compaction) NumInputFiles() int {
	total := 0
	for _, in := range c.Inputs {
		total += len(in.Files)
	}
	return total
}

// StartLevel is the level the compaction reads its primary input from.
func (c *Compaction) StartLevel() int {
	if len(c.Inputs) == 0 {
		return -1
	}
	return c.Inputs[0].Level
}

// AllFiles returns every input file across every level, flattened.
func (c *Compaction) AllFiles() []*manifest.FileMetaData {
	var out []*manifest.FileMetaData
	for _, in := range c.Inputs {
		out = append(out, in.Files...)
	}
	return out
}

// IsTrivialMove reports whether the compaction can skip merging entirely:
// exactly one input file, not at level 0, and no overlapping file at the
// output level.
func (c *Compaction) IsTrivialMove() bool {
	if len(c.Inputs) != 1 || len(c.Inputs[0].Files) != 1 {
		return false
	}
	return c.StartLevel() > 0
}

// MarkBeingCompacted flags or unflags every input file, so the picker won't
// select it again while this compaction is in flight.
func (c *Compaction) MarkBeingCompacted(flag bool) {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			f.BeingCompacted = flag
		}
	}
}

// AddInputDeletions records a delete-file edit for every input, within the
// partition this compaction belongs to.
func (c *Compaction) AddInputDeletions(edit *manifest.VersionEdit) {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			edit.DeleteFile(c.PartitionID, in.Level, f.FileNumber)
		}
	}
}
