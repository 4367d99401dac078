package compaction

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/manifest"
	"github.com/aalhour/rockyardkv/internal/version"
)

// Tuning for the optional parallel split described in §4.13: a compaction
// whose input key range is narrow, or whose inputs are small, runs as one
// Job. Only a wide, large compaction is worth splitting across goroutines.
const (
	DefaultMaxSubcompactions = 4
	DefaultMinBytesPerSplit  = 2 * 1024 * 1024
)

// ParallelJob runs a single Compaction as up to MaxSubcompactions concurrent
// workers, each restricted to a disjoint slice of the key range. Every
// worker shares the full input file set — RawMergingIterator discards
// nothing outside a worker's own [begin, end) — but only the first worker's
// edit carries the input-file deletions, so they aren't recorded twice.
// Output file numbers come from the shared, atomically-incrementing
// Job.NextFileNumber, so they stay globally unique across workers.
type ParallelJob struct {
	Job *Job

	MaxSubcompactions int
	MinBytesPerSplit  uint64
}

// NewParallelJob wraps job with §4.13's default split tuning.
func NewParallelJob(job *Job) *ParallelJob {
	return &ParallelJob{
		Job:               job,
		MaxSubcompactions: DefaultMaxSubcompactions,
		MinBytesPerSplit:  DefaultMinBytesPerSplit,
	}
}

// Run splits c into len(bounds)-1 sub-ranges at the split points
// computeBoundaries picks (falling back to a single
// unsplit Job.Run when the inputs are too small or too narrow to split
// usefully), runs them concurrently, and merges the resulting edits into
// one.
func (pj *ParallelJob) Run(c *Compaction, v *version.Version) (*manifest.VersionEdit, error) {
	if c.IsTrivialMove() {
		return pj.Job.Run(c, v)
	}

	bounds := pj.computeBoundaries(c)
	if len(bounds) < 2 {
		return pj.Job.Run(c, v)
	}

	type result struct {
		edit *manifest.VersionEdit
		err  error
	}
	results := make([]result, len(bounds)-1)
	var wg sync.WaitGroup
	for i := 0; i < len(bounds)-1; i++ {
		i := i
		kr := keyRange{begin: bounds[i], end: bounds[i+1]}
		includeDeletions := i == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			edit, err := pj.Job.runRange(c, v, kr, includeDeletions)
			results[i] = result{edit: edit, err: err}
		}()
	}
	wg.Wait()

	merged := manifest.NewVersionEdit()
	for i, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("subcompaction %d: %w", i, r.err)
		}
		merged.DeletedFiles = append(merged.DeletedFiles, r.edit.DeletedFiles...)
		merged.NewFiles = append(merged.NewFiles, r.edit.NewFiles...)
	}
	return merged, nil
}

// computeBoundaries picks up to MaxSubcompactions+1 split points across c's
// input key range, aligned on the boundary-level (StartLevel) file
// boundaries rather than arbitrary keys — so each subcompaction's range
// lines up with whole input files instead of splitting one file's worth of
// entries across two workers. Returns nil/a single-element slice when the
// compaction is too small or too narrow to split.
func (pj *ParallelJob) computeBoundaries(c *Compaction) [][]byte {
	if pj.MaxSubcompactions < 2 {
		return nil
	}

	var totalBytes uint64
	for _, f := range c.AllFiles() {
		totalBytes += f.FileSize
	}
	if totalBytes < pj.MinBytesPerSplit {
		return nil
	}

	base := c.Inputs[0]
	keys := make([]dbformat.InternalKey, 0, len(base.Files)*2)
	for _, f := range base.Files {
		keys = append(keys, f.Smallest, f.Largest)
	}
	if len(keys) < 2 {
		return nil
	}

	n := pj.MaxSubcompactions
	if n > len(base.Files) {
		n = len(base.Files)
	}
	if n < 2 {
		return nil
	}

	step := len(base.Files) / n
	if step == 0 {
		step = 1
	}

	var inner [][]byte
	for i := step; i < len(base.Files); i += step {
		inner = append(inner, dbformat.UserKey(base.Files[i].Smallest))
	}
	// Level-0 files are ordered by file number, not by key, so the split
	// points are sorted and deduplicated to keep the ranges disjoint.
	sort.Slice(inner, func(a, b int) bool { return bytes.Compare(inner[a], inner[b]) < 0 })
	bounds := [][]byte{nil} // unbounded start
	for _, k := range inner {
		if len(bounds) > 1 && bytes.Equal(bounds[len(bounds)-1], k) {
			continue
		}
		bounds = append(bounds, k)
	}
	bounds = append(bounds, nil) // unbounded end
	return bounds
}
