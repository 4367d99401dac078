package rockyardkv

// compact_range.go implements §4.15's manual range compaction: force every
// file overlapping a key range down through the tree one level at a time,
// instead of waiting for the background picker's score to reach it on its
// own schedule. Grounded on the teacher's TestCompactRange-style manual
// compaction entry point, rebuilt against this module's compaction.New /
// Job API rather than the teacher's CompactionStyle switch.

import (
	"fmt"

	"github.com/aalhour/rockyardkv/internal/compaction"
	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/version"
)

// CompactRange forces every file in partitionID overlapping
// [opts.Begin, opts.End) through compaction, one level at a time, down to
// the bottom level. A nil Begin or End is unbounded on that side. Returns
// once every affected level has finished, or the first error from
// selecting or starting a level's compaction. A failure inside a
// compaction job itself is logged and does not make CompactRange return
// an error.
func (db *DB) CompactRange(partitionID uint32, opts *CompactRangeOptions) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if opts == nil {
		opts = &CompactRangeOptions{}
	}

	var begin, end dbformat.InternalKey
	if opts.Begin != nil {
		begin = dbformat.SeekKey(opts.Begin, dbformat.MaxSequenceNumber)
	}
	if opts.End != nil {
		end = dbformat.SeekKey(opts.End, dbformat.MaxSequenceNumber)
	}

	for level := 0; level < version.MaxNumLevels-1; level++ {
		if err := db.compactRangeAtLevel(partitionID, level, begin, end); err != nil {
			return err
		}
	}
	return nil
}

// compactRangeAtLevel compacts every file at level overlapping [begin, end]
// together with whatever overlaps their combined key range one level down,
// the same input-selection rule the background picker applies, just
// seeded from the requested range instead of a compaction pointer.
func (db *DB) compactRangeAtLevel(partitionID uint32, level int, begin, end dbformat.InternalKey) error {
	v, ok := db.versions.Current(partitionID)
	if !ok {
		return fmt.Errorf("%w: unknown partition %d", ErrInvalidArgument, partitionID)
	}
	v.Ref()

	inputs := v.OverlappingInputs(level, begin, end)
	if len(inputs) == 0 {
		v.Unref()
		return nil
	}

	smallest, largest := inputs[0].Smallest, inputs[0].Largest
	for _, f := range inputs[1:] {
		if dbformat.Compare(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if dbformat.Compare(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	parent := v.OverlappingInputs(level+1, smallest, largest)

	c := compaction.New(partitionID, []compaction.InputFiles{
		{Level: level, Files: inputs},
		{Level: level + 1, Files: parent},
	}, level+1, db.picker.MaxOutputFileSize)
	c.Reason = compaction.ReasonManual

	key := compactKey{partitionID: partitionID, level: level}
	db.mu.Lock()
	if db.compacting[key] {
		db.mu.Unlock()
		v.Unref()
		return fmt.Errorf("%w: partition %d level %d already compacting", ErrBusy, partitionID, level)
	}
	db.compacting[key] = true
	db.mu.Unlock()

	c.MarkBeingCompacted(true)
	db.bgWG.Add(1)
	db.runCompaction(key, c, v)
	return nil
}
