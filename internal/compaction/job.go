package compaction

import (
	"fmt"
	"path/filepath"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/iterator"
	"github.com/aalhour/rockyardkv/internal/manifest"
	"github.com/aalhour/rockyardkv/internal/table"
	"github.com/aalhour/rockyardkv/internal/version"
	"github.com/aalhour/rockyardkv/vfs"
)

// Job executes a single Compaction: opens the input files, merges them in
// internal-key order, applies §4.13's suppression rules, and writes one or
// more output table files at the target level.
type Job struct {
	DBName         string
	FS             vfs.FS
	NextFileNumber func() uint64
	TableOptions   table.ReaderOptions
	BuilderOptions table.BuilderOptions

	// SmallestSnapshot returns the sequence number of the oldest snapshot
	// still held open, and whether any snapshot is held at all. A version
	// older than this floor is unreachable by any live reader.
	SmallestSnapshot func() (seq dbformat.SequenceNumber, held bool)
}

// NewJob returns a Job with the given dependencies and default options.
func NewJob(dbName string, fs vfs.FS, nextFileNumber func() uint64) *Job {
	return &Job{
		DBName:         dbName,
		FS:             fs,
		NextFileNumber: nextFileNumber,
		TableOptions:   table.DefaultReaderOptions(),
		BuilderOptions: table.DefaultBuilderOptions(),
	}
}

// Run executes c against the partition's current Version v, returning a
// version edit that adds the outputs and deletes the inputs. It never
// installs the edit — the caller calls VersionSet.LogAndApply and, only
// after that succeeds, removes the input files from disk.
func (j *Job) Run(c *Compaction, v *version.Version) (*manifest.VersionEdit, error) {
	return j.runRange(c, v, keyRange{}, true)
}

// keyRange bounds a subcompaction's share of a Compaction's key space.
// end is exclusive; a nil bound on either side means unbounded.
type keyRange struct {
	begin, end []byte
}

// runRange is Run restricted to [begin, end), used by ParallelJob to split
// one Compaction across concurrent workers. includeDeletions controls
// whether the returned edit deletes the input files — only one
// subcompaction of a split set should carry the deletions, since they are
// shared across every sub-range.
func (j *Job) runRange(c *Compaction, v *version.Version, kr keyRange, includeDeletions bool) (*manifest.VersionEdit, error) {
	edit := manifest.NewVersionEdit()

	if c.IsTrivialMove() {
		if !includeDeletions {
			return edit, nil
		}
		f := c.Inputs[0].Files[0]
		edit.DeleteFile(c.PartitionID, c.Inputs[0].Level, f.FileNumber)
		edit.AddFile(c.PartitionID, c.OutputLevel, f)
		return edit, nil
	}

	children, closeAll, err := j.openInputIterators(c)
	if err != nil {
		return nil, err
	}
	defer closeAll()

	merged := iterator.NewRawMergingIterator(children)

	outputs, err := j.processEntries(merged, c, v, kr)
	if err != nil {
		for _, f := range outputs {
			_ = j.FS.Remove(j.sstPath(f.FileNumber))
		}
		return nil, err
	}

	if includeDeletions {
		c.AddInputDeletions(edit)
	}
	for _, f := range outputs {
		edit.AddFile(c.PartitionID, c.OutputLevel, f)
	}
	return edit, nil
}

func (j *Job) openInputIterators(c *Compaction) ([]iterator.Iterator, func(), error) {
	var children []iterator.Iterator
	var readers []*table.Reader

	closeAll := func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}

	for _, in := range c.Inputs {
		for _, f := range in.Files {
			raf, err := j.FS.OpenRandomAccess(j.sstPath(f.FileNumber))
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("compaction: open input %d: %w", f.FileNumber, err)
			}
			reader, err := table.Open(f.FileNumber, raf, j.TableOptions)
			if err != nil {
				_ = raf.Close()
				closeAll()
				return nil, nil, fmt.Errorf("compaction: open table %d: %w", f.FileNumber, err)
			}
			readers = append(readers, reader)
			children = append(children, reader.NewIterator())
		}
	}
	return children, closeAll, nil
}

// processEntries streams merged across every input version of every key,
// applying the suppression rules, and rotates output files on
// MaxOutputFileSize.
func (j *Job) processEntries(merged *iterator.RawMergingIterator, c *Compaction, v *version.Version, kr keyRange) ([]*manifest.FileMetaData, error) {
	var outputs []*manifest.FileMetaData
	var builder *table.Builder
	var currentFile vfs.WritableFile
	var currentFileNumber uint64
	var smallest, largest dbformat.InternalKey
	var minSeq, maxSeq dbformat.SequenceNumber

	floor, held := j.snapshotFloor()

	finishCurrent := func() error {
		if builder == nil {
			return nil
		}
		if err := builder.Finish(); err != nil {
			_ = currentFile.Close()
			return fmt.Errorf("compaction: finish output %d: %w", currentFileNumber, err)
		}
		size := builder.FileSize()
		if err := currentFile.Sync(); err != nil {
			_ = currentFile.Close()
			return fmt.Errorf("compaction: sync output %d: %w", currentFileNumber, err)
		}
		if err := currentFile.Close(); err != nil {
			return fmt.Errorf("compaction: close output %d: %w", currentFileNumber, err)
		}
		outputs = append(outputs, &manifest.FileMetaData{
			FileNumber:    currentFileNumber,
			FileSize:      size,
			Smallest:      append(dbformat.InternalKey(nil), smallest...),
			Largest:       append(dbformat.InternalKey(nil), largest...),
			SmallestSeqno: minSeq,
			LargestSeqno:  maxSeq,
		})
		builder = nil
		return nil
	}

	startNew := func() error {
		num := j.NextFileNumber()
		file, err := j.FS.Create(j.sstPath(num))
		if err != nil {
			return fmt.Errorf("compaction: create output %d: %w", num, err)
		}
		currentFile = file
		currentFileNumber = num
		builder = table.NewBuilder(file, j.BuilderOptions)
		smallest, largest = nil, nil
		minSeq, maxSeq = dbformat.MaxSequenceNumber, 0
		return nil
	}

	var lastUserKey []byte
	firstOfRun := true
	keptFloorVersion := false

	if kr.begin != nil {
		merged.Seek(dbformat.SeekKey(kr.begin, dbformat.MaxSequenceNumber))
	} else {
		merged.SeekToFirst()
	}
	for merged.Valid() {
		key := merged.Key()
		value := merged.Value()
		userKey := dbformat.UserKey(key)
		seq := dbformat.ExtractSequence(key)
		kind := dbformat.ExtractKind(key)

		if kr.end != nil && dbformat.CompareUserKeys(userKey, kr.end) >= 0 {
			break
		}

		if lastUserKey == nil || dbformat.CompareUserKeys(userKey, lastUserKey) != 0 {
			lastUserKey = append(lastUserKey[:0], userKey...)
			firstOfRun = true
			keptFloorVersion = false
		}

		// Every user key's newest version is always kept (modulo the
		// unreachable-tombstone case below). Below that, at most one older
		// version survives: the newest one at or below the smallest live
		// snapshot's sequence, since that's the version such a snapshot's
		// reads resolve to. Once that version has been kept, every still
		// older version is invisible to any live reader and is dropped.
		drop := false
		switch {
		case firstOfRun:
			if kind == dbformat.KindTombstone {
				deletionUnreachable := (!held || seq < floor) && !keyExistsBelow(v, c.OutputLevel, userKey)
				if deletionUnreachable {
					drop = true
					// Every older version is shadowed for every reader too.
					keptFloorVersion = true
				}
			}
		default:
			if !held {
				drop = true
			} else if seq < floor && keptFloorVersion {
				drop = true
			}
		}
		firstOfRun = false

		if !drop && held && seq <= floor {
			keptFloorVersion = true
		}

		if drop {
			merged.Next()
			continue
		}

		if builder == nil || builder.FileSize() >= c.MaxOutputFileSize {
			if err := finishCurrent(); err != nil {
				return outputs, err
			}
			if err := startNew(); err != nil {
				return outputs, err
			}
		}

		if err := builder.Add(key, value); err != nil {
			return outputs, fmt.Errorf("compaction: add entry: %w", err)
		}
		if smallest == nil {
			smallest = append(dbformat.InternalKey(nil), key...)
		}
		largest = append(largest[:0], key...)
		if seq < minSeq {
			minSeq = seq
		}
		if seq > maxSeq {
			maxSeq = seq
		}

		merged.Next()
	}
	if err := merged.Error(); err != nil {
		return outputs, fmt.Errorf("compaction: merge: %w", err)
	}

	if err := finishCurrent(); err != nil {
		return outputs, err
	}
	return outputs, nil
}

func (j *Job) snapshotFloor() (dbformat.SequenceNumber, bool) {
	if j.SmallestSnapshot == nil {
		return 0, false
	}
	return j.SmallestSnapshot()
}

// keyExistsBelow reports whether any file at a level strictly below
// outputLevel could hold userKey — an approximate, boundary-only check
// (it does not open the file to confirm membership), the same
// approximation production LSM engines use to keep this cheap.
func keyExistsBelow(v *version.Version, outputLevel int, userKey []byte) bool {
	lo := dbformat.SeekKey(userKey, dbformat.MaxSequenceNumber)
	hi := dbformat.Encode(userKey, 0, dbformat.KindTombstone)
	for level := outputLevel + 1; level < version.MaxNumLevels; level++ {
		if len(v.OverlappingInputs(level, lo, hi)) > 0 {
			return true
		}
	}
	return false
}

func (j *Job) sstPath(fileNumber uint64) string {
	return filepath.Join(j.DBName, fmt.Sprintf("%06d.sst", fileNumber))
}
