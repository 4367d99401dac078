// Package flush implements §4.15's flush procedure: build a table writer
// from an immutable memtable's iterator, emit one or more level-0 files,
// and produce the file metadata for a version edit.
package flush

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/manifest"
	"github.com/aalhour/rockyardkv/internal/memtable"
	"github.com/aalhour/rockyardkv/internal/table"
	"github.com/aalhour/rockyardkv/vfs"
)

// ErrNoOutput is returned when a flush is asked to drain an empty memtable.
var ErrNoOutput = errors.New("flush: no output")

// Job flushes one partition's immutable memtable to one or more level-0
// table files.
type Job struct {
	DBName         string
	FS             vfs.FS
	PartitionID    uint32
	NextFileNumber func() uint64

	// MaxOutputFileSize rotates to a new output file once the current one
	// reaches this size, the same cap compaction jobs use.
	MaxOutputFileSize uint64

	BuilderOptions table.BuilderOptions
}

// NewJob returns a Job with default builder options and output rotation
// disabled (a single output file) unless MaxOutputFileSize is set
// afterward.
func NewJob(dbName string, fs vfs.FS, partitionID uint32, nextFileNumber func() uint64) *Job {
	return &Job{
		DBName:         dbName,
		FS:             fs,
		PartitionID:    partitionID,
		NextFileNumber: nextFileNumber,
		BuilderOptions: table.DefaultBuilderOptions(),
	}
}

// Run drains mem in key order into one or more level-0 files, returning
// their metadata. The caller is responsible for issuing the version edit
// that adds them and for dropping mem and its log only once that edit is
// durable.
func (j *Job) Run(mem *memtable.MemTable) ([]*manifest.FileMetaData, error) {
	it := mem.NewIterator()
	it.SeekToFirst()
	if !it.Valid() {
		return nil, ErrNoOutput
	}

	var outputs []*manifest.FileMetaData
	var builder *table.Builder
	var currentFile vfs.WritableFile
	var currentFileNumber uint64
	var smallest, largest dbformat.InternalKey
	var minSeq, maxSeq dbformat.SequenceNumber

	startNew := func() error {
		num := j.NextFileNumber()
		file, err := j.FS.Create(j.sstPath(num))
		if err != nil {
			return fmt.Errorf("flush: create output %d: %w", num, err)
		}
		currentFile = file
		currentFileNumber = num
		builder = table.NewBuilder(file, j.BuilderOptions)
		smallest, largest = nil, nil
		minSeq, maxSeq = dbformat.MaxSequenceNumber, 0
		return nil
	}

	finishCurrent := func() error {
		if builder == nil {
			return nil
		}
		if err := builder.Finish(); err != nil {
			_ = currentFile.Close()
			return fmt.Errorf("flush: finish output %d: %w", currentFileNumber, err)
		}
		size := builder.FileSize()
		if err := currentFile.Sync(); err != nil {
			_ = currentFile.Close()
			return fmt.Errorf("flush: sync output %d: %w", currentFileNumber, err)
		}
		if err := currentFile.Close(); err != nil {
			return fmt.Errorf("flush: close output %d: %w", currentFileNumber, err)
		}
		if err := j.FS.SyncDir(j.DBName); err != nil {
			return fmt.Errorf("flush: sync directory: %w", err)
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

	for it.Valid() {
		key := it.Key()
		value := it.Value()
		seq := dbformat.ExtractSequence(key)

		if builder == nil || (j.MaxOutputFileSize > 0 && builder.FileSize() >= j.MaxOutputFileSize) {
			if err := finishCurrent(); err != nil {
				return outputs, err
			}
			if err := startNew(); err != nil {
				return outputs, err
			}
		}

		if err := builder.Add(key, value); err != nil {
			return outputs, fmt.Errorf("flush: add entry: %w", err)
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

		it.Next()
	}
	if err := it.Error(); err != nil {
		return outputs, fmt.Errorf("flush: memtable iteration: %w", err)
	}

	if err := finishCurrent(); err != nil {
		return outputs, err
	}
	return outputs, nil
}

func (j *Job) sstPath(fileNumber uint64) string {
	return filepath.Join(j.DBName, fmt.Sprintf("%06d.sst", fileNumber))
}
