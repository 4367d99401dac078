// Package version implements the version set described in §4.12: an
// immutable, reference-counted snapshot of one partition's file lists per
// level, plus the set that tracks the current version of every partition
// alongside the shared file-number/sequence counters and manifest writer.
package version

import (
	"sync/atomic"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/manifest"
)

// MaxNumLevels is the number of levels in the LSM tree, L0 through L6.
const MaxNumLevels = 7

// Version is an immutable snapshot of one partition's file lists. New
// versions are produced by applying a VersionEdit via Builder; an existing
// Version is never mutated in place.
type Version struct {
	PartitionID uint32

	files [MaxNumLevels][]*manifest.FileMetaData

	refs          int32
	versionNumber uint64
}

// NewVersion returns a new, unreferenced, empty Version for partitionID.
func NewVersion(partitionID uint32, versionNumber uint64) *Version {
	return &Version{PartitionID: partitionID, versionNumber: versionNumber}
}

// Ref increments the reference count. Held by the version set's current
// pointer and by any iterator or read still walking this snapshot.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count. A Version holds no resources of its
// own to release when it reaches zero — its file metadata lives on disk,
// not in memory — so Unref only needs to track liveness for callers that
// want to know whether they were the last holder.
func (v *Version) Unref() bool {
	return atomic.AddInt32(&v.refs, -1) == 0
}

// VersionNumber returns a monotonic id for debugging/logging.
func (v *Version) VersionNumber() uint64 { return v.versionNumber }

// NumFiles returns the number of files at level.
func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	return len(v.files[level])
}

// Files returns the files at level, sorted per Builder.SaveTo's ordering
// (by file number for L0, by smallest key for L1+). Callers must not
// mutate the returned slice.
func (v *Version) Files(level int) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	return v.files[level]
}

// TotalFiles returns the file count across every level.
func (v *Version) TotalFiles() int {
	total := 0
	for level := range MaxNumLevels {
		total += len(v.files[level])
	}
	return total
}

// NumLevelBytes returns the total file size at level.
func (v *Version) NumLevelBytes(level int) uint64 {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	var size uint64
	for _, f := range v.files[level] {
		size += f.FileSize
	}
	return size
}

// OverlappingInputs returns the files at level whose internal key range
// intersects [begin, end]. A nil bound means "unbounded" on that side.
func (v *Version) OverlappingInputs(level int, begin, end dbformat.InternalKey) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}

	var result []*manifest.FileMetaData
	for _, f := range v.files[level] {
		if begin != nil && dbformat.Compare(f.Largest, begin) < 0 {
			continue
		}
		if end != nil && dbformat.Compare(f.Smallest, end) > 0 {
			continue
		}
		result = append(result, f)
	}
	return result
}
