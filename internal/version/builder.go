package version

import (
	"sort"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/manifest"
)

// Builder accumulates add/delete-file edits against one partition's base
// Version and produces the next Version, without materializing an
// intermediate copy per edit.
type Builder struct {
	partitionID uint32
	base        *Version

	addedFiles   [MaxNumLevels]map[uint64]*manifest.FileMetaData
	deletedFiles [MaxNumLevels]map[uint64]struct{}
}

// NewBuilder creates a Builder for partitionID starting from base, which
// may be nil for a brand-new partition.
func NewBuilder(partitionID uint32, base *Version) *Builder {
	b := &Builder{partitionID: partitionID, base: base}
	for i := range MaxNumLevels {
		b.addedFiles[i] = make(map[uint64]*manifest.FileMetaData)
		b.deletedFiles[i] = make(map[uint64]struct{})
	}
	return b
}

// ApplyDeletedFile records a delete-file edit for this partition.
func (b *Builder) ApplyDeletedFile(level int, fileNumber uint64) {
	if level < 0 || level >= MaxNumLevels {
		return
	}
	if _, wasAdded := b.addedFiles[level][fileNumber]; wasAdded {
		delete(b.addedFiles[level], fileNumber)
		return
	}
	b.deletedFiles[level][fileNumber] = struct{}{}
}

// ApplyNewFile records an add-file edit for this partition.
func (b *Builder) ApplyNewFile(level int, meta *manifest.FileMetaData) {
	if level < 0 || level >= MaxNumLevels {
		return
	}
	delete(b.deletedFiles[level], meta.FileNumber)
	b.addedFiles[level][meta.FileNumber] = meta
}

// SaveTo materializes the accumulated edits into a new Version.
func (b *Builder) SaveTo(versionNumber uint64) *Version {
	v := NewVersion(b.partitionID, versionNumber)

	for level := range MaxNumLevels {
		var files []*manifest.FileMetaData
		if b.base != nil {
			for _, f := range b.base.files[level] {
				if _, deleted := b.deletedFiles[level][f.FileNumber]; deleted {
					continue
				}
				files = append(files, f)
			}
		}
		for _, f := range b.addedFiles[level] {
			files = append(files, f)
		}

		if level == 0 {
			// L0 files may overlap; order oldest-first so a reader scanning
			// newest-first (reverse iteration) sees the freshest version.
			sort.Slice(files, func(i, j int) bool { return files[i].FileNumber < files[j].FileNumber })
		} else {
			sort.Slice(files, func(i, j int) bool {
				return dbformat.Compare(files[i].Smallest, files[j].Smallest) < 0
			})
		}
		v.files[level] = files
	}

	return v
}
