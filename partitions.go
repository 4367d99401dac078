package rockyardkv

// partitions.go implements §4.15's create_partition/drop_partition/
// list_partitions operations (§4.14's column family set), the public face
// of internal/partition.Set. Create and drop each issue a version edit
// with a dedicated tag before the in-memory set is touched, so recovery
// rebuilds the partition table from the manifest before it ever replays a
// WAL record against it.

import (
	"fmt"

	"github.com/aalhour/rockyardkv/internal/logging"
	"github.com/aalhour/rockyardkv/internal/manifest"
	"github.com/aalhour/rockyardkv/internal/version"
)

// Partition identifies a column family by id and name.
type Partition struct {
	ID   uint32
	Name string
}

// DefaultPartitionID is the id of the partition every opened DB already
// has, without a call to CreatePartition. It cannot be dropped.
const DefaultPartitionID = version.DefaultPartitionID

// CreatePartition registers a new partition under name and returns its
// handle. The manifest edit is durable before the partition becomes
// visible to Put/Delete/Get/Write.
func (db *DB) CreatePartition(name string, _ *PartitionOptions) (Partition, error) {
	if db.closed.Load() {
		return Partition{}, ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.partitions.ByName(name); ok {
		return Partition{}, fmt.Errorf("%w: partition %q already exists", ErrInvalidArgument, name)
	}

	id := db.versions.NextPartitionID()
	edit := manifest.NewVersionEdit()
	edit.CreatePartition(id, name)
	if err := db.versions.LogAndApply(edit); err != nil {
		return Partition{}, fmt.Errorf("%w: %v", ErrIOError, err)
	}

	if _, err := db.partitions.Create(id, name); err != nil {
		return Partition{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return Partition{ID: id, Name: name}, nil
}

// DropPartition removes a partition. Once the version set no longer
// tracks it, nothing will ever compact its files again — a Version holds
// no refcounted resources to release on its own (see
// internal/version.Version.Unref) — so drop takes its current file list
// before the edit lands and removes them from disk itself rather than
// leaving them to a reclaim pass that would never run.
func (db *DB) DropPartition(p Partition) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if p.ID == version.DefaultPartitionID {
		return fmt.Errorf("%w: the default partition cannot be dropped", ErrInvalidArgument)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	v, ok := db.versions.Current(p.ID)
	if !ok {
		return fmt.Errorf("%w: unknown partition", ErrInvalidArgument)
	}
	v.Ref()
	var orphaned []uint64
	for level := 0; level < version.MaxNumLevels; level++ {
		for _, f := range v.Files(level) {
			orphaned = append(orphaned, f.FileNumber)
		}
	}
	v.Unref()

	edit := manifest.NewVersionEdit()
	edit.DropPartition(p.ID)
	if err := db.versions.LogAndApply(edit); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}

	if err := db.partitions.Drop(p.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	for _, num := range orphaned {
		db.tableCache.Evict(num)
		if err := db.fs.Remove(db.sstPath(num)); err != nil {
			db.logger.Warnf(logging.NSCompact+"remove file %d from dropped partition %d: %v", num, p.ID, err)
		}
	}
	return nil
}

// ListPartitions returns every live partition.
func (db *DB) ListPartitions() []Partition {
	infos := db.partitions.List()
	out := make([]Partition, len(infos))
	for i, info := range infos {
		out[i] = Partition{ID: info.ID, Name: info.Name}
	}
	return out
}

// partitionIDByName resolves name to an id, used by the CLI and tests that
// address a partition by name rather than by handle.
func (db *DB) partitionIDByName(name string) (uint32, bool) {
	st, ok := db.partitions.ByName(name)
	if !ok {
		return 0, false
	}
	return st.ID, true
}
