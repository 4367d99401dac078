package rockyardkv

// checkpoint.go implements §4.15's checkpoint operation: a point-in-time,
// crash-consistent copy of the database directory that shares SST bytes
// with the source via hard links where the destination filesystem allows
// it, falling back to a full copy otherwise (§9's "checkpoint via hard
// links" note). SST files are immutable once written — a compaction never
// rewrites one in place, only replaces it with a new file under a new
// number — so linking them into a second directory is always safe,
// regardless of what happens to the source afterward.

import (
	"fmt"
	"path/filepath"

	"github.com/aalhour/rockyardkv/internal/version"
	"github.com/aalhour/rockyardkv/vfs"
)

// Checkpoint writes a consistent snapshot of the database to destDir, which
// must not already exist. Every partition's mutable memtable is flushed
// first, so the checkpoint captures every write already acknowledged to a
// caller of Write. The destination is itself a valid, independently
// openable database directory: Open(destDir, ...) recovers it the same way
// it would recover a copy made by tar or rsync while the source was
// stopped.
func (db *DB) Checkpoint(destDir string) error {
	if db.closed.Load() {
		return ErrClosed
	}

	if err := db.flushAllSync(); err != nil {
		return fmt.Errorf("%w: flush before checkpoint: %v", ErrIOError, err)
	}

	if err := db.fs.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("%w: create checkpoint directory: %v", ErrIOError, err)
	}

	db.mu.Lock()
	err := db.linkLiveFilesLocked(destDir)
	db.mu.Unlock()
	if err != nil {
		return err
	}

	if err := db.versions.SyncManifest(); err != nil {
		return fmt.Errorf("%w: sync manifest: %v", ErrIOError, err)
	}
	manifestName := filepath.Base(db.versions.ManifestPath())
	destManifestPath := filepath.Join(destDir, manifestName)
	if err := db.fs.LinkOrCopy(db.versions.ManifestPath(), destManifestPath); err != nil {
		return fmt.Errorf("%w: link manifest: %v", ErrIOError, err)
	}

	if err := writeCurrentFile(db.fs, destDir, manifestName); err != nil {
		return fmt.Errorf("%w: write CURRENT: %v", ErrIOError, err)
	}
	return nil
}

// linkLiveFilesLocked links every SST file referenced by any partition's
// current version into destDir. Requires db.mu, so that no compaction
// installs an edit retiring one of these files out from under the copy
// between the moment it is read here and the moment it's linked.
func (db *DB) linkLiveFilesLocked(destDir string) error {
	for _, info := range db.partitions.List() {
		v, ok := db.versions.Current(info.ID)
		if !ok {
			continue
		}
		v.Ref()
		err := db.linkPartitionFilesLocked(v, destDir)
		v.Unref()
		if err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) linkPartitionFilesLocked(v *version.Version, destDir string) error {
	for level := 0; level < version.MaxNumLevels; level++ {
		for _, f := range v.Files(level) {
			src := db.sstPath(f.FileNumber)
			dst := filepath.Join(destDir, filepath.Base(src))
			if err := db.fs.LinkOrCopy(src, dst); err != nil {
				return fmt.Errorf("%w: link table %d: %v", ErrIOError, f.FileNumber, err)
			}
		}
	}
	return nil
}

// writeCurrentFile atomically writes destDir's own CURRENT pointer,
// mirroring the write-temp/sync/rename/sync-dir pattern the version set
// uses to repoint its own CURRENT after a manifest rewrite.
func writeCurrentFile(fs vfs.FS, destDir, manifestName string) error {
	tempPath := filepath.Join(destDir, "CURRENT.tmp")
	currentPath := filepath.Join(destDir, "CURRENT")
	content := manifestName + "\n"

	f, err := fs.Create(tempPath)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(content)); err != nil {
		_ = f.Close()
		_ = fs.Remove(tempPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fs.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tempPath)
		return err
	}
	if err := fs.Rename(tempPath, currentPath); err != nil {
		_ = fs.Remove(tempPath)
		return err
	}
	return fs.SyncDir(destDir)
}
