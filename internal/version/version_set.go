package version

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/manifest"
	"github.com/aalhour/rockyardkv/internal/wal"
	"github.com/aalhour/rockyardkv/vfs"
)

// Errors returned by VersionSet operations.
var (
	ErrNoCurrentManifest  = errors.New("version: no CURRENT file")
	ErrInvalidManifest    = errors.New("version: malformed CURRENT file")
	ErrManifestIncomplete = errors.New("version: manifest missing required field")
	ErrComparatorMismatch = errors.New("version: comparator mismatch")
	ErrUnknownPartition   = errors.New("version: unknown partition")
)

const (
	// DefaultPartitionID is the id of the always-present partition a
	// database is created with, analogous to "default column family".
	DefaultPartitionID uint32 = 0
	defaultComparator         = "lsmkv.BytewiseComparator"
)

// Options configures a VersionSet.
type Options struct {
	DBName         string
	FS             vfs.FS
	ComparatorName string
}

// PartitionInfo names a live partition.
type PartitionInfo struct {
	ID   uint32
	Name string
}

// VersionSet owns the current Version of every partition plus the shared
// file-number and sequence-number counters and the manifest writer, per
// §4.12/§4.14.
type VersionSet struct {
	mu sync.Mutex

	opts Options

	partitions      map[uint32]*Version
	partitionNames  map[string]uint32
	compactPointers map[uint32][MaxNumLevels]dbformat.InternalKey

	nextPartitionID uint32
	nextFileNumber  uint64
	lastSequence    uint64
	logNumber       uint64
	versionNumber   uint64

	manifestFileNumber uint64
	manifestFile       vfs.WritableFile
	manifestWriter     *wal.Writer
}

// NewVersionSet creates an empty, unopened VersionSet.
func NewVersionSet(opts Options) *VersionSet {
	if opts.ComparatorName == "" {
		opts.ComparatorName = defaultComparator
	}
	return &VersionSet{
		opts:            opts,
		partitions:      make(map[uint32]*Version),
		partitionNames:  make(map[string]uint32),
		compactPointers: make(map[uint32][MaxNumLevels]dbformat.InternalKey),
		nextFileNumber:  1,
	}
}

// Create initializes a brand-new database: an empty default partition and
// a fresh manifest recording it.
func (vs *VersionSet) Create() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	edit := manifest.NewVersionEdit()
	edit.SetComparatorName(vs.opts.ComparatorName)
	edit.SetLogNumber(0)
	edit.SetLastSequence(0)
	edit.CreatePartition(DefaultPartitionID, "default")

	return vs.logAndApplyLocked(edit)
}

// Current returns the current Version of partitionID and whether it
// exists. The caller should Ref it before using it beyond the current
// critical section if it may outlive a concurrent LogAndApply.
func (vs *VersionSet) Current(partitionID uint32) (*Version, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.partitions[partitionID]
	return v, ok
}

// Partitions lists every live partition.
func (vs *VersionSet) Partitions() []PartitionInfo {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]PartitionInfo, 0, len(vs.partitionNames))
	for name, id := range vs.partitionNames {
		out = append(out, PartitionInfo{ID: id, Name: name})
	}
	return out
}

// PartitionByName looks up a partition id by name.
func (vs *VersionSet) PartitionByName(name string) (uint32, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	id, ok := vs.partitionNames[name]
	return id, ok
}

// NextFileNumber allocates a new globally-unique file number.
func (vs *VersionSet) NextFileNumber() uint64 {
	return atomic.AddUint64(&vs.nextFileNumber, 1) - 1
}

// NextPartitionID allocates a new partition id.
func (vs *VersionSet) NextPartitionID() uint32 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.nextPartitionID++
	return vs.nextPartitionID
}

// LastSequence returns the last sequence number assigned to a write.
func (vs *VersionSet) LastSequence() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(atomic.LoadUint64(&vs.lastSequence))
}

// SetLastSequence records the last sequence number assigned.
func (vs *VersionSet) SetLastSequence(seq dbformat.SequenceNumber) {
	atomic.StoreUint64(&vs.lastSequence, uint64(seq))
}

// LogNumber returns the active WAL file number.
func (vs *VersionSet) LogNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.logNumber
}

// CompactPointer returns the stored compaction cursor for (partitionID,
// level): the smallest key greater than the last key compacted out of it.
func (vs *VersionSet) CompactPointer(partitionID uint32, level int) dbformat.InternalKey {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	return vs.compactPointers[partitionID][level]
}

func (vs *VersionSet) nextVersionNumber() uint64 {
	return atomic.AddUint64(&vs.versionNumber, 1)
}

// LogAndApply appends edit to the manifest, flushes it durably, and only
// then installs the versions it implies: one new Version per partition the
// edit touches, plus any partition create/drop. Never mutates a published
// Version.
func (vs *VersionSet) LogAndApply(edit *manifest.VersionEdit) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.logAndApplyLocked(edit)
}

func (vs *VersionSet) logAndApplyLocked(edit *manifest.VersionEdit) error {
	builders := make(map[uint32]*Builder)
	builderFor := func(partitionID uint32) *Builder {
		if b, ok := builders[partitionID]; ok {
			return b
		}
		b := NewBuilder(partitionID, vs.partitions[partitionID])
		builders[partitionID] = b
		return b
	}

	for _, df := range edit.DeletedFiles {
		builderFor(df.PartitionID).ApplyDeletedFile(df.Level, df.FileNumber)
	}
	for _, nf := range edit.NewFiles {
		builderFor(nf.PartitionID).ApplyNewFile(nf.Level, nf.Meta)
	}

	// Persist the counters every edit makes durable, so recovery never
	// reuses a file number or regresses the sequence counter.
	edit.SetNextFileNumber(atomic.LoadUint64(&vs.nextFileNumber))
	if !edit.HasLastSequence {
		edit.SetLastSequence(vs.LastSequence())
	}

	encoded := edit.EncodeTo(nil)

	newManifest := false
	if vs.manifestWriter == nil {
		manifestNum := vs.NextFileNumber()
		file, err := vs.opts.FS.Create(vs.manifestFilePath(manifestNum))
		if err != nil {
			return err
		}
		vs.manifestFile = file
		vs.manifestWriter = wal.NewWriter(file, true)
		vs.manifestFileNumber = manifestNum
		newManifest = true
	}

	if err := vs.manifestWriter.AddRecord(encoded); err != nil {
		return err
	}
	if err := vs.manifestWriter.Commit(); err != nil {
		return err
	}

	if newManifest {
		if err := vs.setCurrentFile(vs.manifestFileNumber); err != nil {
			return err
		}
	}

	// Durable now: install the new state.
	for _, cp := range edit.CompactPointers {
		pointers := vs.compactPointers[cp.PartitionID]
		pointers[cp.Level] = cp.Key
		vs.compactPointers[cp.PartitionID] = pointers
	}
	for _, pc := range edit.PartitionCreates {
		vs.partitionNames[pc.Name] = pc.PartitionID
		if _, exists := builders[pc.PartitionID]; !exists {
			builders[pc.PartitionID] = NewBuilder(pc.PartitionID, nil)
		}
	}
	for partitionID, builder := range builders {
		newVersion := builder.SaveTo(vs.nextVersionNumber())
		newVersion.Ref()
		old, existed := vs.partitions[partitionID]
		vs.partitions[partitionID] = newVersion
		if existed {
			old.Unref()
		}
	}
	for _, id := range edit.PartitionDrops {
		if old, ok := vs.partitions[id]; ok {
			old.Unref()
			delete(vs.partitions, id)
		}
		for name, pid := range vs.partitionNames {
			if pid == id {
				delete(vs.partitionNames, name)
			}
		}
		delete(vs.compactPointers, id)
	}
	if edit.HasLogNumber {
		vs.logNumber = edit.LogNumber
	}

	return nil
}

// Recover reads CURRENT and replays the manifest it names, rebuilding the
// current Version of every partition plus the shared counters.
func (vs *VersionSet) Recover() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	currentPath := filepath.Join(vs.opts.DBName, "CURRENT")
	data, err := vs.readFile(currentPath)
	if err != nil {
		return ErrNoCurrentManifest
	}
	manifestName := strings.TrimSpace(string(data))
	manifestNum, ok := parseManifestName(manifestName)
	if !ok {
		return ErrInvalidManifest
	}

	f, err := vs.opts.FS.Open(filepath.Join(vs.opts.DBName, manifestName))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	reader := wal.NewReader(f, false)
	builders := make(map[uint32]*Builder)
	partitionNames := make(map[string]uint32)

	var hasLogNumber, hasNextFileNumber, hasLastSequence bool
	maxFileNumSeen := manifestNum

	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("version: manifest read: %w", err)
		}

		edit := manifest.NewVersionEdit()
		if err := edit.DecodeFrom(record); err != nil {
			return fmt.Errorf("version: manifest decode: %w", err)
		}

		if edit.HasComparator && edit.Comparator != vs.opts.ComparatorName {
			return fmt.Errorf("%w: database uses %q, opening with %q",
				ErrComparatorMismatch, edit.Comparator, vs.opts.ComparatorName)
		}
		if edit.HasLogNumber {
			hasLogNumber = true
			vs.logNumber = edit.LogNumber
			if edit.LogNumber > maxFileNumSeen {
				maxFileNumSeen = edit.LogNumber
			}
		}
		if edit.HasNextFileNumber {
			hasNextFileNumber = true
			atomic.StoreUint64(&vs.nextFileNumber, edit.NextFileNumber)
		}
		if edit.HasLastSequence {
			hasLastSequence = true
			atomic.StoreUint64(&vs.lastSequence, uint64(edit.LastSequence))
		}

		builderFor := func(partitionID uint32) *Builder {
			if b, ok := builders[partitionID]; ok {
				return b
			}
			b := NewBuilder(partitionID, nil)
			builders[partitionID] = b
			return b
		}
		for _, df := range edit.DeletedFiles {
			builderFor(df.PartitionID).ApplyDeletedFile(df.Level, df.FileNumber)
		}
		for _, nf := range edit.NewFiles {
			builderFor(nf.PartitionID).ApplyNewFile(nf.Level, nf.Meta)
			if nf.Meta.FileNumber > maxFileNumSeen {
				maxFileNumSeen = nf.Meta.FileNumber
			}
		}
		for _, cp := range edit.CompactPointers {
			pointers := vs.compactPointers[cp.PartitionID]
			pointers[cp.Level] = cp.Key
			vs.compactPointers[cp.PartitionID] = pointers
		}
		for _, pc := range edit.PartitionCreates {
			partitionNames[pc.Name] = pc.PartitionID
			builderFor(pc.PartitionID)
			if pc.PartitionID > vs.nextPartitionID {
				vs.nextPartitionID = pc.PartitionID
			}
		}
		for _, id := range edit.PartitionDrops {
			delete(builders, id)
			for name, pid := range partitionNames {
				if pid == id {
					delete(partitionNames, name)
				}
			}
		}
	}

	if !hasLogNumber || !hasLastSequence {
		return ErrManifestIncomplete
	}
	if !hasNextFileNumber || atomic.LoadUint64(&vs.nextFileNumber) <= maxFileNumSeen {
		atomic.StoreUint64(&vs.nextFileNumber, maxFileNumSeen+1)
	}

	vs.partitions = make(map[uint32]*Version, len(builders))
	for partitionID, builder := range builders {
		v := builder.SaveTo(vs.nextVersionNumber())
		v.Ref()
		vs.partitions[partitionID] = v
	}
	vs.partitionNames = partitionNames
	vs.manifestFileNumber = manifestNum

	return nil
}

// SyncManifest forces the manifest file to stable storage, used before a
// checkpoint copies it.
func (vs *VersionSet) SyncManifest() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.manifestFile == nil {
		return nil
	}
	return vs.manifestFile.Sync()
}

// ManifestPath returns the path of the currently active manifest file.
func (vs *VersionSet) ManifestPath() string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.manifestFilePath(vs.manifestFileNumber)
}

// Close releases the manifest file handle.
func (vs *VersionSet) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.manifestFile == nil {
		return nil
	}
	err := vs.manifestFile.Close()
	vs.manifestFile, vs.manifestWriter = nil, nil
	return err
}

func (vs *VersionSet) manifestFilePath(num uint64) string {
	return filepath.Join(vs.opts.DBName, fmt.Sprintf("MANIFEST-%06d", num))
}

// setCurrentFile atomically repoints CURRENT at manifestNum: write a temp
// file, sync it, rename over CURRENT, then sync the directory so the
// rename itself is durable.
func (vs *VersionSet) setCurrentFile(manifestNum uint64) error {
	tempPath := filepath.Join(vs.opts.DBName, "CURRENT.tmp")
	currentPath := filepath.Join(vs.opts.DBName, "CURRENT")
	content := fmt.Sprintf("MANIFEST-%06d\n", manifestNum)

	tempFile, err := vs.opts.FS.Create(tempPath)
	if err != nil {
		return fmt.Errorf("version: create CURRENT.tmp: %w", err)
	}
	if _, err := tempFile.Write([]byte(content)); err != nil {
		_ = tempFile.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("version: write CURRENT.tmp: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("version: sync CURRENT.tmp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("version: close CURRENT.tmp: %w", err)
	}
	if err := vs.opts.FS.Rename(tempPath, currentPath); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("version: rename CURRENT: %w", err)
	}
	return vs.opts.FS.SyncDir(vs.opts.DBName)
}

func (vs *VersionSet) readFile(path string) ([]byte, error) {
	f, err := vs.opts.FS.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func parseManifestName(name string) (uint64, bool) {
	numStr, ok := strings.CutPrefix(name, "MANIFEST-")
	if !ok {
		return 0, false
	}
	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return num, true
}
