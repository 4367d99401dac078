package rockyardkv

// db.go wires together the write-ahead log, memory tables, version set,
// and background workers into the open DB handle itself: Open/Close,
// the Put/Delete/Get/Write/NewIterator entry points, and the
// recovery/rotation/flush machinery that keeps a partition's on-disk
// state consistent with its WAL.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockyardkv/internal/batch"
	"github.com/aalhour/rockyardkv/internal/cache"
	"github.com/aalhour/rockyardkv/internal/compaction"
	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/flush"
	"github.com/aalhour/rockyardkv/internal/iterator"
	"github.com/aalhour/rockyardkv/internal/logging"
	"github.com/aalhour/rockyardkv/internal/manifest"
	"github.com/aalhour/rockyardkv/internal/memtable"
	"github.com/aalhour/rockyardkv/internal/partition"
	"github.com/aalhour/rockyardkv/internal/table"
	"github.com/aalhour/rockyardkv/internal/version"
	"github.com/aalhour/rockyardkv/internal/wal"
	"github.com/aalhour/rockyardkv/vfs"
)

// approxBlockBytes estimates a data block's decompressed size, used only
// to translate Options.BlockCacheBlocks into a byte capacity for the
// underlying ShardedLRU.
const approxBlockBytes = 4096

// DB is one open engine instance (§4.15). Safe for concurrent use by
// multiple goroutines once Open returns.
type DB struct {
	name   string
	opts   *Options
	fs     vfs.FS
	logger Logger

	mu              sync.Mutex
	versions        *version.VersionSet
	partitions      *partition.Set
	logFile         vfs.WritableFile
	logFileNumber   uint64
	logWriter       *wal.Writer
	obsoleteLogs    []*obsoleteLog
	compacting      map[compactKey]bool
	closed          atomic.Bool
	backgroundError atomic.Pointer[error]

	writeMu sync.Mutex

	blockCache *cache.BlockCache
	tableCache *table.Cache
	picker     *compaction.Picker

	writeController *writeController
	snapshots       *snapshotList
	stats           *statistics

	bgSignal chan struct{}
	bgStop   chan struct{}
	bgWG     sync.WaitGroup
	closeWG  sync.WaitGroup
}

// compactKey identifies an in-flight compaction so at most one per
// (partition, level) runs at a time, per §5.
type compactKey struct {
	partitionID uint32
	level       int
}

// obsoleteLog tracks a rotated-out WAL file that cannot be removed, and
// whose generation cannot advance the manifest's LogNumber, until every
// immutable memtable it covers has been durably flushed. This mirrors the
// teacher's own recover() comment: LogNumber only moves forward once a
// flush completes, so a crash before that always finds the data it needs
// to replay.
type obsoleteLog struct {
	fileNumber   uint64
	supersededBy uint64
	waiting      map[uint32]bool
}

// Open opens (or creates) a database at path.
func Open(path string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	fs := opts.FS
	if fs == nil {
		fs = vfs.Default()
	}
	logger := logging.OrDefault(opts.Logger)

	exists := fs.Exists(filepath.Join(path, "CURRENT"))
	if exists && opts.ErrorIfExists {
		return nil, fmt.Errorf("%w: database already exists at %s", ErrInvalidArgument, path)
	}
	if !exists {
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: no database at %s", ErrInvalidArgument, path)
		}
		if err := fs.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory: %v", ErrIOError, err)
		}
	}

	vs := version.NewVersionSet(version.Options{DBName: path, FS: fs})
	blockCache := cache.NewBlockCache(opts.BlockCacheBlocks * approxBlockBytes)
	tableCache := table.NewCache(fs, path, opts.TableCacheFiles, table.ReaderOptions{
		MaxFilterPreloadSize: 64 * 1024,
		BlockCache:           blockCache,
	})

	picker := compaction.NewPicker()

	db := &DB{
		name:            path,
		opts:            opts,
		fs:              fs,
		logger:          logger,
		versions:        vs,
		partitions:      partition.NewSet(),
		blockCache:      blockCache,
		tableCache:      tableCache,
		picker:          picker,
		writeController: newWriteController(),
		snapshots:       newSnapshotList(),
		stats:           newStatistics(),
		compacting:      make(map[compactKey]bool),
		bgSignal:        make(chan struct{}, 1),
		bgStop:          make(chan struct{}),
	}

	if dl, ok := logger.(*logging.DefaultLogger); ok {
		dl.SetFatalHandler(db.onFatal)
	}

	if exists {
		if err := vs.Recover(); err != nil {
			return nil, fmt.Errorf("%w: recover manifest: %v", ErrCorruption, err)
		}
		for _, info := range vs.Partitions() {
			db.partitions.Bootstrap(info.ID, info.Name)
		}
		oldLogNumber := vs.LogNumber()
		touched, err := db.replayLog(oldLogNumber)
		if err != nil {
			return nil, err
		}
		if err := db.openNewLog(); err != nil {
			return nil, err
		}
		if len(touched) == 0 {
			// Nothing was replayed into any memtable: the old log holds
			// nothing a future flush needs to retire, so its generation can
			// be retired immediately instead of waiting on one.
			edit := manifest.NewVersionEdit()
			edit.SetLogNumber(db.logFileNumber)
			if err := vs.LogAndApply(edit); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIOError, err)
			}
			if oldLogNumber != 0 {
				_ = fs.Remove(db.logPath(oldLogNumber))
			}
		} else {
			// Persist NextFileNumber so the new log's number is never reused
			// by a subsequent crash, but leave LogNumber untouched: it must
			// keep naming the old log until every partition it seeded has
			// flushed (tracked below as a pending obsoleteLog).
			if err := vs.LogAndApply(manifest.NewVersionEdit()); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIOError, err)
			}
			db.obsoleteLogs = append(db.obsoleteLogs, &obsoleteLog{
				fileNumber:   oldLogNumber,
				supersededBy: db.logFileNumber,
				waiting:      touched,
			})
		}
	} else {
		if err := vs.Create(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIOError, err)
		}
		db.partitions.Bootstrap(version.DefaultPartitionID, "default")
		if err := db.openNewLog(); err != nil {
			return nil, err
		}
		edit := manifest.NewVersionEdit()
		edit.SetLogNumber(db.logFileNumber)
		if err := vs.LogAndApply(edit); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIOError, err)
		}
	}

	db.refreshWriteStall()

	db.bgWG.Add(1)
	go db.backgroundLoop()
	db.triggerCompaction()

	return db, nil
}

func (db *DB) logPath(fileNumber uint64) string {
	return filepath.Join(db.name, fmt.Sprintf("%06d.log", fileNumber))
}

func (db *DB) sstPath(fileNumber uint64) string {
	return filepath.Join(db.name, fmt.Sprintf("%06d.sst", fileNumber))
}

func (db *DB) openNewLog() error {
	num := db.versions.NextFileNumber()
	f, err := db.fs.Create(db.logPath(num))
	if err != nil {
		return fmt.Errorf("%w: create log %d: %v", ErrIOError, num, err)
	}
	db.logFile = f
	db.logFileNumber = num
	db.logWriter = wal.NewWriter(f, false)
	return nil
}

// replayLog restores every partition's mutable memtable from logNumber, the
// log the manifest names as still-needed, advances the version set's
// last-sequence counter past anything it replays, and returns the set of
// partitions that received at least one replayed entry — the set a future
// flush of their memtable must report against before logNumber's file can
// be retired.
func (db *DB) replayLog(logNumber uint64) (map[uint32]bool, error) {
	touched := make(map[uint32]bool)
	if logNumber == 0 {
		return touched, nil
	}

	f, err := db.fs.Open(db.logPath(logNumber))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return touched, nil
		}
		return nil, fmt.Errorf("%w: open log %d: %v", ErrIOError, logNumber, err)
	}
	defer func() { _ = f.Close() }()

	reader := wal.NewReader(f, false)
	maxSeq := db.versions.LastSequence()

	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: replay log %d: %v", ErrCorruption, logNumber, err)
		}

		wb, err := batch.NewFromData(record)
		if err != nil {
			return nil, fmt.Errorf("%w: replay log %d: %v", ErrCorruption, logNumber, err)
		}
		ops, err := wb.Ops()
		if err != nil {
			return nil, fmt.Errorf("%w: replay log %d: %v", ErrCorruption, logNumber, err)
		}
		for _, op := range ops {
			st, ok := db.partitions.Get(op.PartitionID)
			if !ok {
				continue
			}
			st.Mutable().Add(op.Sequence, op.Kind, op.Key, op.Value)
			touched[op.PartitionID] = true
			if op.Sequence > maxSeq {
				maxSeq = op.Sequence
			}
		}
	}

	db.versions.SetLastSequence(maxSeq)
	return touched, nil
}

// onFatal is wired as the logger's FatalHandler (§2): once tripped, Write
// refuses further batches until the database is reopened.
func (db *DB) onFatal(msg string) {
	err := errors.New(msg)
	db.backgroundError.Store(&err)
}

// checkBackgroundError reports the sticky error a log_and_apply failure
// left behind, if any.
func (db *DB) checkBackgroundError() error {
	if p := db.backgroundError.Load(); p != nil {
		return fmt.Errorf("%w: %v", ErrIOError, *p)
	}
	return nil
}

// Close stops background work and releases every open file.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(db.bgStop)
	db.writeController.release()
	db.bgWG.Wait()

	db.blockCache.Close()
	db.tableCache.Close()

	var firstErr error
	if err := db.logFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.versions.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Snapshot pins the current sequence number for a consistent read view.
func (db *DB) Snapshot() *Snapshot {
	return db.snapshots.acquire(db.versions.LastSequence())
}

// ReleaseSnapshot releases a snapshot taken by Snapshot.
func (db *DB) ReleaseSnapshot(s *Snapshot) {
	s.Release()
}

// readSequence resolves the sequence a read should be performed at: the
// snapshot's, if one was given, else the engine's current last sequence.
func (db *DB) readSequence(ro *ReadOptions) dbformat.SequenceNumber {
	if ro != nil && ro.Snapshot != nil {
		return ro.Snapshot.Sequence()
	}
	return db.versions.LastSequence()
}

// Put writes a single key/value.
func (db *DB) Put(partitionID uint32, key, value []byte, wo *WriteOptions) error {
	wb := batch.New()
	wb.Put(partitionID, key, value)
	return db.Write(wb, wo)
}

// Delete removes a key.
func (db *DB) Delete(partitionID uint32, key []byte, wo *WriteOptions) error {
	wb := batch.New()
	wb.Delete(partitionID, key)
	return db.Write(wb, wo)
}

// Get looks up key as of read_options' snapshot, or as of now if none is
// given.
func (db *DB) Get(partitionID uint32, key []byte, ro *ReadOptions) ([]byte, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if ro == nil {
		ro = DefaultReadOptions()
	}
	if _, ok := db.partitions.Get(partitionID); !ok {
		return nil, fmt.Errorf("%w: unknown partition %d", ErrInvalidArgument, partitionID)
	}

	seq := db.readSequence(ro)
	children, release, err := db.openChildren(partitionID)
	if err != nil {
		return nil, err
	}
	defer release()

	raw := iterator.NewRawMergingIterator(children)
	probe := dbformat.SeekKey(key, seq)
	raw.Seek(probe)
	if err := raw.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	db.stats.addRead()
	if !raw.Valid() || dbformat.CompareUserKeys(raw.Key(), probe) != 0 {
		return nil, ErrNotFound
	}
	if dbformat.ExtractKind(raw.Key()) == dbformat.KindTombstone {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw.Value()...), nil
}

// MultiGet looks up several keys in one partition, returning a value (or
// nil) and an error per key in the same order as keys.
func (db *DB) MultiGet(partitionID uint32, keys [][]byte, ro *ReadOptions) ([][]byte, []error) {
	values := make([][]byte, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		values[i], errs[i] = db.Get(partitionID, k, ro)
	}
	return values, errs
}

// Write applies every operation in wb atomically: one WAL record, then one
// memory-table insert per operation, all under the same sequence span.
func (db *DB) Write(wb *batch.WriteBatch, wo *WriteOptions) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if err := db.checkBackgroundError(); err != nil {
		return err
	}
	if wo == nil {
		wo = DefaultWriteOptions()
	}
	if wb.Count() == 0 {
		return nil
	}

	db.waitForWriteRoom()

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	seq := db.versions.LastSequence() + 1
	wb.SetSequence(seq)

	ops, err := wb.Ops()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	touched := make(map[uint32]bool, len(ops))
	for _, op := range ops {
		if _, ok := db.partitions.Get(op.PartitionID); !ok {
			return fmt.Errorf("%w: unknown partition %d", ErrInvalidArgument, op.PartitionID)
		}
		touched[op.PartitionID] = true
	}

	if err := db.logWriter.AddRecord(wb.Data()); err != nil {
		return fmt.Errorf("%w: wal append: %v", ErrIOError, err)
	}
	if err := db.logWriter.Commit(); err != nil {
		return fmt.Errorf("%w: wal commit: %v", ErrIOError, err)
	}
	if wo.Sync {
		if err := db.logFile.Sync(); err != nil {
			return fmt.Errorf("%w: wal sync: %v", ErrIOError, err)
		}
	}

	for _, op := range ops {
		st, _ := db.partitions.Get(op.PartitionID)
		st.Mutable().Add(op.Sequence, op.Kind, op.Key, op.Value)
	}
	db.versions.SetLastSequence(dbformat.SequenceNumber(uint64(seq) + uint64(wb.Count()) - 1))
	atomic.AddUint64(&db.stats.keysWritten, uint64(wb.Count()))

	db.maybeRotate(touched)
	return nil
}

// waitForWriteRoom applies §5's back-pressure policy: block while level 0
// is over the hard threshold, sleep briefly while over the soft one.
func (db *DB) waitForWriteRoom() {
	db.writeController.waitForRoom()
	if db.writeController.currentCondition() == writeStallDelayed {
		writeStallSleep()
	}
}

// maybeRotate forces a global memtable rotation once any touched
// partition's mutable table has grown past the configured threshold.
func (db *DB) maybeRotate(touched map[uint32]bool) {
	needsRotate := false
	for pid := range touched {
		if st, ok := db.partitions.Get(pid); ok && st.Mutable().ApproximateMemoryUsage() >= db.opts.WriteBufferBytes {
			needsRotate = true
			break
		}
	}
	if !needsRotate {
		return
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.rotateLocked()
}

// pendingFlush names a memtable rotated off a partition, awaiting flush.
type pendingFlush struct {
	partitionID uint32
	mem         *memtable.MemTable
}

// rotateLocked forces every partition's mutable memtable onto its
// immutable queue, opens a fresh WAL file, and schedules a flush of each
// rotated memtable. Requires db.mu.
func (db *DB) rotateLocked() {
	toFlush, err := db.beginRotationLocked()
	if err != nil {
		db.logger.Errorf(logging.NSWAL+"open new log: %v", err)
		return
	}
	for _, p := range toFlush {
		db.bgWG.Add(1)
		go db.runFlush(p.partitionID, p.mem)
	}
}

// beginRotationLocked rotates every partition's mutable memtable (empty
// ones included) onto its immutable queue, opens a fresh WAL file, and registers the retired
// log against every rotated partition, returning the memtables still
// needing a flush. The caller decides how to run those flushes: in the
// background (rotateLocked) or synchronously (flushAllSync). Requires
// db.mu.
func (db *DB) beginRotationLocked() ([]pendingFlush, error) {
	var toFlush []pendingFlush
	for _, info := range db.partitions.List() {
		st, ok := db.partitions.Get(info.ID)
		if !ok {
			continue
		}
		if full, did := st.RotateIfFull(0); did {
			toFlush = append(toFlush, pendingFlush{info.ID, full})
		}
	}
	if len(toFlush) == 0 {
		return nil, nil
	}

	oldLogNumber := db.logFileNumber

	newNum := db.versions.NextFileNumber()
	newFile, err := db.fs.Create(db.logPath(newNum))
	if err != nil {
		return nil, err
	}

	db.logFile = newFile
	db.logFileNumber = newNum
	db.logWriter = wal.NewWriter(newFile, false)

	waiting := make(map[uint32]bool, len(toFlush))
	for _, p := range toFlush {
		waiting[p.partitionID] = true
	}
	db.obsoleteLogs = append(db.obsoleteLogs, &obsoleteLog{
		fileNumber:   oldLogNumber,
		supersededBy: newNum,
		waiting:      waiting,
	})

	return toFlush, nil
}

// flushAllSync forces every partition's mutable memtable to disk and
// blocks until every resulting flush has installed its output files,
// used by Checkpoint to guarantee the files it is about to link are
// the complete, current state of every partition. rotateLocked's
// background path cannot be reused directly here: it hands the flush off
// to a goroutine tracked by bgWG, which also tracks the perpetual
// backgroundLoop goroutine and so never reaches zero for Checkpoint to
// wait on.
func (db *DB) flushAllSync() error {
	db.mu.Lock()
	toFlush, err := db.beginRotationLocked()
	db.mu.Unlock()
	if err != nil {
		return err
	}
	for _, p := range toFlush {
		db.flushOne(p.partitionID, p.mem)
	}
	return nil
}

// runFlush drains mem to one or more level-0 files and installs them via a
// version edit, then releases the rotated memtable and reports partitionID's
// flush against every obsoleteLog generation still waiting on it. Runs as
// its own goroutine, tracked by bgWG.
func (db *DB) runFlush(partitionID uint32, mem *memtable.MemTable) {
	defer db.bgWG.Done()
	db.flushOne(partitionID, mem)
}

// flushOne does the actual work of draining mem to disk. Split out of
// runFlush so Checkpoint can drive it synchronously, in the calling
// goroutine, instead of fire-and-forget against bgWG (which Checkpoint
// cannot wait on: bgWG also tracks the perpetual backgroundLoop goroutine).
func (db *DB) flushOne(partitionID uint32, mem *memtable.MemTable) {
	job := flush.NewJob(db.name, db.fs, partitionID, db.versions.NextFileNumber)
	job.MaxOutputFileSize = db.picker.MaxOutputFileSize
	job.BuilderOptions.Compression = db.opts.Compression
	job.BuilderOptions.FilterBitsPerKey = db.opts.FilterBitsPerKey

	outputs, err := job.Run(mem)
	if err != nil && !errors.Is(err, flush.ErrNoOutput) {
		db.logger.Errorf(logging.NSFlush+"partition %d: %v", partitionID, err)
		return
	}

	if len(outputs) > 0 {
		edit := manifest.NewVersionEdit()
		for _, f := range outputs {
			edit.AddFile(partitionID, 0, f)
		}
		db.mu.Lock()
		err = db.versions.LogAndApply(edit)
		db.mu.Unlock()
		if err != nil {
			db.logger.Fatalf(logging.NSManifest+"flush edit for partition %d: %v", partitionID, err)
			return
		}
		atomic.AddUint64(&db.stats.flushesRun, 1)
	}

	if st, ok := db.partitions.Get(partitionID); ok {
		st.PopFlushed(mem)
	}

	db.refreshWriteStall()
	db.completeObsoleteLog(partitionID)
	db.triggerCompaction()
}

// completeObsoleteLog reports that partitionID's memtable flush completed,
// clearing it from every obsoleteLog generation's waiting set (a flush
// captures everything written to this partition since its last flush, so
// it resolves every earlier generation's wait on it too, not just the
// newest). Generations are only retired from the front: LogNumber names a
// single oldest log, so an emptied generation behind an unretired older one
// stays queued until that older one clears.
func (db *DB) completeObsoleteLog(partitionID uint32) {
	db.mu.Lock()
	for _, ol := range db.obsoleteLogs {
		delete(ol.waiting, partitionID)
	}
	var retired []*obsoleteLog
	for len(db.obsoleteLogs) > 0 && len(db.obsoleteLogs[0].waiting) == 0 {
		retired = append(retired, db.obsoleteLogs[0])
		db.obsoleteLogs = db.obsoleteLogs[1:]
	}
	db.mu.Unlock()

	for _, ol := range retired {
		edit := manifest.NewVersionEdit()
		edit.SetLogNumber(ol.supersededBy)
		if err := db.versions.LogAndApply(edit); err != nil {
			db.logger.Errorf(logging.NSManifest+"advance log number past %d: %v", ol.fileNumber, err)
			continue
		}
		if err := db.fs.Remove(db.logPath(ol.fileNumber)); err != nil {
			db.logger.Warnf(logging.NSWAL+"remove obsolete log %d: %v", ol.fileNumber, err)
		}
	}
}

// openChildren opens every source that may hold a version of a key in
// partitionID, in newest-first priority order: the mutable memtable, then
// immutables newest-rotated first, then level 0 newest-flushed first, then
// level 1 through the last level in key order. release must be called once
// the caller is done reading from the returned children.
func (db *DB) openChildren(partitionID uint32) (children []iterator.Iterator, release func(), err error) {
	st, ok := db.partitions.Get(partitionID)
	if !ok {
		return nil, func() {}, fmt.Errorf("%w: unknown partition %d", ErrInvalidArgument, partitionID)
	}

	children = append(children, st.Mutable().NewIterator())

	imms := st.Immutables()
	for i := len(imms) - 1; i >= 0; i-- {
		children = append(children, imms[i].NewIterator())
	}

	var handles []*cache.Handle[uint64, *table.Reader]
	release = func() {
		for _, h := range handles {
			db.tableCache.Release(h)
		}
	}

	v, ok := db.versions.Current(partitionID)
	if !ok {
		return children, release, nil
	}
	v.Ref()
	defer v.Unref()

	l0 := v.Files(0)
	for i := len(l0) - 1; i >= 0; i-- {
		h, ferr := db.tableCache.Get(l0[i].FileNumber)
		if ferr != nil {
			release()
			return nil, func() {}, fmt.Errorf("%w: open file %d: %v", ErrIOError, l0[i].FileNumber, ferr)
		}
		handles = append(handles, h)
		children = append(children, h.Value().NewIterator())
	}
	for level := 1; level < version.MaxNumLevels; level++ {
		for _, f := range v.Files(level) {
			h, ferr := db.tableCache.Get(f.FileNumber)
			if ferr != nil {
				release()
				return nil, func() {}, fmt.Errorf("%w: open file %d: %v", ErrIOError, f.FileNumber, ferr)
			}
			handles = append(handles, h)
			children = append(children, h.Value().NewIterator())
		}
	}

	return children, release, nil
}
