package rockyardkv

import (
	"sync"

	"github.com/aalhour/rockyardkv/internal/dbformat"
)

// snapshot.go implements read-view management (§4.15's Snapshot/
// ReleaseSnapshot pair). A snapshot pins a sequence number so reads against
// it observe the database exactly as of that write, regardless of later
// puts, deletes, or compactions. The compaction job consults the oldest
// live snapshot (via snapshotList.oldest) to decide which tombstones and
// superseded versions are still needed and which it may drop.

// Snapshot is a consistent point-in-time read view, created by DB.Snapshot
// and released by Snapshot.Release or DB.ReleaseSnapshot.
type Snapshot struct {
	list     *snapshotList
	sequence dbformat.SequenceNumber

	prev, next *Snapshot
}

// Sequence returns the sequence number this snapshot was taken at.
func (s *Snapshot) Sequence() dbformat.SequenceNumber {
	return s.sequence
}

// Release detaches the snapshot from the database. Reads against a released
// snapshot are invalid; the caller must not use it afterward.
func (s *Snapshot) Release() {
	s.list.release(s)
}

// snapshotList is a doubly linked ring of live snapshots ordered by
// sequence number (oldest nearest the sentinel). It backs DB.Snapshot and
// feeds compaction.Job.SmallestSnapshot.
type snapshotList struct {
	mu       sync.Mutex
	sentinel Snapshot
}

func newSnapshotList() *snapshotList {
	l := &snapshotList{}
	l.sentinel.prev = &l.sentinel
	l.sentinel.next = &l.sentinel
	return l
}

// acquire creates and links a new snapshot at seq, inserted at the tail
// (newest end) since sequence numbers only increase across calls.
func (l *snapshotList) acquire(seq dbformat.SequenceNumber) *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := &Snapshot{list: l, sequence: seq}
	last := l.sentinel.prev
	last.next = s
	s.prev = last
	s.next = &l.sentinel
	l.sentinel.prev = s
	return s
}

func (l *snapshotList) release(s *Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s.prev == nil || s.next == nil {
		return // already released
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev, s.next = nil, nil
}

// empty reports whether no snapshot is currently live.
func (l *snapshotList) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sentinel.next == &l.sentinel
}

// oldest returns the smallest sequence number among live snapshots and
// true, or false if none are live. It is wired as compaction.Job's
// SmallestSnapshot callback: a superseded value no live snapshot can see,
// or a tombstone older than every live snapshot with nothing beneath it,
// can be dropped during compaction, but an entry that some live snapshot
// still needs to see is kept.
func (l *snapshotList) oldest() (dbformat.SequenceNumber, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sentinel.next == &l.sentinel {
		return 0, false
	}
	return l.sentinel.next.sequence, true
}
