// Package partition implements §4.14's column family set: a concurrent
// id→state and name→id map for the write path's in-memory state. File
// lists and version edits belong to internal/version; this package only
// tracks each partition's mutable and immutable memtables.
package partition

import (
	"errors"
	"sync"

	"github.com/aalhour/rockyardkv/internal/memtable"
	"github.com/aalhour/rockyardkv/internal/version"
)

// Errors returned by Set's partition lifecycle operations.
var (
	ErrExists      = errors.New("partition: name already exists")
	ErrNotFound    = errors.New("partition: not found")
	ErrDropDefault = errors.New("partition: cannot drop the default partition")
)

// State is one partition's write-path state: the memtable taking new
// writes, and the queue of immutable memtables awaiting flush to level 0.
type State struct {
	ID   uint32
	Name string

	mu         sync.RWMutex
	mutable    *memtable.MemTable
	immutables []*memtable.MemTable
}

func newState(id uint32, name string) *State {
	s := &State{ID: id, Name: name, mutable: memtable.New()}
	s.mutable.Ref()
	return s
}

// Mutable returns the memtable currently accepting writes.
func (s *State) Mutable() *memtable.MemTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mutable
}

// Immutables returns a snapshot of the flush queue, oldest first.
func (s *State) Immutables() []*memtable.MemTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memtable.MemTable, len(s.immutables))
	copy(out, s.immutables)
	return out
}

// RotateIfFull swaps in a fresh mutable memtable and pushes the full one
// onto the immutable queue once its memory usage has reached maxSize, reporting
// whether a rotation happened so the caller can schedule a flush of the
// memtable it returns.
func (s *State) RotateIfFull(maxSize int64) (*memtable.MemTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutable.ApproximateMemoryUsage() < maxSize {
		return nil, false
	}
	full := s.mutable
	s.immutables = append(s.immutables, full)
	s.mutable = memtable.New()
	s.mutable.Ref()
	return full, true
}

// PopFlushed removes imm from the immutable queue once it has been
// durably flushed to a level-0 file, releasing the caller's reference.
func (s *State) PopFlushed(imm *memtable.MemTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.immutables {
		if m == imm {
			s.immutables = append(s.immutables[:i], s.immutables[i+1:]...)
			break
		}
	}
	imm.Unref()
}

// Set is the concurrent id→state, name→id map every write and read
// against a partition goes through.
type Set struct {
	mu     sync.RWMutex
	byID   map[uint32]*State
	byName map[string]uint32
}

// NewSet returns an empty Set. Call Bootstrap or Create to populate it.
func NewSet() *Set {
	return &Set{byID: make(map[uint32]*State), byName: make(map[string]uint32)}
}

// Bootstrap seeds the set with a partition whose id and name were already
// established by version.VersionSet (on Create or Recover), without
// issuing a version edit of its own.
func (s *Set) Bootstrap(id uint32, name string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState(id, name)
	s.byID[id] = st
	s.byName[name] = id
	return st
}

// Create registers a brand-new partition. The caller is responsible for
// persisting the corresponding PartitionCreate version edit before (or
// atomically with) making the partition visible to new writes.
func (s *Set) Create(id uint32, name string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[name]; exists {
		return nil, ErrExists
	}
	st := newState(id, name)
	s.byID[id] = st
	s.byName[name] = id
	return st, nil
}

// Drop removes a partition from the live set. The default partition can
// never be dropped.
func (s *Set) Drop(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == version.DefaultPartitionID {
		return ErrDropDefault
	}
	st, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byName, st.Name)
	return nil
}

// Get returns the state for id.
func (s *Set) Get(id uint32) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byID[id]
	return st, ok
}

// ByName returns the state registered under name.
func (s *Set) ByName(name string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.byID[id], true
}

// List returns every live partition's id and name, in no particular order.
func (s *Set) List() []version.PartitionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]version.PartitionInfo, 0, len(s.byID))
	for id, st := range s.byID {
		out = append(out, version.PartitionInfo{ID: id, Name: st.Name})
	}
	return out
}
