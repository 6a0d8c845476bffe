package plot

import (
	"sort"
	"sync"
)

// Store is an ordered, mutex-guarded collection of Records. Structural
// mutation (Add, PopFront, EraseAt, Clear, SortByTime, RemoveByNode) is
// serialized by a single exclusive lock. Snapshot-based iteration is
// not itself locked: callers must either hold the invariant that no
// mutator runs concurrently with their iteration, or take the lock
// themselves via the package-level helpers that need it (none of the
// exported API requires that today).
type Store struct {
	mu      sync.Mutex
	records []Record
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Add appends a new record with Flags cleared.
func (s *Store) Add(droneID, nodeID uint32, ts int64, lat, lon float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{
		DroneID:   droneID,
		NodeID:    nodeID,
		Timestamp: ts,
		Latitude:  lat,
		Longitude: lon,
	})
}

// AddRecord appends an already-built record, preserving whatever Flags
// the caller set (used when re-inserting a record parsed off the wire).
func (s *Store) AddRecord(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// PopFront removes and returns the first record, if any.
func (s *Store) PopFront() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	r := s.records[0]
	s.records = s.records[1:]
	return r, true
}

// EraseAt removes the record at index i. It is O(n) in the size of the
// store, matching the contract of the source's index-directed erase.
func (s *Store) EraseAt(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.records) {
		return false
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	return true
}

// EraseIndices removes every index in idx in a single O(n) pass. idx
// need not be sorted. This is how batch-erase from the deconfliction
// pair scan stays linear instead of O(n) per match.
func (s *Store) EraseIndices(idx []int) {
	if len(idx) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		drop[i] = struct{}{}
	}
	kept := s.records[:0:0]
	for i, r := range s.records {
		if _, dead := drop[i]; dead {
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// SortByTime sorts the store ascending by Timestamp. The sort is
// stable: records with equal timestamps keep their relative insertion
// order.
func (s *Store) SortByTime() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].Timestamp < s.records[j].Timestamp
	})
}

// RemoveByNode drops every record observed by nodeID.
func (s *Store) RemoveByNode(nodeID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0:0]
	for _, r := range s.records {
		if r.NodeID != nodeID {
			kept = append(kept, r)
		}
	}
	s.records = kept
}

// Len returns the number of records currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Snapshot returns a caller-owned copy of every record, safe to range
// over without holding the store lock.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// MutateFlags applies fn to the flags word of the record at index i.
// Per the package-level concurrency invariant (only the replicator
// goroutine ever calls this, and the ingest goroutine never touches
// Flags after Add), this intentionally does not take the store lock.
func (s *Store) MutateFlags(i int, fn func(*Flags)) {
	if i < 0 || i >= len(s.records) {
		return
	}
	fn(&s.records[i].Flags)
}

// AdjustTimestamp sets the record at index i's Timestamp and marks its
// SYNCD flag in one step, matching the deconfliction pass's final
// alignment write. Unlocked for the same reason as MutateFlags.
func (s *Store) AdjustTimestamp(i int, ts int64) {
	if i < 0 || i >= len(s.records) {
		return
	}
	s.records[i].Timestamp = ts
	s.records[i].Flags |= FlagSyncd
}

// RecordAt returns a copy of the record at index i. Like MutateFlags,
// this is intentionally unlocked; callers run it from the single
// replicator goroutine that owns structural access between mutations.
func (s *Store) RecordAt(i int) Record {
	return s.records[i]
}
