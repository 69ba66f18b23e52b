// Package recovery implements Disk Recovery (spec.md §4.H): rebuilding
// a lost storage path's data from a peer using a one-shot fetched
// binlog slice. Grounded on the teacher's in-memory, mutex-guarded
// bookkeeping style used throughout backend/cache for dirty-entry
// tracking, adapted here to a sorted, deduplicating set of trunk
// references.
package recovery

import "sync"

// TrunkKey identifies one trunk file a recovery pass may need to fetch.
type TrunkKey struct {
	TrunkPath string
	TrunkID   uint32
}

func (a TrunkKey) less(b TrunkKey) bool {
	if a.TrunkPath != b.TrunkPath {
		return a.TrunkPath < b.TrunkPath
	}
	return a.TrunkID < b.TrunkID
}

// TrunkSet is a deduplicating, ascending-order set of TrunkKeys. spec.md
// §4.H calls for "an in-memory balanced tree keyed by {trunk-path,
// trunk-id}"; the property that actually matters is ascending iteration
// order (so a trunk is fetched once, in id order, before its member
// files) — a sorted slice gives that with a simpler implementation than
// a literal red-black tree for the set sizes a single recovery pass
// handles. See DESIGN.md for this Open-Question resolution.
type TrunkSet struct {
	mu   sync.Mutex
	keys []TrunkKey
}

// NewTrunkSet creates an empty set.
func NewTrunkSet() *TrunkSet { return &TrunkSet{} }

// Add inserts k if not already present, keeping keys sorted. Returns
// true if k was newly added (i.e. the caller should fetch this trunk).
func (s *TrunkSet) Add(k TrunkKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.searchLocked(k)
	if i < len(s.keys) && s.keys[i] == k {
		return false
	}
	s.keys = append(s.keys, TrunkKey{})
	copy(s.keys[i+1:], s.keys[i:])
	s.keys[i] = k
	return true
}

// searchLocked returns the index of the first key >= k (binary search;
// caller holds s.mu).
func (s *TrunkSet) searchLocked(k TrunkKey) int {
	lo, hi := 0, len(s.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.keys[mid].less(k) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Contains reports whether k has already been added.
func (s *TrunkSet) Contains(k TrunkKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.searchLocked(k)
	return i < len(s.keys) && s.keys[i] == k
}

// Ordered returns a snapshot of all keys in ascending order.
func (s *TrunkSet) Ordered() []TrunkKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrunkKey, len(s.keys))
	copy(out, s.keys)
	return out
}

// Len reports the number of distinct keys seen.
func (s *TrunkSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
