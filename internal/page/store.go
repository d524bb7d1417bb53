package page

import "sync"

const defaultHistory = 8

// Store keeps the most recent snapshots by generation id.
type Store struct {
	mu       sync.RWMutex
	items    map[int]Snapshot
	order    []int
	capacity int
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultHistory
	}
	return &Store{items: make(map[int]Snapshot), capacity: capacity}
}

func (s *Store) Put(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[snapshot.SnapshotID]; !ok {
		s.order = append(s.order, snapshot.SnapshotID)
	}
	s.items[snapshot.SnapshotID] = snapshot
	for len(s.order) > s.capacity {
		delete(s.items, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Store) Get(id int) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.items[id]
	return snap, ok
}

func (s *Store) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return Snapshot{}, false
	}
	snap, ok := s.items[s.order[len(s.order)-1]]
	return snap, ok
}

// IDs returns the stored generation ids, oldest first.
func (s *Store) IDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.order...)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int]Snapshot)
	s.order = nil
}
