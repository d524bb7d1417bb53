package page

import "testing"

func TestStoreKeepsRecentHistory(t *testing.T) {
	s := NewStore(2)
	if _, ok := s.Latest(); ok {
		t.Fatalf("expected empty store")
	}
	for id := 1; id <= 3; id++ {
		s.Put(Snapshot{SnapshotID: id})
	}
	if _, ok := s.Get(1); ok {
		t.Fatalf("oldest snapshot should be evicted")
	}
	latest, ok := s.Latest()
	if !ok || latest.SnapshotID != 3 {
		t.Fatalf("latest = %#v", latest)
	}
	if ids := s.IDs(); len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("ids = %v", ids)
	}
	s.Clear()
	if _, ok := s.Get(3); ok {
		t.Fatalf("clear should drop history")
	}
}
