package store

import (
	"errors"
	"fmt"
	"testing"

	"connbridge/pkg/config"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/iterator"
	"connbridge/pkg/types"
)

func newTestStore(t testing.TB, walDir string, prefetch int) *Store {
	t.Helper()
	cfg := config.Default().Storage
	cfg.WALDir = walDir

	s, err := New(cfg, prefetch)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return s
}

func mustPut(t testing.TB, s *Store, key, value string) types.SequenceNumber {
	t.Helper()
	seq, err := s.Put([]byte(key), []byte(value))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return seq
}

func drain(t testing.TB, it iterator.Iterator) []string {
	t.Helper()
	var out []string
	for it.Next() {
		out = append(out, fmt.Sprintf("%s=%s", it.Key(), it.Value()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return out
}

func TestStore_PutGetDelete(t *testing.T) {
	s := newTestStore(t, "", 4)

	s1 := mustPut(t, s, "key1", "value1")
	s2 := mustPut(t, s, "key1", "value2")
	s3, err := s.Delete([]byte("key1"))
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !(s1 < s2 && s2 < s3) {
		t.Fatalf("Expected increasing sequences, got %d %d %d", s1, s2, s3)
	}

	for seq, want := range map[types.SequenceNumber]string{s1: "value1", s2: "value2"} {
		v, found, err := s.Get([]byte("key1"), seq)
		if err != nil || !found || string(v) != want {
			t.Fatalf("Get at %d: %q found=%v err=%v", seq, v, found, err)
		}
	}
	if _, found, _ := s.Get([]byte("key1"), s3); found {
		t.Fatal("Expected key1 to be deleted")
	}
	if s.Committed() != s3 {
		t.Fatalf("Expected committed %d, got %d", s3, s.Committed())
	}
}

func TestStore_RangeAcrossBatches(t *testing.T) {
	s := newTestStore(t, "", 2)
	for i := 0; i < 7; i++ {
		mustPut(t, s, fmt.Sprintf("k%d", i), "old")
	}
	mustPut(t, s, "k3", "new")
	if _, err := s.Delete([]byte("k5")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	seq := s.Committed()
	mustPut(t, s, "k4", "after-snapshot")

	v, err := s.View(seq)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	defer v.Close()

	got := drain(t, v.Range([]byte("k1"), []byte("k6")))
	want := []string{"k1=old", "k2=old", "k3=new", "k4=old"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}

	// same view, same answer
	again := drain(t, v.Range([]byte("k1"), []byte("k6")))
	if fmt.Sprint(again) != fmt.Sprint(got) {
		t.Fatalf("Expected a repeatable scan, got %v then %v", got, again)
	}

	all := drain(t, v.Range(nil, nil))
	if len(all) != 6 {
		t.Fatalf("Expected 6 live keys, got %v", all)
	}
}

func TestStore_ViewUnavailable(t *testing.T) {
	s := newTestStore(t, "", 4)
	mustPut(t, s, "a", "1")
	mustPut(t, s, "a", "2")
	third := mustPut(t, s, "a", "3")

	if _, err := s.View(third + 1); !errors.Is(err, dberrors.ErrStorageUnavailable) {
		t.Fatalf("Expected storage unavailable for a future snapshot, got %v", err)
	}

	reached, removed := s.GC(third)
	if reached != third || removed != 2 {
		t.Fatalf("Expected watermark %d and 2 removed, got %d and %d", third, reached, removed)
	}
	if _, err := s.View(third - 1); !errors.Is(err, dberrors.ErrStorageUnavailable) {
		t.Fatalf("Expected storage unavailable below the watermark, got %v", err)
	}
	v, err := s.View(third)
	if err != nil {
		t.Fatalf("View at watermark failed: %v", err)
	}
	_ = v.Close()
}

func TestStore_GCRespectsOpenViews(t *testing.T) {
	s := newTestStore(t, "", 4)
	first := mustPut(t, s, "a", "1")
	mustPut(t, s, "a", "2")

	v, err := s.View(first)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if reached, removed := s.GC(s.Committed()); reached != first || removed != 0 {
		t.Fatalf("Expected gc held at %d with nothing removed, got %d/%d", first, reached, removed)
	}
	if got := drain(t, v.Range(nil, nil)); len(got) != 1 || got[0] != "a=1" {
		t.Fatalf("Expected old version under pin, got %v", got)
	}
	_ = v.Close()

	if _, removed := s.GC(s.Committed()); removed != 1 {
		t.Fatalf("Expected 1 removed after unpin, got %d", removed)
	}
	if s.PinnedSnapshots() != 0 {
		t.Fatalf("Expected no pinned snapshots, got %d", s.PinnedSnapshots())
	}
}

func TestStore_WALRestore(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default().Storage
	cfg.WALDir = dir
	s, err := New(cfg, 8)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mustPut(t, s, "a", "1")
	mustPut(t, s, "b", "2")
	if _, err := s.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	last := s.Committed()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.Put([]byte("c"), nil); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("Expected ErrStoreClosed, got %v", err)
	}

	restored := newTestStore(t, dir, 8)
	if restored.Committed() != last {
		t.Fatalf("Expected committed %d after restore, got %d", last, restored.Committed())
	}
	v, err := restored.View(last)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	defer v.Close()
	if got := drain(t, v.Range(nil, nil)); fmt.Sprint(got) != "[b=2]" {
		t.Fatalf("Expected [b=2], got %v", got)
	}

	next := mustPut(t, restored, "c", "3")
	if next != last+1 {
		t.Fatalf("Expected sequence to continue at %d, got %d", last+1, next)
	}
}

func TestStore_CloseFailsOpenIterators(t *testing.T) {
	s := newTestStore(t, "", 1)
	mustPut(t, s, "a", "1")
	mustPut(t, s, "b", "2")

	v, err := s.View(s.Committed())
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	it := v.Range(nil, nil)
	if !it.Next() {
		t.Fatal("Expected a first entry")
	}
	_ = s.Close()
	for it.Next() {
	}
	if !errors.Is(it.Err(), dberrors.ErrStorageUnavailable) {
		t.Fatalf("Expected storage unavailable, got %v", it.Err())
	}
}
