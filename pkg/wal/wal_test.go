package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"connbridge/pkg/types"
)

func writeAll(t *testing.T, w *WAL, entries []Entry) {
	t.Helper()
	for _, e := range entries {
		w.Append(e)
		ack := <-w.Done()
		if ack.Err != nil {
			t.Fatalf("write %d failed: %v", ack.SeqNum, ack.Err)
		}
		if ack.SeqNum != e.SeqNum {
			t.Fatalf("Expected ack for %d, got %d", e.SeqNum, ack.SeqNum)
		}
	}
}

func TestWAL_AppendReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir, true)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w.Start(context.Background())

	entries := []Entry{
		{SeqNum: 1, Key: []byte("a"), Value: []byte("1"), Meta: 7},
		{SeqNum: 2, Key: []byte("b"), Value: nil, Meta: 1},
		{SeqNum: 3, Key: []byte("c"), Value: []byte("three")},
	}
	writeAll(t, w, entries)
	w.Stop()
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(dir, false)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	var got []Entry
	err = reopened.Replay(2, func(e Entry) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries from seq 2, got %d", len(got))
	}
	if got[0].SeqNum != 2 || string(got[0].Key) != "b" || got[0].Meta != 1 || len(got[0].Value) != 0 {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
	if got[1].SeqNum != types.SequenceNumber(3) || string(got[1].Value) != "three" {
		t.Fatalf("unexpected entry: %+v", got[1])
	}
}

func TestWAL_TornTailIgnored(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w.Start(context.Background())
	writeAll(t, w, []Entry{{SeqNum: 1, Key: []byte("k"), Value: []byte("v")}})
	w.Stop()
	_ = w.Close()

	f, err := os.OpenFile(filepath.Join(dir, "wal.log"), os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := f.Write([]byte{2, 0, 0, 0, 0}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = f.Close()

	reopened, err := New(dir, false)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	count := 0
	if err := reopened.Replay(0, func(Entry) error { count++; return nil }); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 entry, got %d", count)
	}
}

func TestWAL_EmptyDir(t *testing.T) {
	if _, err := New("", false); err == nil {
		t.Fatal("Expected error for empty dir")
	}
}
