package snapshot

import (
	"errors"
	"testing"

	"connbridge/pkg/dberrors"
)

func TestTracker_WatermarkStopsAtPins(t *testing.T) {
	tr := NewTracker()

	s3, err := tr.Pin(3)
	if err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	if _, err := tr.Pin(7); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	if got := tr.Advance(10); got != 3 {
		t.Fatalf("Expected watermark 3, got %d", got)
	}

	if err := s3.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := tr.Advance(10); got != 7 {
		t.Fatalf("Expected watermark 7, got %d", got)
	}
	if got := tr.Advance(1); got != 7 {
		t.Fatalf("Expected watermark to stay at 7, got %d", got)
	}
	if tr.Pinned() != 1 {
		t.Fatalf("Expected 1 pinned snapshot, got %d", tr.Pinned())
	}
}

func TestTracker_PinBelowWatermark(t *testing.T) {
	tr := NewTracker()
	tr.Advance(5)

	if _, err := tr.Pin(4); err == nil {
		t.Fatal("Expected pin below watermark to fail")
	}
	s, err := tr.Pin(5)
	if err != nil {
		t.Fatalf("Pin at watermark failed: %v", err)
	}
	if s.Sequence() != 5 {
		t.Fatalf("Expected sequence 5, got %d", s.Sequence())
	}
}

func TestSnapshot_DoubleClose(t *testing.T) {
	tr := NewTracker()
	a, _ := tr.Pin(2)
	b, _ := tr.Pin(2)

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	// the second pin at the same sequence still holds the watermark
	if got := tr.Advance(9); got != 2 {
		t.Fatalf("Expected watermark 2, got %d", got)
	}
	_ = b.Close()
	if got := tr.Advance(9); got != 9 {
		t.Fatalf("Expected watermark 9, got %d", got)
	}
}
