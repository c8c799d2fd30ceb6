package snapshot

import (
	"connbridge/pkg/dberrors"
	"connbridge/pkg/types"
	"fmt"
	"sync"
)

// Snapshot provides a consistent view of the database at a given sequence.
type Snapshot interface {
	// Sequence returns the read sequence number.
	Sequence() types.SequenceNumber
	// Close releases the snapshot.
	Close() error
}

// Tracker pins read sequences and keeps the garbage collection watermark below every pin.
// Versions only a sequence below the watermark could observe may be discarded, so such
// sequences can no longer be pinned.
type Tracker struct {
	mu        sync.Mutex
	pinned    map[types.SequenceNumber]int
	watermark types.SequenceNumber
}

func NewTracker() *Tracker {
	return &Tracker{pinned: make(map[types.SequenceNumber]int)}
}

// Pin registers a reader at seq.
func (t *Tracker) Pin(seq types.SequenceNumber) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq < t.watermark {
		return nil, fmt.Errorf("snapshot %d is below gc watermark %d", seq, t.watermark)
	}
	t.pinned[seq]++
	return &pinned{tracker: t, seq: seq}, nil
}

func (t *Tracker) unpin(seq types.SequenceNumber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pinned[seq] <= 1 {
		delete(t.pinned, seq)
		return
	}
	t.pinned[seq]--
}

// Advance raises the watermark towards to, stopping at the oldest pinned sequence.
// The watermark never moves backwards. It returns the resulting watermark.
func (t *Tracker) Advance(to types.SequenceNumber) types.SequenceNumber {
	t.mu.Lock()
	defer t.mu.Unlock()

	for seq := range t.pinned {
		if seq < to {
			to = seq
		}
	}
	if to > t.watermark {
		t.watermark = to
	}
	return t.watermark
}

func (t *Tracker) Watermark() types.SequenceNumber {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermark
}

// Pinned returns the number of open snapshots.
func (t *Tracker) Pinned() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, c := range t.pinned {
		n += c
	}
	return n
}

type pinned struct {
	tracker *Tracker
	seq     types.SequenceNumber
	once    sync.Once
}

func (p *pinned) Sequence() types.SequenceNumber {
	return p.seq
}

// Close unpins the snapshot. Closing twice reports ErrClosed.
func (p *pinned) Close() error {
	err := dberrors.ErrClosed
	p.once.Do(func() {
		p.tracker.unpin(p.seq)
		err = nil
	})
	return err
}
