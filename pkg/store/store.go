// Package store is the multi-versioned state store the storage iterator reads from: writes
// get increasing sequence numbers, readers pin a sequence and see the newest version of each
// key at or below it, and GC discards versions no pinned reader can observe.
package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"connbridge/pkg/clock"
	"connbridge/pkg/config"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/iterator"
	"connbridge/pkg/listener"
	"connbridge/pkg/memtable"
	"connbridge/pkg/snapshot"
	"connbridge/pkg/types"
	"connbridge/pkg/wal"
)

type iJournal interface {
	listener.Job

	Append(e wal.Entry)
	Done() <-chan wal.Ack
	Replay(start types.SequenceNumber, callback func(wal.Entry) error) error
	Close() error
}

type iClock interface {
	Val() uint64
	Next() uint64
	Set(t uint64)
}

type Store struct {
	jr        iJournal
	seqN      iClock
	committed atomic.Uint64
	mt        *memtable.Memtable
	snaps     *snapshot.Tracker
	prefetch  int

	// serializes writers so that sequence order is commit order
	mu     sync.Mutex
	closed atomic.Bool
}

// New opens a store. With cfg.WALDir set, the log is replayed before New returns and every
// write is logged before it becomes visible. prefetch is the batch size of range iterators.
func New(cfg config.StorageConfig, prefetch int) (*Store, error) {
	if prefetch < 1 {
		prefetch = 1
	}
	s := &Store{
		seqN:     clock.NewAtomic(0),
		mt:       memtable.New(cfg.MaxEntryBytes),
		snaps:    snapshot.NewTracker(),
		prefetch: prefetch,
	}

	if cfg.WALDir != "" {
		journal, err := wal.New(cfg.WALDir, cfg.SyncWrites)
		if err != nil {
			return nil, err
		}
		s.jr = journal
		if err := s.restoreFromJournal(); err != nil {
			_ = journal.Close()
			return nil, err
		}
		s.jr.Start(context.Background())
	}

	return s, nil
}

func (s *Store) restoreFromJournal() error {
	replayed := 0
	err := s.jr.Replay(0, func(entry wal.Entry) error {
		s.seqN.Set(uint64(entry.SeqNum))
		replayed++
		return s.mt.Upsert(memtable.Item{
			Key:   entry.Key,
			Value: entry.Value,
			SeqN:  entry.SeqNum,
			Meta:  entry.Meta,
		})
	})
	if err != nil {
		return fmt.Errorf("restore from WAL: %w", err)
	}
	s.committed.Store(s.seqN.Val())
	slog.Debug("store restored from WAL", "entries", replayed, "committed", s.seqN.Val())
	return nil
}

// Put writes a new version of key and returns its sequence number.
func (s *Store) Put(key types.Key, value types.Value) (types.SequenceNumber, error) {
	return s.write(key, value, memtable.PutMD(memtable.FormatRow))
}

// Delete writes a tombstone for key.
func (s *Store) Delete(key types.Key) (types.SequenceNumber, error) {
	return s.write(key, nil, memtable.DeleteMD())
}

func (s *Store) write(key types.Key, value types.Value, meta uint64) (types.SequenceNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	item := memtable.Item{Key: bytes.Clone(key), Value: bytes.Clone(value), Meta: meta}
	if err := s.mt.Admit(&item); err != nil {
		return 0, err
	}
	item.SeqN = types.SequenceNumber(s.seqN.Next())

	if s.jr != nil {
		s.jr.Append(wal.Entry{SeqNum: item.SeqN, Key: item.Key, Value: item.Value, Meta: item.Meta})
		// wait for the WAL to confirm write
		ack := <-s.jr.Done()
		for ack.SeqNum != item.SeqN {
			ack = <-s.jr.Done()
		}
		if ack.Err != nil {
			return 0, ack.Err
		}
	}

	if err := s.mt.Upsert(item); err != nil {
		return 0, err
	}
	s.committed.Store(uint64(item.SeqN))
	return item.SeqN, nil
}

// Get returns the value of key visible at seq.
func (s *Store) Get(key types.Key, seq types.SequenceNumber) (types.Value, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrStoreClosed
	}
	item, ok := s.mt.Get(key, seq)
	if !ok || item.Tombstone() {
		return nil, false, nil
	}
	return item.Value, true, nil
}

// Committed returns the sequence of the latest visible write.
func (s *Store) Committed() types.SequenceNumber {
	return types.SequenceNumber(s.committed.Load())
}

func (s *Store) Watermark() types.SequenceNumber {
	return s.snaps.Watermark()
}

// PinnedSnapshots returns the number of open views.
func (s *Store) PinnedSnapshots() int {
	return s.snaps.Pinned()
}

// Versions returns the number of stored versions, tombstones included.
func (s *Store) Versions() int {
	return s.mt.Len()
}

// View pins a read snapshot at seq. It fails with ErrStorageUnavailable when seq was already
// collected or has not been committed yet.
func (s *Store) View(seq types.SequenceNumber) (iterator.View, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: %w", dberrors.ErrStorageUnavailable, ErrStoreClosed)
	}
	if committed := s.Committed(); seq > committed {
		return nil, fmt.Errorf("%w: snapshot %d is newer than committed %d",
			dberrors.ErrStorageUnavailable, seq, committed)
	}
	snap, err := s.snaps.Pin(seq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dberrors.ErrStorageUnavailable, err)
	}
	return &view{Snapshot: snap, s: s}, nil
}

// GC raises the watermark towards watermark, bounded by the committed sequence and the
// oldest open view, and discards what became unobservable. It returns the watermark
// reached and the number of versions removed.
func (s *Store) GC(watermark types.SequenceNumber) (types.SequenceNumber, int) {
	if committed := s.Committed(); watermark > committed {
		watermark = committed
	}
	reached := s.snaps.Advance(watermark)
	removed := s.mt.GC(reached)
	slog.Debug("store gc", "requested", watermark, "watermark", reached, "removed", removed)
	return reached, removed
}

// Close stops the WAL. Open views fail their next read.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	if s.jr == nil {
		return nil
	}
	s.jr.Stop()
	return s.jr.Close()
}

type view struct {
	snapshot.Snapshot
	s *Store
}

func (v *view) Range(lo, hi types.Key) iterator.Iterator {
	return &rangeIter{
		s:        v.s,
		seq:      v.Sequence(),
		next:     bytes.Clone(lo),
		hi:       bytes.Clone(hi),
		prefetch: v.s.prefetch,
	}
}

// rangeIter reads the range in batches of prefetch keys.
type rangeIter struct {
	s        *Store
	seq      types.SequenceNumber
	next, hi []byte
	prefetch int

	batch     []memtable.Item
	pos       int
	exhausted bool
	cur       memtable.Item
	err       error
}

func (it *rangeIter) Next() bool {
	for it.err == nil {
		if it.pos < len(it.batch) {
			item := it.batch[it.pos]
			it.pos++
			if item.Tombstone() {
				continue
			}
			it.cur = item
			return true
		}
		if it.exhausted {
			return false
		}
		if it.s.closed.Load() {
			it.err = fmt.Errorf("%w: %w", dberrors.ErrStorageUnavailable, ErrStoreClosed)
			break
		}

		it.batch = it.s.mt.Scan(it.next, it.hi, it.seq, it.prefetch)
		it.pos = 0
		if len(it.batch) < it.prefetch {
			it.exhausted = true
		}
		if n := len(it.batch); n > 0 {
			// smallest key greater than the last one read
			it.next = append(bytes.Clone(it.batch[n-1].Key), 0)
		}
	}
	return false
}

func (it *rangeIter) Key() types.Key {
	return it.cur.Key
}

func (it *rangeIter) Value() types.Value {
	return it.cur.Value
}

func (it *rangeIter) Err() error {
	return it.err
}

func (it *rangeIter) Close() error {
	it.batch = nil
	it.exhausted = true
	return nil
}
