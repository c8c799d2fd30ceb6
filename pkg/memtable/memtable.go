package memtable

import (
	"bytes"
	"errors"
	"sync/atomic"

	"connbridge/pkg/types"

	"github.com/zhangyunhao116/skipmap"
)

var (
	ErrTooLargeEntry = errors.New("entry is too large")
)

type versionKey struct {
	key []byte
	seq types.SequenceNumber
}

type concurrentSet = skipmap.FuncMap[versionKey, Item]

// Memtable keeps every version of every key, ordered by key and then newest first.
// Readers pick the newest version at or below their snapshot.
type Memtable struct {
	maxEntry uint64
	size     atomic.Uint64

	versions *concurrentSet
}

func New(maxEntryBytes int) *Memtable {
	return &Memtable{
		maxEntry: uint64(maxEntryBytes),
		versions: skipmap.NewFunc[versionKey, Item](func(a, b versionKey) bool {
			if c := bytes.Compare(a.key, b.key); c != 0 {
				return c < 0
			}
			return a.seq > b.seq
		}),
	}
}

func entrySize(it *Item) uint64 {
	const (
		mdSize   = 8
		seqNSize = 8
	)
	return uint64(len(it.Key)) + uint64(len(it.Value)) + seqNSize + mdSize
}

// Admit reports whether it may be stored.
func (mt *Memtable) Admit(it *Item) error {
	if entrySize(it) > mt.maxEntry {
		return ErrTooLargeEntry
	}
	return nil
}

// Upsert adds a version. Writing the same key and sequence twice keeps the last write.
func (mt *Memtable) Upsert(it Item) error {
	if err := mt.Admit(&it); err != nil {
		return err
	}
	mt.versions.Store(versionKey{key: it.Key, seq: it.SeqN}, it)
	mt.size.Add(entrySize(&it))
	return nil
}

// Get returns the newest version of k visible at seq, tombstones included.
func (mt *Memtable) Get(k []byte, seq types.SequenceNumber) (Item, bool) {
	var (
		found Item
		ok    bool
	)
	mt.versions.Range(func(vk versionKey, it Item) bool {
		c := bytes.Compare(vk.key, k)
		if c < 0 {
			return true
		}
		if c == 0 && vk.seq <= seq {
			found, ok = it, true
		}
		return c == 0 && !ok
	})
	return found, ok
}

// Scan returns, for up to limit distinct keys in [from, to), the newest version of each key
// visible at seq. Tombstones are returned so the caller can tell a deleted key from one that
// was never written. An empty to means unbounded.
// The skip map cannot seek, so each call walks from the first key up to from.
func (mt *Memtable) Scan(from, to []byte, seq types.SequenceNumber, limit int) []Item {
	var (
		out  []Item
		last []byte
	)
	mt.versions.Range(func(vk versionKey, it Item) bool {
		if bytes.Compare(vk.key, from) < 0 {
			return true
		}
		if len(to) > 0 && bytes.Compare(vk.key, to) >= 0 {
			return false
		}
		if vk.seq > seq {
			return true
		}
		if last != nil && bytes.Equal(vk.key, last) {
			return true
		}
		if len(out) == limit {
			return false
		}
		out = append(out, it)
		last = vk.key
		return true
	})
	return out
}

// GC drops versions no snapshot at or above watermark can observe: every version shadowed
// by a newer one at or below the watermark, and tombstones that are the newest such version.
// It returns the number of versions removed.
func (mt *Memtable) GC(watermark types.SequenceNumber) int {
	var (
		doomed  []versionKey
		current []byte
		// whether the newest version <= watermark of current was already seen
		covered bool
	)
	mt.versions.Range(func(vk versionKey, it Item) bool {
		if current == nil || !bytes.Equal(vk.key, current) {
			current = vk.key
			covered = false
		}
		if vk.seq > watermark {
			return true
		}
		if covered {
			doomed = append(doomed, vk)
			return true
		}
		covered = true
		if it.Tombstone() {
			doomed = append(doomed, vk)
		}
		return true
	})

	removed := 0
	for _, vk := range doomed {
		if it, ok := mt.versions.LoadAndDelete(vk); ok {
			mt.size.Add(^(entrySize(&it) - 1))
			removed++
		}
	}
	return removed
}

// Len returns the number of stored versions.
func (mt *Memtable) Len() int {
	return mt.versions.Len()
}

// ApproximateSize returns the bytes held by all versions.
func (mt *Memtable) ApproximateSize() uint64 {
	return mt.size.Load()
}
