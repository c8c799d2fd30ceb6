package iterator

import (
	"connbridge/pkg/snapshot"
	"connbridge/pkg/types"
)

// Iterator iterates over a sorted sequence of key-value pairs.
type Iterator interface {
	// Next advances to the next entry and reports whether there is one.
	Next() bool
	// Key returns the current key.
	Key() types.Key
	// Value returns the current value.
	Value() types.Value
	// Err returns the error that stopped the iteration, if any.
	Err() error
	// Close releases resources.
	Close() error
}

// View is a pinned, read-only snapshot of a key space.
type View interface {
	snapshot.Snapshot
	// Range iterates the live keys in [lo, hi) in ascending order, newest version of each.
	Range(lo, hi types.Key) Iterator
}

// Source opens views at a read sequence.
type Source interface {
	View(seq types.SequenceNumber) (View, error)
}
