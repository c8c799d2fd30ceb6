package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SequenceNumber represents a monotonically increasing sequence used for MVCC and WAL ordering.
// A read snapshot is identified by the sequence number it was taken at.
type SequenceNumber uint64

// TableID identifies a state table in the storage key space.
type TableID uint32

// VirtualNode is the hash partition a storage key belongs to.
type VirtualNode uint16

// VnodeCount is the fixed number of virtual nodes a table is partitioned into.
const VnodeCount = 256
