package memtable

import "connbridge/pkg/types"

// Meta layout: the low byte is the operation, the next byte the value format.
const (
	ZeroMD uint64 = 0

	opPut    uint64 = 0
	opDelete uint64 = 1

	// FormatRow marks a value holding a value-encoded row.
	FormatRow uint64 = 1
)

// PutMD returns the meta of a put whose value is in the given format.
func PutMD(format uint64) uint64 {
	return format<<8 | opPut
}

// DeleteMD is the meta of a tombstone.
func DeleteMD() uint64 {
	return opDelete
}

// Item is one version of a key.
type Item struct {
	Key   []byte
	Value []byte
	SeqN  types.SequenceNumber
	Meta  uint64
}

func (it *Item) Tombstone() bool {
	return it.Meta&0xff == opDelete
}

func (it *Item) Format() uint64 {
	return it.Meta >> 8 & 0xff
}
