package scan

import (
	"bytes"
	"connbridge/pkg/types"
	"encoding/binary"
	"fmt"
)

// prefixLen is the size of the table id and vnode prefix of every state table key.
const prefixLen = 4 + 2

// FullKey lays out a storage key as table id (u32 BE) | vnode (u16 BE) | pk.
// Big endian keeps byte order equal to numeric order.
func FullKey(table types.TableID, vnode types.VirtualNode, pk []byte) types.Key {
	key := make([]byte, prefixLen, prefixLen+len(pk))
	binary.BigEndian.PutUint32(key, uint32(table))
	binary.BigEndian.PutUint16(key[4:], uint16(vnode))
	return append(key, pk...)
}

// SplitKey is the inverse of FullKey.
func SplitKey(key types.Key) (types.TableID, types.VirtualNode, []byte, error) {
	if len(key) < prefixLen {
		return 0, 0, nil, fmt.Errorf("key too short: %d bytes", len(key))
	}
	return types.TableID(binary.BigEndian.Uint32(key)),
		types.VirtualNode(binary.BigEndian.Uint16(key[4:])),
		key[prefixLen:], nil
}

// VnodeRange returns the full-key range [lo, hi) covering the descriptor's pk bounds
// within one vnode.
func (d *Descriptor) VnodeRange(vnode types.VirtualNode) (lo, hi types.Key) {
	lo = FullKey(d.TableID, vnode, d.Start)
	if len(d.End) > 0 {
		hi = FullKey(d.TableID, vnode, d.End)
	} else {
		hi = FullKey(d.TableID, vnode+1, nil)
	}
	return lo, hi
}

// InRange reports whether key falls in [lo, hi).
func InRange(key, lo, hi types.Key) bool {
	return bytes.Compare(key, lo) >= 0 && bytes.Compare(key, hi) < 0
}
