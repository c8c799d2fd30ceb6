// Package scan defines the serialized request that opens a storage iterator and the layout of
// state table keys it ranges over.
package scan

import (
	"bytes"
	"connbridge/pkg/datum"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/types"
	"fmt"
	"math"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the descriptor message.
const (
	fieldTableID    protowire.Number = 1
	fieldSnapshot   protowire.Number = 2
	fieldVnodes     protowire.Number = 3
	fieldStart      protowire.Number = 4
	fieldEnd        protowire.Number = 5
	fieldColumns    protowire.Number = 6
	fieldProjection protowire.Number = 7
)

// Descriptor selects a snapshot-consistent key range of one state table.
type Descriptor struct {
	TableID  types.TableID
	Snapshot types.SequenceNumber
	// Vnodes to read; empty reads all of them.
	Vnodes []types.VirtualNode
	// Start is inclusive, End exclusive. Empty means unbounded.
	Start []byte
	End   []byte
	// Columns is the full table schema the stored values are encoded with.
	Columns []datum.DataType
	// Projection picks the exposed columns by index into Columns; empty exposes all.
	Projection []int
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: scan descriptor: %s", dberrors.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Marshal encodes d in protobuf wire format.
func (d *Descriptor) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTableID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.TableID))
	b = protowire.AppendTag(b, fieldSnapshot, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Snapshot))

	if len(d.Vnodes) > 0 {
		var packed []byte
		for _, v := range d.Vnodes {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = protowire.AppendTag(b, fieldVnodes, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(d.Start) > 0 {
		b = protowire.AppendTag(b, fieldStart, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Start)
	}
	if len(d.End) > 0 {
		b = protowire.AppendTag(b, fieldEnd, protowire.BytesType)
		b = protowire.AppendBytes(b, d.End)
	}
	for _, t := range d.Columns {
		b = protowire.AppendTag(b, fieldColumns, protowire.BytesType)
		b = protowire.AppendString(b, t.Code())
	}
	if len(d.Projection) > 0 {
		var packed []byte
		for _, p := range d.Projection {
			packed = protowire.AppendVarint(packed, uint64(p))
		}
		b = protowire.AppendTag(b, fieldProjection, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

// Unmarshal decodes and validates a descriptor. Unknown fields are skipped; repeated
// integer fields are accepted packed or unpacked.
func Unmarshal(data []byte) (*Descriptor, error) {
	d := &Descriptor{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, invalid("%v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldTableID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, invalid("table id: %v", protowire.ParseError(n))
			}
			if v > uint64(^types.TableID(0)) {
				return nil, invalid("table id %d out of range", v)
			}
			d.TableID = types.TableID(v)
			data = data[n:]
		case num == fieldSnapshot && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, invalid("snapshot: %v", protowire.ParseError(n))
			}
			d.Snapshot = types.SequenceNumber(v)
			data = data[n:]
		case num == fieldVnodes:
			vals, n, err := consumeRepeatedVarint(data, typ)
			if err != nil {
				return nil, invalid("vnodes: %v", err)
			}
			for _, v := range vals {
				if v >= types.VnodeCount {
					return nil, invalid("vnode %d out of range [0, %d)", v, types.VnodeCount)
				}
				d.Vnodes = append(d.Vnodes, types.VirtualNode(v))
			}
			data = data[n:]
		case (num == fieldStart || num == fieldEnd || num == fieldColumns) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, invalid("field %d: %v", num, protowire.ParseError(n))
			}
			switch num {
			case fieldStart:
				d.Start = bytes.Clone(v)
			case fieldEnd:
				d.End = bytes.Clone(v)
			default:
				t, err := datum.ParseType(string(v))
				if err != nil {
					return nil, invalid("column %d: %v", len(d.Columns), err)
				}
				d.Columns = append(d.Columns, t)
			}
			data = data[n:]
		case num == fieldProjection:
			vals, n, err := consumeRepeatedVarint(data, typ)
			if err != nil {
				return nil, invalid("projection: %v", err)
			}
			for _, v := range vals {
				if v > math.MaxInt32 {
					return nil, invalid("projection index %d out of range", v)
				}
				d.Projection = append(d.Projection, int(v))
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, invalid("field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func consumeRepeatedVarint(data []byte, typ protowire.Type) ([]uint64, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		return []uint64{v}, n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		var out []uint64
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return nil, 0, protowire.ParseError(m)
			}
			out = append(out, v)
			packed = packed[m:]
		}
		return out, n, nil
	default:
		return nil, 0, fmt.Errorf("unexpected wire type %d", typ)
	}
}

// Validate checks the descriptor is well-formed.
func (d *Descriptor) Validate() error {
	if d.TableID == 0 {
		return invalid("missing table id")
	}
	if d.Snapshot == 0 {
		return invalid("missing snapshot")
	}
	if len(d.Columns) == 0 {
		return invalid("no columns")
	}

	seen := make(map[types.VirtualNode]struct{}, len(d.Vnodes))
	for _, v := range d.Vnodes {
		if int(v) >= types.VnodeCount {
			return invalid("vnode %d out of range [0, %d)", v, types.VnodeCount)
		}
		if _, dup := seen[v]; dup {
			return invalid("duplicate vnode %d", v)
		}
		seen[v] = struct{}{}
	}

	if len(d.Start) > 0 && len(d.End) > 0 && bytes.Compare(d.Start, d.End) >= 0 {
		return invalid("empty key range [%x, %x)", d.Start, d.End)
	}

	for _, p := range d.Projection {
		if p < 0 || p >= len(d.Columns) {
			return invalid("projection index %d out of range [0, %d)", p, len(d.Columns))
		}
	}
	return nil
}

// VnodesToScan returns the vnodes to visit in ascending order.
func (d *Descriptor) VnodesToScan() []types.VirtualNode {
	if len(d.Vnodes) == 0 {
		all := make([]types.VirtualNode, types.VnodeCount)
		for i := range all {
			all[i] = types.VirtualNode(i)
		}
		return all
	}
	out := slices.Clone(d.Vnodes)
	slices.Sort(out)
	return out
}

// OutputTypes returns the types of the exposed columns.
func (d *Descriptor) OutputTypes() []datum.DataType {
	if len(d.Projection) == 0 {
		return slices.Clone(d.Columns)
	}
	out := make([]datum.DataType, len(d.Projection))
	for i, p := range d.Projection {
		out[i] = d.Columns[p]
	}
	return out
}

// Project picks the exposed columns out of a full stored row.
func (d *Descriptor) Project(row []datum.Datum) []datum.Datum {
	if len(d.Projection) == 0 {
		return row
	}
	out := make([]datum.Datum, len(d.Projection))
	for i, p := range d.Projection {
		out[i] = row[p]
	}
	return out
}
