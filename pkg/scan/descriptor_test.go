package scan

import (
	"bytes"
	"testing"

	"connbridge/pkg/datum"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func validDescriptor() *Descriptor {
	return &Descriptor{
		TableID:    7,
		Snapshot:   42,
		Vnodes:     []types.VirtualNode{3, 1},
		Start:      []byte("a"),
		End:        []byte("m"),
		Columns:    []datum.DataType{datum.TypeInt32, datum.TypeVarchar, datum.List(datum.TypeInt64)},
		Projection: []int{2, 0},
	}
}

func TestDescriptor_RoundTrip(t *testing.T) {
	d := validDescriptor()

	got, err := Unmarshal(d.Marshal())
	require.NoError(t, err)
	assert.Equal(t, d.TableID, got.TableID)
	assert.Equal(t, d.Snapshot, got.Snapshot)
	assert.Equal(t, d.Vnodes, got.Vnodes)
	assert.Equal(t, d.Start, got.Start)
	assert.Equal(t, d.End, got.End)
	assert.Equal(t, d.Projection, got.Projection)
	require.Len(t, got.Columns, 3)
	assert.True(t, got.Columns[2].Equal(datum.List(datum.TypeInt64)))

	assert.Equal(t, []types.VirtualNode{1, 3}, got.VnodesToScan())
	out := got.OutputTypes()
	require.Len(t, out, 2)
	assert.True(t, out[0].Equal(datum.List(datum.TypeInt64)))
	assert.True(t, out[1].Equal(datum.TypeInt32))
}

func TestUnmarshal_UnknownFieldsAndUnpacked(t *testing.T) {
	d := &Descriptor{TableID: 1, Snapshot: 2, Columns: []datum.DataType{datum.TypeBool}}
	b := d.Marshal()
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")
	b = protowire.AppendTag(b, fieldVnodes, protowire.VarintType)
	b = protowire.AppendVarint(b, 5)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, []types.VirtualNode{5}, got.Vnodes)
	assert.Len(t, got.VnodesToScan(), 1)
}

func TestUnmarshal_Invalid(t *testing.T) {
	mutate := func(f func(d *Descriptor)) []byte {
		d := validDescriptor()
		f(d)
		return d.Marshal()
	}

	cases := map[string][]byte{
		"garbage":          {0xff, 0xff, 0xff},
		"truncated":        validDescriptor().Marshal()[:5],
		"no table":         mutate(func(d *Descriptor) { d.TableID = 0 }),
		"no snapshot":      mutate(func(d *Descriptor) { d.Snapshot = 0 }),
		"no columns":       mutate(func(d *Descriptor) { d.Columns = nil; d.Projection = nil }),
		"vnode range":      mutate(func(d *Descriptor) { d.Vnodes = []types.VirtualNode{types.VnodeCount} }),
		"duplicate vnode":  mutate(func(d *Descriptor) { d.Vnodes = []types.VirtualNode{2, 2} }),
		"empty range":      mutate(func(d *Descriptor) { d.Start, d.End = []byte("z"), []byte("a") }),
		"projection range": mutate(func(d *Descriptor) { d.Projection = []int{3} }),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, dberrors.ErrInvalidArgument)
		})
	}
}

func TestFullKey_OrderAndSplit(t *testing.T) {
	k1 := FullKey(1, 0, []byte("zzz"))
	k2 := FullKey(1, 1, []byte("a"))
	k3 := FullKey(2, 0, nil)
	assert.Negative(t, bytes.Compare(k1, k2))
	assert.Negative(t, bytes.Compare(k2, k3))

	table, vnode, pk, err := SplitKey(k2)
	require.NoError(t, err)
	assert.Equal(t, types.TableID(1), table)
	assert.Equal(t, types.VirtualNode(1), vnode)
	assert.Equal(t, []byte("a"), pk)

	_, _, _, err = SplitKey([]byte{1, 2})
	require.Error(t, err)
}

func TestVnodeRange(t *testing.T) {
	d := &Descriptor{TableID: 9}
	lo, hi := d.VnodeRange(4)
	assert.True(t, InRange(FullKey(9, 4, nil), lo, hi))
	assert.True(t, InRange(FullKey(9, 4, []byte{0xff, 0xff}), lo, hi))
	assert.False(t, InRange(FullKey(9, 5, nil), lo, hi))
	assert.False(t, InRange(FullKey(9, 3, []byte{0xff}), lo, hi))

	d.Start, d.End = []byte("b"), []byte("d")
	lo, hi = d.VnodeRange(4)
	assert.True(t, InRange(FullKey(9, 4, []byte("b")), lo, hi))
	assert.True(t, InRange(FullKey(9, 4, []byte("c9")), lo, hi))
	assert.False(t, InRange(FullKey(9, 4, []byte("d")), lo, hi))
	assert.False(t, InRange(FullKey(9, 4, []byte("a")), lo, hi))
}
