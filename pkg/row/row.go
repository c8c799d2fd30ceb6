// Package row is the accessor for one decoded row handed to a connector: typed column values,
// a change-operation tag and, for rows read from storage, the encoded key.
package row

import (
	"bytes"
	"errors"
	"slices"

	"connbridge/pkg/datum"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/registry"

	"github.com/shopspring/decimal"
)

var errNull = errors.New("value is NULL")

// Row owns its values; it stays readable after the iterator that produced it is closed.
type Row struct {
	key    []byte
	op     datum.Op
	types  []datum.DataType
	values []datum.Datum
}

func New(key []byte, op datum.Op, types []datum.DataType, values []datum.Datum) *Row {
	return &Row{key: key, op: op, types: types, values: values}
}

func (*Row) Kind() registry.Kind { return registry.KindRow }

// Key returns the storage key. Rows decoded from a chunk have none.
func (r *Row) Key() []byte {
	return bytes.Clone(r.key)
}

func (r *Row) Op() datum.Op {
	return r.op
}

func (r *Row) Len() int {
	return len(r.values)
}

// Types returns a copy of the column types; rows of one chunk share the original.
func (r *Row) Types() []datum.DataType {
	return slices.Clone(r.types)
}

func (r *Row) checkOrdinal(ordinal int) error {
	if ordinal < 0 || ordinal >= len(r.values) {
		return dberrors.InvalidArgument("", 0, ordinal, "ordinal out of range [0, %d)", len(r.values))
	}
	return nil
}

func (r *Row) IsNull(ordinal int) (bool, error) {
	if err := r.checkOrdinal(ordinal); err != nil {
		return false, err
	}
	return r.values[ordinal] == nil, nil
}

// Datum returns the raw value at ordinal, nil for NULL.
func (r *Row) Datum(ordinal int) (datum.Datum, error) {
	if err := r.checkOrdinal(ordinal); err != nil {
		return nil, err
	}
	return datum.Clone(r.values[ordinal]), nil
}

// Value reads a non-null value of a column that must have type t.
func (r *Row) Value(ordinal int, t datum.DataType) (datum.Datum, error) {
	if err := r.checkOrdinal(ordinal); err != nil {
		return nil, err
	}
	if ct := r.types[ordinal]; !ct.Equal(t) {
		return nil, dberrors.InvalidArgument("", 0, ordinal, "column is %s, not %s", ct, t)
	}
	if r.values[ordinal] == nil {
		return nil, dberrors.Decode("", 0, ordinal, errNull)
	}
	return datum.Clone(r.values[ordinal]), nil
}

// get reads a non-null value of the given kind.
func get[T any](r *Row, ordinal int, kind datum.Kind) (T, error) {
	var zero T
	if err := r.checkOrdinal(ordinal); err != nil {
		return zero, err
	}
	if t := r.types[ordinal]; t.Kind != kind {
		return zero, dberrors.InvalidArgument("", 0, ordinal, "column is %s, not %s", t, kind)
	}
	v := r.values[ordinal]
	if v == nil {
		return zero, dberrors.Decode("", 0, ordinal, errNull)
	}
	out, ok := v.(T)
	if !ok {
		return zero, dberrors.Decode("", 0, ordinal, errors.New("stored value does not match column type"))
	}
	return out, nil
}

func (r *Row) Int16(ordinal int) (int16, error) {
	return get[int16](r, ordinal, datum.KindInt16)
}

func (r *Row) Int32(ordinal int) (int32, error) {
	return get[int32](r, ordinal, datum.KindInt32)
}

func (r *Row) Int64(ordinal int) (int64, error) {
	return get[int64](r, ordinal, datum.KindInt64)
}

func (r *Row) Float32(ordinal int) (float32, error) {
	return get[float32](r, ordinal, datum.KindFloat32)
}

func (r *Row) Float64(ordinal int) (float64, error) {
	return get[float64](r, ordinal, datum.KindFloat64)
}

func (r *Row) Bool(ordinal int) (bool, error) {
	return get[bool](r, ordinal, datum.KindBool)
}

func (r *Row) Varchar(ordinal int) (string, error) {
	return get[string](r, ordinal, datum.KindVarchar)
}

func (r *Row) Bytea(ordinal int) ([]byte, error) {
	b, err := get[[]byte](r, ordinal, datum.KindBytea)
	return bytes.Clone(b), err
}

func (r *Row) Timestamp(ordinal int) (datum.Timestamp, error) {
	return get[datum.Timestamp](r, ordinal, datum.KindTimestamp)
}

// Timestamptz values are always in UTC.
func (r *Row) Timestamptz(ordinal int) (datum.Timestamptz, error) {
	return get[datum.Timestamptz](r, ordinal, datum.KindTimestamptz)
}

func (r *Row) Date(ordinal int) (datum.Date, error) {
	return get[datum.Date](r, ordinal, datum.KindDate)
}

func (r *Row) Time(ordinal int) (datum.Time, error) {
	return get[datum.Time](r, ordinal, datum.KindTime)
}

func (r *Row) Interval(ordinal int) (datum.Interval, error) {
	return get[datum.Interval](r, ordinal, datum.KindInterval)
}

func (r *Row) Decimal(ordinal int) (decimal.Decimal, error) {
	return get[decimal.Decimal](r, ordinal, datum.KindDecimal)
}

func (r *Row) JSONB(ordinal int) (datum.JSONB, error) {
	return get[datum.JSONB](r, ordinal, datum.KindJSONB)
}

// Array reads a list column whose element type must be elem.
func (r *Row) Array(ordinal int, elem datum.DataType) ([]datum.Datum, error) {
	if err := r.checkOrdinal(ordinal); err != nil {
		return nil, err
	}
	if t := r.types[ordinal]; t.Kind != datum.KindList || !t.Elem.Equal(elem) {
		return nil, dberrors.InvalidArgument("", 0, ordinal, "column is %s, not %s", t, datum.List(elem))
	}
	items, err := get[[]datum.Datum](r, ordinal, datum.KindList)
	if err != nil {
		return nil, err
	}
	return datum.Clone(items).([]datum.Datum), nil
}
