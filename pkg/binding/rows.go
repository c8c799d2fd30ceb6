package binding

import (
	"connbridge/pkg/datum"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/registry"
	"connbridge/pkg/row"
)

func (b *Bridge) lookupRow(op string, h registry.Handle) (*row.Row, error) {
	r, err := registry.Lookup[*row.Row](b.reg, op, h)
	if err != nil {
		return nil, misuse(err)
	}
	return r, nil
}

// getter runs a typed read against the row under h and stamps op and h on its error.
func getter[T any](b *Bridge, op string, h registry.Handle, read func(*row.Row) (T, error)) (T, error) {
	var zero T
	r, err := b.lookupRow(op, h)
	if err != nil {
		return zero, err
	}
	v, err := read(r)
	if err != nil {
		return zero, dberrors.Wrap(dberrors.ErrDecode, op, uint64(h), err)
	}
	return v, nil
}

// RowGetKey returns the encoded storage key of a row, empty for rows read from a chunk.
func (b *Bridge) RowGetKey(h registry.Handle) ([]byte, error) {
	r, err := b.lookupRow(OpRowGetKey, h)
	if err != nil {
		return nil, err
	}
	return r.Key(), nil
}

func (b *Bridge) RowGetOp(h registry.Handle) (datum.Op, error) {
	r, err := b.lookupRow(OpRowGetOp, h)
	if err != nil {
		return 0, err
	}
	return r.Op(), nil
}

// RowLen returns the number of columns.
func (b *Bridge) RowLen(h registry.Handle) (int, error) {
	r, err := b.lookupRow(OpRowGet, h)
	if err != nil {
		return 0, err
	}
	return r.Len(), nil
}

// RowTypes returns the column types, in ordinal order.
func (b *Bridge) RowTypes(h registry.Handle) ([]datum.DataType, error) {
	r, err := b.lookupRow(OpRowGet, h)
	if err != nil {
		return nil, err
	}
	return r.Types(), nil
}

func (b *Bridge) RowIsNull(h registry.Handle, ordinal int) (bool, error) {
	return getter(b, OpRowIsNull, h, func(r *row.Row) (bool, error) { return r.IsNull(ordinal) })
}

// RowGetDatum returns the raw value at ordinal, nil for NULL.
func (b *Bridge) RowGetDatum(h registry.Handle, ordinal int) (datum.Datum, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (datum.Datum, error) { return r.Datum(ordinal) })
}

// RowGetValue reads a non-null value of a column that must have type t.
func (b *Bridge) RowGetValue(h registry.Handle, ordinal int, t datum.DataType) (datum.Datum, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (datum.Datum, error) { return r.Value(ordinal, t) })
}

func (b *Bridge) RowGetInt16(h registry.Handle, ordinal int) (int16, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (int16, error) { return r.Int16(ordinal) })
}

func (b *Bridge) RowGetInt32(h registry.Handle, ordinal int) (int32, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (int32, error) { return r.Int32(ordinal) })
}

func (b *Bridge) RowGetInt64(h registry.Handle, ordinal int) (int64, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (int64, error) { return r.Int64(ordinal) })
}

func (b *Bridge) RowGetFloat32(h registry.Handle, ordinal int) (float32, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (float32, error) { return r.Float32(ordinal) })
}

func (b *Bridge) RowGetFloat64(h registry.Handle, ordinal int) (float64, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (float64, error) { return r.Float64(ordinal) })
}

func (b *Bridge) RowGetBool(h registry.Handle, ordinal int) (bool, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (bool, error) { return r.Bool(ordinal) })
}

func (b *Bridge) RowGetString(h registry.Handle, ordinal int) (string, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (string, error) { return r.Varchar(ordinal) })
}

func (b *Bridge) RowGetBytes(h registry.Handle, ordinal int) ([]byte, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) ([]byte, error) { return r.Bytea(ordinal) })
}

func (b *Bridge) RowGetTimestamp(h registry.Handle, ordinal int) (datum.Timestamp, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (datum.Timestamp, error) { return r.Timestamp(ordinal) })
}

// RowGetTimestamptz returns the instant normalized to UTC.
func (b *Bridge) RowGetTimestamptz(h registry.Handle, ordinal int) (datum.Timestamptz, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (datum.Timestamptz, error) { return r.Timestamptz(ordinal) })
}

func (b *Bridge) RowGetDate(h registry.Handle, ordinal int) (datum.Date, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (datum.Date, error) { return r.Date(ordinal) })
}

func (b *Bridge) RowGetTime(h registry.Handle, ordinal int) (datum.Time, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (datum.Time, error) { return r.Time(ordinal) })
}

// RowGetInterval returns the interval as months, days and microseconds; its String form
// parses back with datum.ParseInterval.
func (b *Bridge) RowGetInterval(h registry.Handle, ordinal int) (datum.Interval, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (datum.Interval, error) { return r.Interval(ordinal) })
}

// RowGetDecimal returns the decimal in its canonical text form, which parses back to the
// same value.
func (b *Bridge) RowGetDecimal(h registry.Handle, ordinal int) (string, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (string, error) {
		d, err := r.Decimal(ordinal)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	})
}

func (b *Bridge) RowGetJSONB(h registry.Handle, ordinal int) (string, error) {
	return getter(b, OpRowGet, h, func(r *row.Row) (string, error) {
		j, err := r.JSONB(ordinal)
		return string(j), err
	})
}

// RowGetArray reads a list column whose element type must be elem.
func (b *Bridge) RowGetArray(h registry.Handle, ordinal int, elem datum.DataType) ([]datum.Datum, error) {
	return getter(b, OpRowGetArray, h, func(r *row.Row) ([]datum.Datum, error) { return r.Array(ordinal, elem) })
}

// RowClose releases the row. Closing it again is ErrInvalidHandle.
func (b *Bridge) RowClose(h registry.Handle) error {
	if _, err := registry.Take[*row.Row](b.reg, OpRowClose, h); err != nil {
		return misuse(err)
	}
	b.released(registry.KindRow)
	return nil
}
