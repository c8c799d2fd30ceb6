// Package valuecodec is the binary value encoding shared by stored rows and encoded chunks.
//
// Every datum starts with a one byte tag (0 = NULL, 1 = present) followed by its payload.
// Fixed-width values are little endian; variable-length values carry a 4 byte length prefix;
// lists carry a 4 byte element count followed by the encoded elements.
package valuecodec

import (
	"connbridge/pkg/datum"
	"connbridge/pkg/dberrors"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	tagNull    byte = 0
	tagPresent byte = 1
)

type EncodeError struct {
	Message string
}

func (e *EncodeError) Error() string {
	return e.Message
}

type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return e.Message
}

func (e *DecodeError) Is(target error) bool {
	return target == dberrors.ErrDecode
}

func short(what string) error {
	return &DecodeError{Message: "insufficient data for " + what}
}

// AppendDatum appends the encoding of d, a value of type t, to buf.
func AppendDatum(buf []byte, t datum.DataType, d datum.Datum) ([]byte, error) {
	if err := datum.Check(t, d); err != nil {
		return nil, &EncodeError{Message: err.Error()}
	}
	if d == nil {
		return append(buf, tagNull), nil
	}
	buf = append(buf, tagPresent)

	switch v := d.(type) {
	case int16:
		buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
	case int32:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	case int64:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	case float32:
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	case float64:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	case bool:
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case string:
		buf = appendBytes(buf, []byte(v))
	case []byte:
		buf = appendBytes(buf, v)
	case datum.JSONB:
		buf = appendBytes(buf, []byte(v))
	case decimal.Decimal:
		buf = appendBytes(buf, []byte(v.String()))
	case datum.Timestamp:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Micros))
	case datum.Timestamptz:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Micros))
	case datum.Time:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Micros))
	case datum.Date:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Days))
	case datum.Interval:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Months))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Days))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Micros))
	case []datum.Datum:
		if len(v) > math.MaxUint32 {
			return nil, &EncodeError{Message: fmt.Sprintf("list too long: %d", len(v))}
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		for _, item := range v {
			var err error
			if buf, err = AppendDatum(buf, *t.Elem, item); err != nil {
				return nil, err
			}
		}
	default:
		return nil, &EncodeError{Message: fmt.Sprintf("unsupported datum %T", d)}
	}
	return buf, nil
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// DecodeDatum decodes one value of type t from the front of data and returns it together
// with the number of bytes consumed.
func DecodeDatum(data []byte, t datum.DataType) (datum.Datum, int, error) {
	if len(data) < 1 {
		return nil, 0, short("null tag")
	}
	switch data[0] {
	case tagNull:
		return nil, 1, nil
	case tagPresent:
	default:
		return nil, 0, &DecodeError{Message: fmt.Sprintf("invalid null tag: %d", data[0])}
	}

	offset := 1
	fixed := func(n int) ([]byte, error) {
		if len(data[offset:]) < n {
			return nil, short(t.String())
		}
		b := data[offset : offset+n]
		offset += n
		return b, nil
	}

	switch t.Kind {
	case datum.KindInt16:
		b, err := fixed(2)
		if err != nil {
			return nil, 0, err
		}
		return int16(binary.LittleEndian.Uint16(b)), offset, nil
	case datum.KindInt32:
		b, err := fixed(4)
		if err != nil {
			return nil, 0, err
		}
		return int32(binary.LittleEndian.Uint32(b)), offset, nil
	case datum.KindInt64:
		b, err := fixed(8)
		if err != nil {
			return nil, 0, err
		}
		return int64(binary.LittleEndian.Uint64(b)), offset, nil
	case datum.KindFloat32:
		b, err := fixed(4)
		if err != nil {
			return nil, 0, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), offset, nil
	case datum.KindFloat64:
		b, err := fixed(8)
		if err != nil {
			return nil, 0, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), offset, nil
	case datum.KindBool:
		b, err := fixed(1)
		if err != nil {
			return nil, 0, err
		}
		return b[0] != 0, offset, nil
	case datum.KindTimestamp, datum.KindTimestamptz, datum.KindTime:
		b, err := fixed(8)
		if err != nil {
			return nil, 0, err
		}
		us := int64(binary.LittleEndian.Uint64(b))
		switch t.Kind {
		case datum.KindTimestamp:
			ts := datum.Timestamp{Micros: us}
			if !ts.Valid() {
				return nil, 0, &DecodeError{Message: fmt.Sprintf("timestamp out of range: %d", us)}
			}
			return ts, offset, nil
		case datum.KindTimestamptz:
			ts := datum.Timestamptz{Micros: us}
			if !ts.Valid() {
				return nil, 0, &DecodeError{Message: fmt.Sprintf("timestamptz out of range: %d", us)}
			}
			return ts, offset, nil
		}
		tm := datum.Time{Micros: us}
		if !tm.Valid() {
			return nil, 0, &DecodeError{Message: fmt.Sprintf("time of day out of range: %d", us)}
		}
		return tm, offset, nil
	case datum.KindDate:
		b, err := fixed(4)
		if err != nil {
			return nil, 0, err
		}
		d := datum.Date{Days: int32(binary.LittleEndian.Uint32(b))}
		if !d.Valid() {
			return nil, 0, &DecodeError{Message: fmt.Sprintf("date out of range: %d", d.Days)}
		}
		return d, offset, nil
	case datum.KindInterval:
		b, err := fixed(16)
		if err != nil {
			return nil, 0, err
		}
		return datum.Interval{
			Months: int32(binary.LittleEndian.Uint32(b[0:])),
			Days:   int32(binary.LittleEndian.Uint32(b[4:])),
			Micros: int64(binary.LittleEndian.Uint64(b[8:])),
		}, offset, nil
	case datum.KindVarchar, datum.KindBytea, datum.KindJSONB, datum.KindDecimal:
		lb, err := fixed(4)
		if err != nil {
			return nil, 0, err
		}
		b, err := fixed(int(binary.LittleEndian.Uint32(lb)))
		if err != nil {
			return nil, 0, err
		}
		switch t.Kind {
		case datum.KindVarchar:
			return string(b), offset, nil
		case datum.KindBytea:
			return append([]byte(nil), b...), offset, nil
		case datum.KindJSONB:
			return datum.JSONB(b), offset, nil
		}
		d, err := decimal.NewFromString(string(b))
		if err != nil {
			return nil, 0, &DecodeError{Message: fmt.Sprintf("invalid decimal %q", b)}
		}
		return d, offset, nil
	case datum.KindList:
		if t.Elem == nil {
			return nil, 0, &DecodeError{Message: "list type without element type"}
		}
		lb, err := fixed(4)
		if err != nil {
			return nil, 0, err
		}
		count := int(binary.LittleEndian.Uint32(lb))
		// every element takes at least its tag byte
		if count > len(data[offset:]) {
			return nil, 0, short("list elements")
		}
		items := make([]datum.Datum, 0, count)
		for i := 0; i < count; i++ {
			item, n, err := DecodeDatum(data[offset:], *t.Elem)
			if err != nil {
				return nil, 0, err
			}
			items = append(items, item)
			offset += n
		}
		return items, offset, nil
	default:
		return nil, 0, &DecodeError{Message: fmt.Sprintf("unknown type: %s", t)}
	}
}

// EncodeRow encodes a full row in schema order.
func EncodeRow(types []datum.DataType, row []datum.Datum) ([]byte, error) {
	if len(types) != len(row) {
		return nil, &EncodeError{Message: fmt.Sprintf("row has %d values, schema has %d columns", len(row), len(types))}
	}
	var (
		buf []byte
		err error
	)
	for i, t := range types {
		if buf, err = AppendDatum(buf, t, row[i]); err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
	}
	return buf, nil
}

// DecodeRow is the inverse of EncodeRow. Trailing bytes are an error.
func DecodeRow(types []datum.DataType, data []byte) ([]datum.Datum, error) {
	row := make([]datum.Datum, len(types))
	offset := 0
	for i, t := range types {
		d, n, err := DecodeDatum(data[offset:], t)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		row[i] = d
		offset += n
	}
	if offset != len(data) {
		return nil, &DecodeError{Message: fmt.Sprintf("%d trailing bytes after row", len(data)-offset)}
	}
	return row, nil
}
