package datum

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Datum is one column value, nil when NULL.
type Datum = any

const microsPerDay = int64(24 * time.Hour / time.Microsecond)

// Dates and timestamps are limited to years 1 through 9999, the range their text form covers.
var (
	minMicros = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMicro()
	maxMicros = time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMicro() - 1
	minDays   = int32(minMicros / microsPerDay)
	maxDays   = int32(maxMicros / microsPerDay)
)

func inRange(us int64) bool {
	return us >= minMicros && us <= maxMicros
}

// Timestamp is a timestamp without time zone: a wall clock reading, microseconds since
// 1970-01-01 00:00:00.
type Timestamp struct {
	Micros int64
}

// NewTimestamp keeps the wall clock of t and drops its zone.
func NewTimestamp(t time.Time) Timestamp {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return Timestamp{Micros: wall.UnixMicro()}
}

// Time returns the wall clock as a time.Time in UTC. The zone carries no meaning.
func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(ts.Micros).UTC()
}

func (ts Timestamp) Valid() bool {
	return inRange(ts.Micros)
}

// Timestamptz is an absolute instant, microseconds since the Unix epoch.
type Timestamptz struct {
	Micros int64
}

func NewTimestamptz(t time.Time) Timestamptz {
	return Timestamptz{Micros: t.UnixMicro()}
}

// Time returns the instant normalized to UTC.
func (ts Timestamptz) Time() time.Time {
	return time.UnixMicro(ts.Micros).UTC()
}

func (ts Timestamptz) Valid() bool {
	return inRange(ts.Micros)
}

// Date is a calendar date, days since 1970-01-01.
type Date struct {
	Days int32
}

func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{Days: int32(t.Unix() / 86400)}
}

func (d Date) Time() time.Time {
	return time.Unix(int64(d.Days)*86400, 0).UTC()
}

func (d Date) Valid() bool {
	return d.Days >= minDays && d.Days <= maxDays
}

// Time is a time of day without zone, microseconds since midnight.
type Time struct {
	Micros int64
}

func NewTime(hour, min, sec, micros int) Time {
	return Time{Micros: ((int64(hour)*60+int64(min))*60+int64(sec))*1_000_000 + int64(micros)}
}

func (t Time) Valid() bool {
	return t.Micros >= 0 && t.Micros < microsPerDay
}

// Interval keeps months, days and microseconds apart, as they do not convert into each other.
type Interval struct {
	Months int32
	Days   int32
	Micros int64
}

// JSONB is a JSON document in compact form.
type JSONB string

// Check reports whether d may be stored in a column of type t.
func Check(t DataType, d Datum) error {
	if d == nil {
		return nil
	}
	ok := false
	switch t.Kind {
	case KindInt16:
		_, ok = d.(int16)
	case KindInt32:
		_, ok = d.(int32)
	case KindInt64:
		_, ok = d.(int64)
	case KindFloat32:
		_, ok = d.(float32)
	case KindFloat64:
		_, ok = d.(float64)
	case KindBool:
		_, ok = d.(bool)
	case KindVarchar:
		_, ok = d.(string)
	case KindBytea:
		_, ok = d.([]byte)
	case KindTimestamp:
		var v Timestamp
		if v, ok = d.(Timestamp); ok && !v.Valid() {
			return fmt.Errorf("timestamp out of range: %d us", v.Micros)
		}
	case KindTimestamptz:
		var v Timestamptz
		if v, ok = d.(Timestamptz); ok && !v.Valid() {
			return fmt.Errorf("timestamptz out of range: %d us", v.Micros)
		}
	case KindTime:
		var v Time
		if v, ok = d.(Time); ok && !v.Valid() {
			return fmt.Errorf("time of day out of range: %d us", v.Micros)
		}
	case KindDate:
		var v Date
		if v, ok = d.(Date); ok && !v.Valid() {
			return fmt.Errorf("date out of range: %d days", v.Days)
		}
	case KindInterval:
		_, ok = d.(Interval)
	case KindDecimal:
		_, ok = d.(decimal.Decimal)
	case KindJSONB:
		_, ok = d.(JSONB)
	case KindList:
		var items []Datum
		if items, ok = d.([]Datum); ok {
			if t.Elem == nil {
				return fmt.Errorf("list type without element type")
			}
			for i, item := range items {
				if err := Check(*t.Elem, item); err != nil {
					return fmt.Errorf("element %d: %w", i, err)
				}
			}
		}
	default:
		return fmt.Errorf("unknown kind %s", t.Kind)
	}
	if !ok {
		return fmt.Errorf("%T is not a %s value", d, t)
	}
	return nil
}

// Clone returns a copy of d that shares no memory with it. Only byte strings and lists
// are mutable; other datums are returned as is.
func Clone(d Datum) Datum {
	switch v := d.(type) {
	case []byte:
		return bytes.Clone(v)
	case []Datum:
		return cloneList(v)
	}
	return d
}

func cloneList(items []Datum) []Datum {
	if items == nil {
		return nil
	}
	out := make([]Datum, len(items))
	for i, item := range items {
		out[i] = Clone(item)
	}
	return out
}

// Equal compares two datums of the same type. Floats compare by bit pattern so NaN equals
// itself; decimals compare by value.
func Equal(a, b Datum) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float32:
		bv, ok := b.(float32)
		return ok && math.Float32bits(av) == math.Float32bits(bv)
	case float64:
		bv, ok := b.(float64)
		return ok && math.Float64bits(av) == math.Float64bits(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case []Datum:
		bv, ok := b.([]Datum)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
