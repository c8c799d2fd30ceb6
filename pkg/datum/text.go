package datum

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	dateLayout        = "2006-01-02"
	timeLayout        = "15:04:05.999999"
	timestampLayout   = "2006-01-02 15:04:05.999999"
	timestamptzLayout = "2006-01-02 15:04:05.999999-07:00"

	// NullElement is how a NULL list element is written.
	NullElement = "NULL"
)

func (ts Timestamp) String() string {
	return ts.Time().Format(timestampLayout)
}

func (ts Timestamptz) String() string {
	return ts.Time().Format(timestamptzLayout)
}

func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

func (t Time) String() string {
	return time.UnixMicro(t.Micros).UTC().Format(timeLayout)
}

// String renders the interval as P<months>M<days>DT<seconds>S, e.g. P1M-2DT3.5S.
func (iv Interval) String() string {
	return fmt.Sprintf("P%dM%dDT%sS", iv.Months, iv.Days, formatMicros(iv.Micros))
}

func formatMicros(us int64) string {
	neg := us < 0
	u := uint64(us)
	if neg {
		u = -u
	}
	s := strconv.FormatUint(u/1_000_000, 10)
	if frac := u % 1_000_000; frac != 0 {
		s += "." + strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	}
	if neg {
		s = "-" + s
	}
	return s
}

func parseMicros(s string) (int64, error) {
	neg := false
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		neg, s = true, rest
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	sec, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	var fracUs uint64
	if hasFrac {
		if frac == "" || len(frac) > 6 {
			return 0, fmt.Errorf("invalid fraction %q", frac)
		}
		fracUs, err = strconv.ParseUint(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
		if err != nil {
			return 0, err
		}
	}
	limit := uint64(math.MaxInt64)
	if neg {
		limit++
	}
	if sec > (limit-fracUs)/1_000_000 {
		return 0, fmt.Errorf("seconds out of range: %s", s)
	}
	u := sec*1_000_000 + fracUs
	if neg {
		return int64(-u), nil
	}
	return int64(u), nil
}

func ParseInterval(s string) (Interval, error) {
	rest, ok := strings.CutPrefix(s, "P")
	if !ok {
		return Interval{}, fmt.Errorf("interval %q: missing P", s)
	}
	months, rest, ok := strings.Cut(rest, "M")
	if !ok {
		return Interval{}, fmt.Errorf("interval %q: missing months", s)
	}
	days, rest, ok := strings.Cut(rest, "DT")
	if !ok {
		return Interval{}, fmt.Errorf("interval %q: missing days", s)
	}
	secs, ok := strings.CutSuffix(rest, "S")
	if !ok {
		return Interval{}, fmt.Errorf("interval %q: missing seconds", s)
	}

	m, err := strconv.ParseInt(months, 10, 32)
	if err != nil {
		return Interval{}, fmt.Errorf("interval %q: %w", s, err)
	}
	d, err := strconv.ParseInt(days, 10, 32)
	if err != nil {
		return Interval{}, fmt.Errorf("interval %q: %w", s, err)
	}
	us, err := parseMicros(secs)
	if err != nil {
		return Interval{}, fmt.Errorf("interval %q: %w", s, err)
	}
	return Interval{Months: int32(m), Days: int32(d), Micros: us}, nil
}

// ParseJSONB validates s and returns it in compact form.
func ParseJSONB(s string) (JSONB, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	return JSONB(buf.String()), nil
}

// Format renders a non-null datum of type t in its canonical text form. Parse(t, Format(t, d))
// reproduces d exactly.
func Format(t DataType, d Datum) (string, error) {
	if err := Check(t, d); err != nil {
		return "", err
	}
	if d == nil {
		return "", fmt.Errorf("cannot format NULL")
	}
	switch v := d.(type) {
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		return v, nil
	case []byte:
		return `\x` + hex.EncodeToString(v), nil
	case Timestamp:
		return v.String(), nil
	case Timestamptz:
		return v.String(), nil
	case Time:
		return v.String(), nil
	case Date:
		return v.String(), nil
	case Interval:
		return v.String(), nil
	case decimal.Decimal:
		return v.String(), nil
	case JSONB:
		return string(v), nil
	case []Datum:
		return formatList(*t.Elem, v)
	default:
		return "", fmt.Errorf("unsupported datum %T", d)
	}
}

func formatList(elem DataType, items []Datum) (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		if item == nil {
			b.WriteString(NullElement)
			continue
		}
		s, err := Format(elem, item)
		if err != nil {
			return "", fmt.Errorf("element %d: %w", i, err)
		}
		if elem.Kind != KindList && needsListQuote(s) {
			s = strconv.Quote(s)
		}
		b.WriteString(s)
	}
	b.WriteByte('}')
	return b.String(), nil
}

func needsListQuote(s string) bool {
	return s == "" || s == NullElement || strings.ContainsAny(s, "{},\"\\ \t\r\n")
}

// Parse reads the canonical text form of a value of type t.
func Parse(t DataType, s string) (Datum, error) {
	switch t.Kind {
	case KindInt16:
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), err
	case KindInt32:
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	case KindInt64:
		return strconv.ParseInt(s, 10, 64)
	case KindFloat32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case KindFloat64:
		return strconv.ParseFloat(s, 64)
	case KindBool:
		switch strings.ToLower(s) {
		case "t", "true":
			return true, nil
		case "f", "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", s)
	case KindVarchar:
		return s, nil
	case KindBytea:
		h, ok := strings.CutPrefix(s, `\x`)
		if !ok {
			return nil, fmt.Errorf("bytea %q: missing \\x prefix", s)
		}
		return hex.DecodeString(h)
	case KindTimestamp:
		v, err := time.Parse(timestampLayout, s)
		if err != nil {
			return nil, err
		}
		return Timestamp{Micros: v.UnixMicro()}, nil
	case KindTimestamptz:
		v, err := time.Parse(timestamptzLayout, s)
		if err != nil {
			if v, err = time.Parse(time.RFC3339Nano, s); err != nil {
				return nil, err
			}
		}
		return NewTimestamptz(v), nil
	case KindTime:
		v, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, err
		}
		return NewTime(v.Hour(), v.Minute(), v.Second(), v.Nanosecond()/1000), nil
	case KindDate:
		v, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, err
		}
		return NewDate(v.Year(), v.Month(), v.Day()), nil
	case KindInterval:
		return ParseInterval(s)
	case KindDecimal:
		return decimal.NewFromString(s)
	case KindJSONB:
		return ParseJSONB(s)
	case KindList:
		if t.Elem == nil {
			return nil, fmt.Errorf("list type without element type")
		}
		return parseList(*t.Elem, s)
	default:
		return nil, fmt.Errorf("unknown kind %s", t.Kind)
	}
}

func parseList(elem DataType, s string) (Datum, error) {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("list %q: expected {...}", s)
	}
	body := s[1 : len(s)-1]
	items := []Datum{}
	if body == "" {
		return items, nil
	}
	parts, err := splitListItems(body)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", s, err)
	}
	for i, part := range parts {
		if part == NullElement {
			items = append(items, nil)
			continue
		}
		if strings.HasPrefix(part, `"`) {
			if part, err = strconv.Unquote(part); err != nil {
				return nil, fmt.Errorf("list %q: element %d: %w", s, i, err)
			}
		}
		v, err := Parse(elem, part)
		if err != nil {
			return nil, fmt.Errorf("list %q: element %d: %w", s, i, err)
		}
		items = append(items, v)
	}
	return items, nil
}

// splitListItems splits on commas that are neither quoted nor nested in braces.
func splitListItems(body string) ([]string, error) {
	var (
		parts   []string
		depth   int
		inQuote bool
		escaped bool
		start   int
	)
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case escaped:
			escaped = false
		case inQuote && c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced braces")
			}
		case c == ',' && depth == 0:
			parts = append(parts, body[start:i])
			start = i + 1
		}
	}
	if inQuote || depth != 0 {
		return nil, fmt.Errorf("unterminated element")
	}
	return append(parts, body[start:]), nil
}
