// Package datum describes column values exchanged through rows and chunks.
//
// A Datum is a plain Go value whose dynamic type is fixed by the column's DataType:
//
//	int16, int32, int64, float32, float64, bool, string (varchar), []byte (bytea),
//	Timestamp, Timestamptz, Time, Date, Interval, decimal.Decimal, JSONB, []Datum (list)
//
// A nil Datum is NULL.
package datum

import (
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindInt16 Kind = iota + 1
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindBool
	KindVarchar
	KindBytea
	KindTimestamp
	KindTimestamptz
	KindTime
	KindDate
	KindInterval
	KindDecimal
	KindJSONB
	KindList
)

var kindNames = map[Kind]string{
	KindInt16:       "int16",
	KindInt32:       "int32",
	KindInt64:       "int64",
	KindFloat32:     "float32",
	KindFloat64:     "float64",
	KindBool:        "boolean",
	KindVarchar:     "varchar",
	KindBytea:       "bytea",
	KindTimestamp:   "timestamp",
	KindTimestamptz: "timestamptz",
	KindTime:        "time",
	KindDate:        "date",
	KindInterval:    "interval",
	KindDecimal:     "decimal",
	KindJSONB:       "jsonb",
	KindList:        "list",
}

// short codes used by the textual chunk form and the scan descriptor
var kindCodes = map[Kind]string{
	KindInt16:       "h",
	KindInt32:       "i",
	KindInt64:       "I",
	KindFloat32:     "f",
	KindFloat64:     "F",
	KindBool:        "B",
	KindVarchar:     "T",
	KindBytea:       "X",
	KindTimestamp:   "TS",
	KindTimestamptz: "TZ",
	KindTime:        "TM",
	KindDate:        "D",
	KindInterval:    "IV",
	KindDecimal:     "N",
	KindJSONB:       "J",
}

var codeKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindCodes))
	for k, c := range kindCodes {
		m[c] = k
	}
	return m
}()

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// DataType is a column type. Elem is set only for lists.
type DataType struct {
	Kind Kind
	Elem *DataType
}

var (
	TypeInt16       = DataType{Kind: KindInt16}
	TypeInt32       = DataType{Kind: KindInt32}
	TypeInt64       = DataType{Kind: KindInt64}
	TypeFloat32     = DataType{Kind: KindFloat32}
	TypeFloat64     = DataType{Kind: KindFloat64}
	TypeBool        = DataType{Kind: KindBool}
	TypeVarchar     = DataType{Kind: KindVarchar}
	TypeBytea       = DataType{Kind: KindBytea}
	TypeTimestamp   = DataType{Kind: KindTimestamp}
	TypeTimestamptz = DataType{Kind: KindTimestamptz}
	TypeTime        = DataType{Kind: KindTime}
	TypeDate        = DataType{Kind: KindDate}
	TypeInterval    = DataType{Kind: KindInterval}
	TypeDecimal     = DataType{Kind: KindDecimal}
	TypeJSONB       = DataType{Kind: KindJSONB}
)

// List returns the type of a list whose elements are elem.
func List(elem DataType) DataType {
	e := elem
	return DataType{Kind: KindList, Elem: &e}
}

func (t DataType) Equal(o DataType) bool {
	if t.Kind != o.Kind {
		return false
	}
	if t.Kind != KindList {
		return true
	}
	if t.Elem == nil || o.Elem == nil {
		return t.Elem == o.Elem
	}
	return t.Elem.Equal(*o.Elem)
}

func (t DataType) String() string {
	if t.Kind == KindList && t.Elem != nil {
		return t.Elem.String() + "[]"
	}
	return t.Kind.String()
}

// Code returns the short type code, e.g. "i" for int32 and "T[]" for a varchar list.
func (t DataType) Code() string {
	if t.Kind == KindList && t.Elem != nil {
		return t.Elem.Code() + "[]"
	}
	return kindCodes[t.Kind]
}

// ParseType is the inverse of DataType.Code.
func ParseType(code string) (DataType, error) {
	if elem, ok := strings.CutSuffix(code, "[]"); ok {
		et, err := ParseType(elem)
		if err != nil {
			return DataType{}, err
		}
		return List(et), nil
	}
	k, ok := codeKinds[code]
	if !ok {
		return DataType{}, fmt.Errorf("unknown type code %q", code)
	}
	return DataType{Kind: k}, nil
}

// Op is the change-operation tag of a row.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpDelete
	OpUpdateDelete
	OpUpdateInsert
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "Insert"
	case OpDelete:
		return "Delete"
	case OpUpdateDelete:
		return "UpdateDelete"
	case OpUpdateInsert:
		return "UpdateInsert"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

// Marker returns the textual row prefix for op.
func (op Op) Marker() string {
	switch op {
	case OpInsert:
		return "+"
	case OpDelete:
		return "-"
	case OpUpdateDelete:
		return "U-"
	case OpUpdateInsert:
		return "U+"
	default:
		return "?"
	}
}

func (op Op) Valid() bool {
	return op >= OpInsert && op <= OpUpdateInsert
}

func ParseOp(marker string) (Op, error) {
	switch marker {
	case "+":
		return OpInsert, nil
	case "-":
		return OpDelete, nil
	case "U-":
		return OpUpdateDelete, nil
	case "U+":
		return OpUpdateInsert, nil
	default:
		return 0, fmt.Errorf("unknown op marker %q", marker)
	}
}
