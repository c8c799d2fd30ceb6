// Package chunk holds the columnar batch exchanged between the streaming engine and
// connectors: N rows with a fixed schema and one change-operation tag per row.
package chunk

import (
	"connbridge/pkg/datum"
	"fmt"
)

// Column is one column of a chunk; a nil entry is NULL.
type Column struct {
	Type   datum.DataType
	Values []datum.Datum
}

type Chunk struct {
	ops     []datum.Op
	columns []Column
}

// Builder appends rows to a chunk of a fixed schema.
type Builder struct {
	c *Chunk
}

func NewBuilder(types []datum.DataType) *Builder {
	cols := make([]Column, len(types))
	for i, t := range types {
		cols[i] = Column{Type: t}
	}
	return &Builder{c: &Chunk{columns: cols}}
}

// Append adds one row. Values must match the schema column by column.
func (b *Builder) Append(op datum.Op, values ...datum.Datum) error {
	if !op.Valid() {
		return fmt.Errorf("invalid op %d", op)
	}
	if len(values) != len(b.c.columns) {
		return fmt.Errorf("row has %d values, chunk has %d columns", len(values), len(b.c.columns))
	}
	for i, v := range values {
		if err := datum.Check(b.c.columns[i].Type, v); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
	}
	b.c.ops = append(b.c.ops, op)
	for i, v := range values {
		b.c.columns[i].Values = append(b.c.columns[i].Values, v)
	}
	return nil
}

// Build returns the chunk. The builder must not be used afterwards.
func (b *Builder) Build() *Chunk {
	c := b.c
	b.c = nil
	return c
}

// Cardinality returns the number of rows.
func (c *Chunk) Cardinality() int {
	return len(c.ops)
}

func (c *Chunk) Types() []datum.DataType {
	types := make([]datum.DataType, len(c.columns))
	for i, col := range c.columns {
		types[i] = col.Type
	}
	return types
}

func (c *Chunk) Column(i int) Column {
	return c.columns[i]
}

func (c *Chunk) Op(row int) datum.Op {
	return c.ops[row]
}

// Row copies out the values of one row.
func (c *Chunk) Row(row int) []datum.Datum {
	values := make([]datum.Datum, len(c.columns))
	for i, col := range c.columns {
		values[i] = col.Values[row]
	}
	return values
}

// Equal reports whether a and b have the same schema, ops and values in the same order.
func Equal(a, b *Chunk) bool {
	if a.Cardinality() != b.Cardinality() || len(a.columns) != len(b.columns) {
		return false
	}
	for i := range a.ops {
		if a.ops[i] != b.ops[i] {
			return false
		}
	}
	for j := range a.columns {
		if !a.columns[j].Type.Equal(b.columns[j].Type) {
			return false
		}
		for i := range a.columns[j].Values {
			if !datum.Equal(a.columns[j].Values[i], b.columns[j].Values[i]) {
				return false
			}
		}
	}
	return true
}
