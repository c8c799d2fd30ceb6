package chunk

import (
	"connbridge/pkg/compression"
	"connbridge/pkg/datum"
	"connbridge/pkg/encoding/valuecodec"
	"encoding/binary"
	"fmt"
)

// Encoded layout:
//
//	magic "RWCK" | version u8 | codec u8 | body length uvarint | body (compressed by codec)
//
// body:
//
//	columns uvarint | rows uvarint | type code per column (uvarint len + bytes) |
//	op per row (u8) | per column: every value in row order, value-encoded
const (
	magic         = "RWCK"
	formatVersion = 1

	// caps the allocation a corrupt header can request
	maxBodySize = 1 << 30
)

// Encode serializes c and compresses the body with codec.
func Encode(c *Chunk, codec compression.Codec) ([]byte, error) {
	body := binary.AppendUvarint(nil, uint64(len(c.columns)))
	body = binary.AppendUvarint(body, uint64(c.Cardinality()))
	for _, col := range c.columns {
		code := col.Type.Code()
		body = binary.AppendUvarint(body, uint64(len(code)))
		body = append(body, code...)
	}
	for _, op := range c.ops {
		body = append(body, byte(op))
	}

	var err error
	for j, col := range c.columns {
		for i, v := range col.Values {
			if body, err = valuecodec.AppendDatum(body, col.Type, v); err != nil {
				return nil, fmt.Errorf("encode row %d column %d: %w", i, j, err)
			}
		}
	}

	compressed, err := codec.Compress(body)
	if err != nil {
		return nil, fmt.Errorf("compress chunk with %s: %w", codec.Name(), err)
	}

	out := make([]byte, 0, len(magic)+2+binary.MaxVarintLen64+len(compressed))
	out = append(out, magic...)
	out = append(out, formatVersion, byte(codec.ID()))
	out = binary.AppendUvarint(out, uint64(len(body)))
	return append(out, compressed...), nil
}

func decodeErr(format string, args ...any) error {
	return &valuecodec.DecodeError{Message: fmt.Sprintf("chunk: "+format, args...)}
}

// Decode parses the output of Encode. Any malformed input is a decode error.
func Decode(data []byte) (*Chunk, error) {
	if len(data) < len(magic)+2 || string(data[:len(magic)]) != magic {
		return nil, decodeErr("bad magic")
	}
	data = data[len(magic):]
	if data[0] != formatVersion {
		return nil, decodeErr("unsupported version %d", data[0])
	}
	codec, err := compression.ByID(compression.ID(data[1]))
	if err != nil {
		return nil, decodeErr("%v", err)
	}
	data = data[2:]

	bodyLen, n := binary.Uvarint(data)
	if n <= 0 || bodyLen > maxBodySize {
		return nil, decodeErr("bad body length")
	}
	body, err := codec.Decompress(data[n:], int(bodyLen))
	if err != nil {
		return nil, decodeErr("decompress %s: %v", codec.Name(), err)
	}
	if uint64(len(body)) != bodyLen {
		return nil, decodeErr("body length %d, header says %d", len(body), bodyLen)
	}

	return decodeBody(body)
}

func decodeBody(body []byte) (*Chunk, error) {
	r := reader{buf: body}

	ncols, err := r.uvarint("column count")
	if err != nil {
		return nil, err
	}
	nrows, err := r.uvarint("row count")
	if err != nil {
		return nil, err
	}
	// each column needs a code and each row an op byte
	if ncols > uint64(len(body)) || nrows > uint64(len(body)) {
		return nil, decodeErr("implausible shape %dx%d", nrows, ncols)
	}

	types := make([]datum.DataType, ncols)
	for j := range types {
		codeLen, err := r.uvarint("type code length")
		if err != nil {
			return nil, err
		}
		code, err := r.bytes(codeLen, "type code")
		if err != nil {
			return nil, err
		}
		if types[j], err = datum.ParseType(string(code)); err != nil {
			return nil, decodeErr("column %d: %v", j, err)
		}
	}

	opBytes, err := r.bytes(nrows, "ops")
	if err != nil {
		return nil, err
	}
	c := &Chunk{ops: make([]datum.Op, nrows), columns: make([]Column, ncols)}
	for i, b := range opBytes {
		op := datum.Op(b)
		if !op.Valid() {
			return nil, decodeErr("row %d: invalid op %d", i, b)
		}
		c.ops[i] = op
	}

	for j, t := range types {
		values := make([]datum.Datum, nrows)
		for i := range values {
			v, n, err := valuecodec.DecodeDatum(r.buf[r.off:], t)
			if err != nil {
				return nil, fmt.Errorf("chunk: row %d column %d: %w", i, j, err)
			}
			values[i] = v
			r.off += n
		}
		c.columns[j] = Column{Type: t, Values: values}
	}

	if r.off != len(r.buf) {
		return nil, decodeErr("%d trailing bytes", len(r.buf)-r.off)
	}
	return c, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) uvarint(what string) (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, decodeErr("bad %s", what)
	}
	r.off += n
	return v, nil
}

func (r *reader) bytes(n uint64, what string) ([]byte, error) {
	if n > uint64(len(r.buf)-r.off) {
		return nil, decodeErr("insufficient data for %s", what)
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}
