// Package compression provides the payload codecs an encoded chunk may be compressed with.
package compression

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ID is the on-wire identifier of a codec.
type ID uint8

const (
	None ID = iota
	Gzip
	Zstd
	Snappy
	LZ4
)

// ErrTooLarge is returned when a payload decompresses to more than the caller's limit.
var ErrTooLarge = errors.New("decompressed payload exceeds limit")

type Codec interface {
	ID() ID
	Name() string
	Compress(data []byte) ([]byte, error)
	// Decompress fails with ErrTooLarge rather than produce more than limit bytes.
	Decompress(data []byte, limit int) ([]byte, error)
}

// readLimited reads r to EOF, giving up once more than limit bytes come out.
func readLimited(r io.Reader, limit int) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, ErrTooLarge
	}
	return out, nil
}

var codecs = []Codec{
	noneCodec{},
	gzipCodec{},
	&zstdCodec{},
	snappyCodec{},
	lz4Codec{},
}

// ByID returns the codec with the given wire id.
func ByID(id ID) (Codec, error) {
	if int(id) >= len(codecs) {
		return nil, fmt.Errorf("unknown compression codec id %d", id)
	}
	return codecs[id], nil
}

// ByName returns the codec with the given name ("none", "gzip", "zstd", "snappy", "lz4").
func ByName(name string) (Codec, error) {
	for _, c := range codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown compression codec %q", name)
}

// Names lists the supported codec names in id order.
func Names() []string {
	out := make([]string, 0, len(codecs))
	for _, c := range codecs {
		out = append(out, c.Name())
	}
	return out
}

type noneCodec struct{}

func (noneCodec) ID() ID       { return None }
func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (noneCodec) Decompress(data []byte, limit int) ([]byte, error) {
	if len(data) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

type gzipCodec struct{}

func (gzipCodec) ID() ID       { return Gzip }
func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(data []byte, limit int) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return readLimited(gz, limit)
}

// minZstdMemory keeps the decoder memory cap above the smallest zstd window.
const minZstdMemory = 1 << 20

// The zstd encoder is safe for concurrent EncodeAll and costly to build, so it is shared.
// Decoders are built per call with a memory cap derived from the limit.
type zstdCodec struct {
	once sync.Once
	enc  *zstd.Encoder
	err  error
}

func (*zstdCodec) ID() ID       { return Zstd }
func (*zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) init() error {
	c.once.Do(func() {
		c.enc, c.err = zstd.NewWriter(nil)
	})
	return c.err
}

func (c *zstdCodec) Compress(data []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(data, nil), nil
}

func (c *zstdCodec) Decompress(data []byte, limit int) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxMemory(max(uint64(limit)+1, minZstdMemory)),
	)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	out, err := readLimited(dec, limit)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, ErrTooLarge
	}
	return out, err
}

type snappyCodec struct{}

func (snappyCodec) ID() ID       { return Snappy }
func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCodec) Decompress(data []byte, limit int) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, ErrTooLarge
	}
	return snappy.Decode(nil, data)
}

type lz4Codec struct{}

func (lz4Codec) ID() ID       { return LZ4 }
func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(data []byte, limit int) ([]byte, error) {
	return readLimited(lz4.NewReader(bytes.NewReader(data)), limit)
}
