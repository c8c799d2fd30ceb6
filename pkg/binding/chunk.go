package binding

import (
	"log/slog"

	"connbridge/pkg/chunk"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/registry"
	"connbridge/pkg/row"
)

type chunkIterator struct {
	c   *chunk.Chunk
	pos int
}

func (*chunkIterator) Kind() registry.Kind { return registry.KindChunkIterator }

func (it *chunkIterator) next() *row.Row {
	if it.pos >= it.c.Cardinality() {
		return nil
	}
	r := row.New(nil, it.c.Op(it.pos), it.c.Types(), it.c.Row(it.pos))
	it.pos++
	return r
}

// ChunkIteratorNew decodes an encoded batch. A batch that fails to decode never yields a
// handle.
func (b *Bridge) ChunkIteratorNew(encoded []byte) (registry.Handle, error) {
	c, err := chunk.Decode(encoded)
	if err != nil {
		return registry.Nil, dberrors.Wrap(dberrors.ErrDecode, OpChunkIteratorNew, 0, err)
	}
	return b.openChunk(c), nil
}

// ChunkIteratorFromText builds a batch from its textual form, see chunk.Parse.
func (b *Bridge) ChunkIteratorFromText(text string) (registry.Handle, error) {
	c, err := chunk.Parse(text)
	if err != nil {
		return registry.Nil, dberrors.Wrap(dberrors.ErrDecode, OpChunkIteratorText, 0, err)
	}
	return b.openChunk(c), nil
}

func (b *Bridge) openChunk(c *chunk.Chunk) registry.Handle {
	h := b.allocate(&chunkIterator{c: c})
	slog.Debug("chunk iterator opened", "handle", h, "rows", c.Cardinality())
	return h
}

// ChunkIteratorNext yields rows in batch order. ok is false once the batch is exhausted,
// and stays false.
func (b *Bridge) ChunkIteratorNext(h registry.Handle) (_ registry.Handle, ok bool, _ error) {
	it, err := registry.Lookup[*chunkIterator](b.reg, OpChunkIteratorNext, h)
	if err != nil {
		return registry.Nil, false, misuse(err)
	}
	r := it.next()
	if r == nil {
		return registry.Nil, false, nil
	}
	b.metrics.IncCounter(metricRows, map[string]string{"source": "chunk"}, 1)
	return b.allocate(r), true, nil
}

// ChunkIteratorClose drops the batch. Rows already handed out stay valid until closed.
func (b *Bridge) ChunkIteratorClose(h registry.Handle) error {
	if _, err := registry.Take[*chunkIterator](b.reg, OpChunkIteratorClose, h); err != nil {
		return misuse(err)
	}
	b.released(registry.KindChunkIterator)
	slog.Debug("chunk iterator closed", "handle", h)
	return nil
}
