package binding

import (
	"bytes"
	"errors"
	"log/slog"

	"connbridge/pkg/datum"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/encoding/valuecodec"
	"connbridge/pkg/iterator"
	"connbridge/pkg/registry"
	"connbridge/pkg/row"
	"connbridge/pkg/scan"
	"connbridge/pkg/types"
)

var errNoSource = errors.New("no state store attached")

// storageIterator walks the requested vnodes in ascending order over one pinned view. The
// view is released as soon as the last vnode is drained.
type storageIterator struct {
	desc     *scan.Descriptor
	outTypes []datum.DataType
	view     iterator.View
	vnodes   []types.VirtualNode
	cur      iterator.Iterator
	done     bool
	err      error
}

func (*storageIterator) Kind() registry.Kind { return registry.KindStorageIterator }

// next returns the next row, or nil once the scan is exhausted.
func (it *storageIterator) next() (*row.Row, error) {
	if it.err != nil {
		return nil, it.err
	}
	for !it.done {
		if it.cur == nil {
			if len(it.vnodes) == 0 {
				it.finish()
				break
			}
			lo, hi := it.desc.VnodeRange(it.vnodes[0])
			it.vnodes = it.vnodes[1:]
			it.cur = it.view.Range(lo, hi)
		}

		if it.cur.Next() {
			values, err := valuecodec.DecodeRow(it.desc.Columns, it.cur.Value())
			if err != nil {
				it.err = dberrors.Decode("", 0, dberrors.NoOrdinal, err)
				return nil, it.err
			}
			key := bytes.Clone(it.cur.Key())
			return row.New(key, datum.OpInsert, it.outTypes, it.desc.Project(values)), nil
		}

		err := it.cur.Err()
		_ = it.cur.Close()
		it.cur = nil
		if err != nil {
			it.err = dberrors.Wrap(dberrors.ErrStorageUnavailable, "", 0, err)
			return nil, it.err
		}
	}
	return nil, nil
}

func (it *storageIterator) finish() {
	it.done = true
	if it.cur != nil {
		_ = it.cur.Close()
		it.cur = nil
	}
	if it.view != nil {
		if err := it.view.Close(); err != nil {
			slog.Warn("release scan snapshot", "error", err)
		}
		it.view = nil
	}
}

// StorageIteratorNew opens a snapshot-consistent scan described by an encoded scan
// descriptor. A malformed descriptor is ErrInvalidArgument; a snapshot that can no longer
// (or not yet) be read is ErrStorageUnavailable.
func (b *Bridge) StorageIteratorNew(descriptor []byte) (registry.Handle, error) {
	desc, err := scan.Unmarshal(descriptor)
	if err != nil {
		return registry.Nil, dberrors.Wrap(dberrors.ErrInvalidArgument, OpStorageIteratorNew, 0, err)
	}
	if b.source == nil {
		return registry.Nil, dberrors.StorageUnavailable(OpStorageIteratorNew, errNoSource)
	}

	view, err := b.source.View(desc.Snapshot)
	if err != nil {
		return registry.Nil, dberrors.Wrap(dberrors.ErrStorageUnavailable, OpStorageIteratorNew, 0, err)
	}

	h := b.allocate(&storageIterator{
		desc:     desc,
		outTypes: desc.OutputTypes(),
		view:     view,
		vnodes:   desc.VnodesToScan(),
	})
	slog.Debug("storage iterator opened", "handle", h, "table", desc.TableID, "snapshot", desc.Snapshot)
	return h, nil
}

// StorageIteratorNext yields the handle of the next row in key order. ok is false at the
// end of the scan, and stays false on further calls.
func (b *Bridge) StorageIteratorNext(h registry.Handle) (_ registry.Handle, ok bool, _ error) {
	it, err := registry.Lookup[*storageIterator](b.reg, OpStorageIteratorNext, h)
	if err != nil {
		return registry.Nil, false, misuse(err)
	}

	r, err := it.next()
	if err != nil {
		return registry.Nil, false, dberrors.Wrap(dberrors.ErrStorageUnavailable, OpStorageIteratorNext, uint64(h), err)
	}
	if r == nil {
		return registry.Nil, false, nil
	}
	b.metrics.IncCounter(metricRows, map[string]string{"source": "storage"}, 1)
	return b.allocate(r), true, nil
}

// StorageIteratorClose releases the scan, whether or not it was drained. Rows it produced
// stay valid.
func (b *Bridge) StorageIteratorClose(h registry.Handle) error {
	it, err := registry.Take[*storageIterator](b.reg, OpStorageIteratorClose, h)
	if err != nil {
		return misuse(err)
	}
	it.finish()
	b.released(registry.KindStorageIterator)
	slog.Debug("storage iterator closed", "handle", h)
	return nil
}
