// Package binding is the surface a foreign runtime drives: storage and chunk iterators, row
// accessors and channel endpoints, all addressed by registry handles.
//
// Every operation takes plain values or handles and returns plain values, handles or a
// *dberrors.Error carrying the operation name and the offending handle. End of stream and
// closed channels are reported as a false flag, never as an error.
package binding

import (
	"log/slog"
	"sync/atomic"

	"connbridge/pkg/config"
	"connbridge/pkg/dberrors"
	"connbridge/pkg/iterator"
	"connbridge/pkg/metrics"
	"connbridge/pkg/registry"
	"connbridge/pkg/types"
)

// Operation names reported in errors and logs.
const (
	OpStorageIteratorNew   = "storage_iterator.new"
	OpStorageIteratorNext  = "storage_iterator.next"
	OpStorageIteratorClose = "storage_iterator.close"
	OpChunkIteratorNew     = "chunk_iterator.new_from_bytes"
	OpChunkIteratorText    = "chunk_iterator.new_from_text"
	OpChunkIteratorNext    = "chunk_iterator.next"
	OpChunkIteratorClose   = "chunk_iterator.close"
	OpRowGetKey            = "row.get_key"
	OpRowGetOp             = "row.get_op"
	OpRowIsNull            = "row.is_null"
	OpRowGet               = "row.get"
	OpRowGetArray          = "row.get_array"
	OpRowClose             = "row.close"
	OpCdcSend              = "cdc.send"
	OpCdcClose             = "cdc.close"
	OpSinkRecvRequest      = "sink.recv_request"
	OpSinkSendResponse     = "sink.send_response"
	OpSinkClose            = "sink.close"
)

const (
	metricLiveHandles = "bridge_live_handles"
	metricRows        = "bridge_rows_total"
	metricMessages    = "bridge_channel_messages_total"
)

var kinds = []registry.Kind{
	registry.KindStorageIterator,
	registry.KindRow,
	registry.KindChunkIterator,
	registry.KindCdcChannel,
	registry.KindSinkChannel,
}

type Bridge struct {
	reg     *registry.Registry
	source  iterator.Source
	cfg     config.BridgeConfig
	metrics metrics.Collector
	live    map[registry.Kind]*atomic.Int64
}

type Option func(*Bridge)

// WithMetrics reports live handles, rows and channel traffic to c.
func WithMetrics(c metrics.Collector) Option {
	return func(b *Bridge) {
		b.metrics = c
	}
}

// New creates a bridge reading storage scans from source. A nil source makes every storage
// iterator fail with ErrStorageUnavailable.
func New(source iterator.Source, cfg config.BridgeConfig, opts ...Option) *Bridge {
	b := &Bridge{
		reg:     registry.New(),
		source:  source,
		cfg:     cfg,
		metrics: metrics.Nop{},
		live:    make(map[registry.Kind]*atomic.Int64, len(kinds)),
	}
	for _, k := range kinds {
		b.live[k] = new(atomic.Int64)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// VnodeCount is the fixed number of virtual nodes a table's key space is split into.
func (b *Bridge) VnodeCount() int {
	return types.VnodeCount
}

// LiveHandles returns the number of live handles per resource kind.
func (b *Bridge) LiveHandles() map[registry.Kind]int {
	return b.reg.CountByKind()
}

func (b *Bridge) allocate(res registry.Resource) registry.Handle {
	h := b.reg.Allocate(res)
	b.track(res.Kind(), 1)
	return h
}

func (b *Bridge) released(kind registry.Kind) {
	b.track(kind, -1)
}

func (b *Bridge) track(kind registry.Kind, delta int64) {
	n := b.live[kind].Add(delta)
	b.metrics.SetGauge(metricLiveHandles, map[string]string{"kind": kind.String()}, float64(n))
}

// misuse logs a contract violation by the caller and passes err through.
func misuse(err error) error {
	if dberrors.KindOf(err) == dberrors.ErrInvalidHandle {
		slog.Warn("invalid handle", "error", err)
	}
	return err
}
