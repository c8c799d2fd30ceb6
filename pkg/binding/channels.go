package binding

import (
	"bytes"
	"log/slog"

	"connbridge/pkg/channel"
	"connbridge/pkg/registry"
)

func orDefault(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

func (b *Bridge) countMessage(ch, direction string) {
	b.metrics.IncCounter(metricMessages, map[string]string{"channel": ch, "direction": direction}, 1)
}

// NewCdcChannel creates a CDC channel. The handle goes to the foreign producer; the engine
// keeps the receiver. capacity < 1 uses the configured default.
func (b *Bridge) NewCdcChannel(capacity int) (registry.Handle, channel.CdcReceiver) {
	c := channel.NewCdc(orDefault(capacity, b.cfg.CdcChannelCapacity))
	h := b.allocate(c)
	slog.Debug("cdc channel created", "handle", h)
	return h, c.Receiver()
}

// SendCdcMessage enqueues a copy of payload, blocking while the channel is full. It returns
// false once the channel is closed.
func (b *Bridge) SendCdcMessage(h registry.Handle, payload []byte) (bool, error) {
	c, err := registry.Lookup[*channel.Cdc](b.reg, OpCdcSend, h)
	if err != nil {
		return false, misuse(err)
	}
	if !c.Send(bytes.Clone(payload)) {
		return false, nil
	}
	b.countMessage("cdc", "in")
	return true, nil
}

// CloseCdcChannel closes the channel from the producer side and releases its handle.
// Messages already queued stay readable by the engine.
func (b *Bridge) CloseCdcChannel(h registry.Handle) error {
	c, err := registry.Take[*channel.Cdc](b.reg, OpCdcClose, h)
	if err != nil {
		return misuse(err)
	}
	c.Close()
	b.released(registry.KindCdcChannel)
	slog.Debug("cdc channel closed", "handle", h, "pending", c.Len())
	return nil
}

// NewSinkChannel creates a sink channel pair. The handle goes to the foreign sink; the
// engine keeps the writer end. capacity < 1 uses the configured default.
func (b *Bridge) NewSinkChannel(capacity int) (registry.Handle, channel.SinkWriter) {
	s := channel.NewSink(orDefault(capacity, b.cfg.SinkChannelCapacity))
	h := b.allocate(s)
	slog.Debug("sink channel created", "handle", h)
	return h, s.Writer()
}

// RecvSinkRequest blocks until the engine sends a request. ok is false once the channel is
// closed and drained.
func (b *Bridge) RecvSinkRequest(h registry.Handle) (payload []byte, ok bool, err error) {
	s, err := registry.Lookup[*channel.Sink](b.reg, OpSinkRecvRequest, h)
	if err != nil {
		return nil, false, misuse(err)
	}
	payload, ok = s.RecvRequest()
	if ok {
		b.countMessage("sink", "out")
	}
	return payload, ok, nil
}

// SendSinkResponse hands a copy of payload back to the engine. It returns false once the
// channel is closed.
func (b *Bridge) SendSinkResponse(h registry.Handle, payload []byte) (bool, error) {
	s, err := registry.Lookup[*channel.Sink](b.reg, OpSinkSendResponse, h)
	if err != nil {
		return false, misuse(err)
	}
	if !s.SendResponse(bytes.Clone(payload)) {
		return false, nil
	}
	b.countMessage("sink", "in")
	return true, nil
}

// CloseSinkChannel closes both directions of the pair and releases its handle.
func (b *Bridge) CloseSinkChannel(h registry.Handle) error {
	s, err := registry.Take[*channel.Sink](b.reg, OpSinkClose, h)
	if err != nil {
		return misuse(err)
	}
	s.Close()
	b.released(registry.KindSinkChannel)
	slog.Debug("sink channel closed", "handle", h)
	return nil
}
