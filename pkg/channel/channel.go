package channel

import (
	"context"

	"connbridge/pkg/registry"
)

// Cdc carries change events from a connector's CDC reader into the engine's source executor.
// The connector holds it by handle and sends; the engine receives through a CdcReceiver.
type Cdc struct {
	events *Queue[[]byte]
}

func NewCdc(capacity int) *Cdc {
	return &Cdc{events: NewQueue[[]byte](capacity)}
}

func (*Cdc) Kind() registry.Kind { return registry.KindCdcChannel }

// Send enqueues one event, blocking while the channel is full. False means closed.
func (c *Cdc) Send(payload []byte) bool {
	return c.events.Send(payload)
}

// Close closes both ends. Events already queued stay receivable.
func (c *Cdc) Close() bool {
	return c.events.Close()
}

func (c *Cdc) Len() int {
	return c.events.Len()
}

func (c *Cdc) Receiver() CdcReceiver {
	return CdcReceiver{events: c.events}
}

// CdcReceiver is the engine end of a Cdc channel.
type CdcReceiver struct {
	events *Queue[[]byte]
}

// Recv blocks for the next event. ok is false once the channel is closed and drained.
func (r CdcReceiver) Recv(ctx context.Context) (payload []byte, ok bool, err error) {
	return r.events.RecvContext(ctx)
}

func (r CdcReceiver) Close() bool {
	return r.events.Close()
}

// Sink carries write requests from the engine's sink executor to a connector's sink writer
// and the writer's responses back. Both directions close together.
type Sink struct {
	requests  *Queue[[]byte]
	responses *Queue[[]byte]
}

func NewSink(capacity int) *Sink {
	return &Sink{
		requests:  NewQueue[[]byte](capacity),
		responses: NewQueue[[]byte](capacity),
	}
}

func (*Sink) Kind() registry.Kind { return registry.KindSinkChannel }

// RecvRequest blocks for the next request. ok is false once the channel is closed and drained.
func (s *Sink) RecvRequest() (payload []byte, ok bool) {
	return s.requests.Recv()
}

// SendResponse enqueues one response, blocking while full. False means closed.
func (s *Sink) SendResponse(payload []byte) bool {
	return s.responses.Send(payload)
}

// Close closes both directions. It reports whether this call closed the channel.
func (s *Sink) Close() bool {
	closedReq := s.requests.Close()
	closedResp := s.responses.Close()
	return closedReq || closedResp
}

func (s *Sink) Writer() SinkWriter {
	return SinkWriter{sink: s}
}

// SinkWriter is the engine end of a Sink channel.
type SinkWriter struct {
	sink *Sink
}

func (w SinkWriter) SendRequest(ctx context.Context, payload []byte) (bool, error) {
	return w.sink.requests.SendContext(ctx, payload)
}

func (w SinkWriter) RecvResponse(ctx context.Context) (payload []byte, ok bool, err error) {
	return w.sink.responses.RecvContext(ctx)
}

func (w SinkWriter) Close() bool {
	return w.sink.Close()
}
