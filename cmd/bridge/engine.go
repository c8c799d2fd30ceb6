package main

import (
	"context"
	"log/slog"

	"connbridge/pkg/channel"
	"connbridge/pkg/registry"
)

// pipeEngine is the engine side used by serve: every message received on a CDC channel is
// forwarded as a request to whichever sink channel is ready first, and sink responses are
// logged.
type pipeEngine struct {
	ctx  context.Context
	pipe *channel.Queue[[]byte]
}

func newPipeEngine(ctx context.Context, capacity int) *pipeEngine {
	return &pipeEngine{ctx: ctx, pipe: channel.NewQueue[[]byte](capacity)}
}

func (e *pipeEngine) ServeCdc(h registry.Handle, rx channel.CdcReceiver) {
	defer rx.Close()
	for {
		p, ok, err := rx.Recv(e.ctx)
		if err != nil || !ok {
			slog.Debug("cdc channel done", "handle", h, "error", err)
			return
		}
		if ok, err := e.pipe.SendContext(e.ctx, p); err != nil || !ok {
			slog.Warn("cdc message dropped", "handle", h, "bytes", len(p), "error", err)
			return
		}
	}
}

func (e *pipeEngine) ServeSink(h registry.Handle, w channel.SinkWriter) {
	defer w.Close()
	for {
		p, ok, err := e.pipe.RecvContext(e.ctx)
		if err != nil || !ok {
			return
		}
		if ok, err := w.SendRequest(e.ctx, p); err != nil || !ok {
			e.requeue(h, p)
			return
		}
		resp, ok, err := w.RecvResponse(e.ctx)
		if err != nil || !ok {
			slog.Warn("sink closed before responding", "handle", h, "error", err)
			return
		}
		slog.Debug("sink response", "handle", h, "bytes", len(resp))
	}
}

// requeue hands a message a closed sink did not take back to the pipe, behind the messages
// already waiting there.
func (e *pipeEngine) requeue(h registry.Handle, p []byte) {
	if ok, err := e.pipe.SendContext(e.ctx, p); err != nil || !ok {
		slog.Warn("sink request dropped", "handle", h, "bytes", len(p), "error", err)
		return
	}
	slog.Debug("sink closed, request requeued", "handle", h, "bytes", len(p))
}

// Close stops forwarding; messages still buffered are delivered to sinks first.
func (e *pipeEngine) Close() {
	e.pipe.Close()
}
