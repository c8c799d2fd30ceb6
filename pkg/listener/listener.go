package listener

import (
	"context"
	"log/slog"
	"sync"
)

// Job is a background loop with an explicit lifecycle.
type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener feeds every value received on in to handler, one at a time, on its own goroutine.
// Handler errors are logged and do not stop the loop.
type Listener[T any] struct {
	handler     func(input T) error
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

func New[T any](
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
	}
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for l.run(ctx) {
		}
	}()
}

// run handles one input. It returns false once the listener is stopped or in is closed.
func (l *Listener[T]) run(ctx context.Context) bool {
	select {
	case inp, ok := <-l.in:
		if !ok {
			return false
		}
		if err := l.handler(inp); err != nil {
			slog.Error("listener handler failed", "error", err)
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop ends the loop, waits for an in-flight input to finish, then runs the stop handler.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopHandler()
}
