// Package channel implements the bounded message channels between the engine and a connector:
// a CDC pair carrying change events into the engine and a sink pair carrying write requests
// out and acknowledgements back.
package channel

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO with an observable closed state. Close is drain-then-close:
// receivers keep getting queued items until the queue is empty, while senders fail at once.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items  []T
	head   int
	size   int
	closed bool
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{items: make([]T, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Send enqueues v, blocking while the queue is full. It returns false if the queue is
// or becomes closed before v is enqueued.
func (q *Queue[T]) Send(v T) bool {
	ok, _ := q.SendContext(context.Background(), v)
	return ok
}

// SendContext is Send that also gives up when ctx is done.
func (q *Queue[T]) SendContext(ctx context.Context, v T) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == len(q.items) && !q.closed {
		defer q.wakeOnDone(ctx)()
	}
	for q.size == len(q.items) && !q.closed {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		q.notFull.Wait()
	}
	if q.closed {
		return false, nil
	}

	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++
	q.notEmpty.Signal()
	return true, nil
}

// Recv dequeues the oldest item, blocking while the queue is empty. ok is false once the
// queue is closed and fully drained.
func (q *Queue[T]) Recv() (v T, ok bool) {
	v, ok, _ = q.RecvContext(context.Background())
	return v, ok
}

// RecvContext is Recv that also gives up when ctx is done.
func (q *Queue[T]) RecvContext(ctx context.Context) (v T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 && !q.closed {
		defer q.wakeOnDone(ctx)()
	}
	for q.size == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return v, false, err
		}
		q.notEmpty.Wait()
	}
	if q.size == 0 {
		return v, false, nil
	}

	var zero T
	v = q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	q.notFull.Signal()
	return v, true, nil
}

// wakeOnDone arranges for waiters to be woken when ctx is done. Must be called with q.mu held;
// the returned func unregisters.
func (q *Queue[T]) wakeOnDone(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	return func() { stop() }
}

// Close marks the queue closed and wakes every waiter. It reports whether this call closed it.
func (q *Queue[T]) Close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	return true
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue[T]) Cap() int {
	return len(q.items)
}
