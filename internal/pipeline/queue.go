package pipeline

import (
	"context"
	"sync"
)

// queue is a FIFO between two goroutines. With capacity 0 it never blocks the
// producer; with capacity > 0 Push blocks while capacity values are buffered.
type queue[T any] struct {
	capacity int
	in       chan T
	out      chan T
	done     chan struct{}

	mu        sync.RWMutex
	closed    bool
	abortOnce sync.Once
}

func newQueue[T any](capacity int) *queue[T] {
	q := &queue[T]{
		capacity: capacity,
		in:       make(chan T),
		out:      make(chan T),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue[T]) run() {
	defer close(q.out)

	var buf []T
	in := q.in
	for in != nil || len(buf) > 0 {
		recv := in
		if q.capacity > 0 && len(buf) >= q.capacity {
			recv = nil
		}

		var send chan T
		var next T
		if len(buf) > 0 {
			send = q.out
			next = buf[0]
		}

		select {
		case v, ok := <-recv:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, v)
		case send <- next:
			var zero T
			buf[0] = zero
			buf = buf[1:]
		case <-q.done:
			return
		}
	}
}

// Push enqueues v. It fails with ErrCompleted once the queue was closed.
func (q *queue[T]) Push(ctx context.Context, v T) error {
	// Hold the read lock while sending so close cannot race the send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrCompleted
	}

	select {
	case q.in <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrAborted
	}
}

// Pop dequeues the next value. It returns ErrCompleted once the queue was
// closed and fully drained.
func (q *queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-q.out:
		if !ok {
			select {
			case <-q.done:
				return zero, ErrAborted
			default:
				return zero, ErrCompleted
			}
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops accepting values. Buffered values remain poppable. A producer
// blocked on a full queue must be released (ctx or Abort) before Close.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.in)
}

// Abort drops buffered values and unblocks producers and consumers.
func (q *queue[T]) Abort() {
	q.abortOnce.Do(func() { close(q.done) })
}
