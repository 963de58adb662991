package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained
var ErrQueueClosed = errors.New("audio queue closed")

// Queue is a bounded single-producer single-consumer chunk queue.
// Push never blocks: when the queue is full the newest chunk is dropped and
// a warning is logged. Push and Close belong to the producer goroutine.
type Queue struct {
	ch     chan Chunk
	done   chan struct{}
	logger *slog.Logger
	onDrop func()

	pushed  atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
}

// NewQueue creates a queue holding at most capacity chunks
func NewQueue(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ch:     make(chan Chunk, capacity),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// OnDrop registers a callback invoked for every dropped chunk
func (q *Queue) OnDrop(fn func()) {
	q.onDrop = fn
}

// Push enqueues c without blocking and reports whether it was accepted
func (q *Queue) Push(c Chunk) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- c:
		q.pushed.Add(1)
		return true
	default:
		dropped := q.dropped.Add(1)
		q.logger.Warn("Audio queue full, dropping newest chunk",
			slog.Int("capacity", cap(q.ch)),
			slog.Int("chunk_bytes", len(c.Data)),
			slog.Uint64("dropped_total", dropped),
		)
		if q.onDrop != nil {
			q.onDrop()
		}
		return false
	}
}

// Pop blocks until a chunk is available, the queue is closed and drained,
// or ctx is done
func (q *Queue) Pop(ctx context.Context) (Chunk, error) {
	select {
	case c := <-q.ch:
		return c, nil
	default:
	}

	select {
	case c := <-q.ch:
		return c, nil
	case <-q.done:
		// Drain what the producer pushed before closing
		select {
		case c := <-q.ch:
			return c, nil
		default:
			return Chunk{}, ErrQueueClosed
		}
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

// Close marks the end of input. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Closed reports whether Close has been called
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len returns the number of queued chunks
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Pushed returns the number of accepted chunks
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the number of chunks dropped on overflow
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
