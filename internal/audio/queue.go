package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned once the playback queue has been shut down.
var ErrQueueClosed = errors.New("playback queue closed")

// Queue is the ordered playback buffer between the dispatcher and a player.
//
// Every ClearPlayback advances a generation counter. Consumers tag each chunk
// with the generation it was dequeued under and stop playing it once the
// counter moves, so nothing queued before a clear is heard after it.
type Queue struct {
	mu     sync.Mutex
	chunks [][]byte
	gen    uint64
	closed bool

	notify chan struct{}
	done   chan struct{}
}

// NewQueue returns an empty open queue.
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends a copy of chunk. Empty chunks are ignored.
func (q *Queue) Enqueue(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.chunks = append(q.chunks, append([]byte(nil), chunk...))
	q.mu.Unlock()

	q.wake()
	return nil
}

// ClearPlayback discards everything queued and invalidates the chunk in flight.
func (q *Queue) ClearPlayback() {
	q.mu.Lock()
	q.chunks = nil
	q.gen++
	q.mu.Unlock()
}

// Generation reports how many times playback was cleared.
func (q *Queue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// TryNext pops the oldest chunk without waiting.
func (q *Queue) TryNext() ([]byte, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Next waits for the oldest chunk. It returns ErrQueueClosed after Close, or
// ctx.Err() when ctx ends first.
func (q *Queue) Next(ctx context.Context) ([]byte, uint64, error) {
	for {
		q.mu.Lock()
		chunk, gen, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()

		if ok {
			return chunk, gen, nil
		}
		if closed {
			return nil, gen, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, gen, ctx.Err()
		case <-q.notify:
		case <-q.done:
		}
	}
}

// Pending returns a snapshot of queued, not yet dequeued chunks.
func (q *Queue) Pending() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, 0, len(q.chunks))
	for _, chunk := range q.chunks {
		out = append(out, append([]byte(nil), chunk...))
	}
	return out
}

// Len reports the number of queued chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close rejects further chunks and drops what is queued. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.chunks = nil
	close(q.done)
}

func (q *Queue) popLocked() ([]byte, uint64, bool) {
	if len(q.chunks) == 0 {
		return nil, q.gen, false
	}
	chunk := q.chunks[0]
	q.chunks[0] = nil
	q.chunks = q.chunks[1:]
	return chunk, q.gen, true
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
