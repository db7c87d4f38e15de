package ingest

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultQueueCapacity is the number of chunks a Queue holds when no
// capacity is given.
const DefaultQueueCapacity = 200

// Queue is a bounded FIFO of byte chunks between a Source goroutine and the
// demux worker. Offer never blocks: when the queue is full the offered chunk
// is dropped and counted.
type Queue struct {
	ch      chan []byte
	dropped atomic.Int64
}

// NewQueue creates a Queue holding up to capacity chunks. A non-positive
// capacity selects DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan []byte, capacity)}
}

// Offer enqueues chunk, reporting false if the queue was full and the chunk
// was dropped. The queue takes ownership of chunk.
func (q *Queue) Offer(chunk []byte) bool {
	select {
	case q.ch <- chunk:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Poll dequeues the oldest chunk, waiting up to timeout. It reports false on
// timeout or when ctx is done.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	select {
	case chunk := <-q.ch:
		return chunk, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk := <-q.ch:
		return chunk, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Clear discards every queued chunk and returns how many were discarded.
func (q *Queue) Clear() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the number of chunks rejected because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
