// Package queue implements the bounded MPMC RequestQueue of spec §3: one
// queue per processor, capacity set by config.RequestQueueCapacity,
// producers (any session thread) enqueue, the owning processor's thread
// dequeues. Grounded on the teacher's internal/conn channel-based pending
// queue (buffered channel, non-blocking send, immediate RequestQueueFull on
// overflow rather than blocking the caller).
package queue

import (
	"sync/atomic"

	"github.com/booknouse/cpp-driver/errors"
)

// Item is anything the processor can dequeue and dispatch; *dispatch.Handler
// satisfies it in practice, but the queue stays decoupled from that package
// to avoid an import cycle (processor depends on both).
type Item interface{}

// Queue is a bounded, multi-producer multi-consumer FIFO of Item.
type Queue struct {
	ch   chan Item
	size atomic.Int64
}

func New(capacity int) *Queue {
	return &Queue{ch: make(chan Item, capacity)}
}

// Enqueue implements spec §3's enqueue: non-blocking; returns
// errors.RequestQueueFull when the buffer is saturated instead of blocking
// the caller's thread.
func (q *Queue) Enqueue(item Item) error {
	select {
	case q.ch <- item:
		q.size.Add(1)

		return nil
	default:
		return errors.RequestQueueFull
	}
}

// Dequeue is non-blocking: ok is false if the queue is currently empty.
func (q *Queue) Dequeue() (Item, bool) {
	select {
	case item := <-q.ch:
		q.size.Add(-1)

		return item, true
	default:
		return nil, false
	}
}

// DequeueAll drains up to max items in one pass (used by the processor's
// flush algorithm, spec §4.E).
func (q *Queue) DequeueAll(max int) []Item {
	items := make([]Item, 0, max)
	for i := 0; i < max; i++ {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		items = append(items, item)
	}

	return items
}

func (q *Queue) Len() int { return int(q.size.Load()) }

func (q *Queue) Cap() int { return cap(q.ch) }
