package engine

import "sync"

// queue is an unbounded multi-producer queue drained by exactly one worker
// loop. The dispatcher must never block on a full buffer, so growth is
// preferred over backpressure.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push appends items.
func (q *queue[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
}

// Drain removes and returns up to max items, or nil when empty.
func (q *queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	n := len(q.items)
	if n > max {
		n = max
	}
	out := q.items[:n:n]
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return out
}

// Len returns the queued item count.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
