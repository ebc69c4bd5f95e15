package connection

import (
	"sync"
)

// Queue is a thread-safe FIFO ring buffer that doubles its capacity when it
// reaches 70% full. Items are only removed by an explicit Pop, so a consumer
// can Peek, attempt delivery, and Pop only on success.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	ready    chan struct{}

	// Stats
	totalPushed int64
	totalPopped int64
	resizeCount int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count       int
	Capacity    int
	TotalPushed int64
	TotalPopped int64
	ResizeCount int
}

// NewQueue creates a new queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push appends an item. Grows the buffer if at 70% capacity.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalPushed++
	q.mu.Unlock()

	q.Signal()
}

// Signal wakes one Ready receiver without adding an item. Used to hand back
// a signal that was consumed by a reader that is going away.
func (q *Queue[T]) Signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Peek returns the oldest item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}

	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.totalPopped++
	return item, true
}

// Ready is signalled after every Push. The signal is coalesced: a consumer
// must drain the queue after each receive.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Items returns a copy of the queued items, oldest first.
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]T, q.count)
	for i := 0; i < q.count; i++ {
		items[i] = q.buf[(q.head+i)%q.capacity]
	}
	return items
}

// Len returns the current number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:       q.count,
		Capacity:    q.capacity,
		TotalPushed: q.totalPushed,
		TotalPopped: q.totalPopped,
		ResizeCount: q.resizeCount,
	}
}

// grow doubles the capacity. Must be called with lock held.
func (q *Queue[T]) grow() {
	newCap := q.capacity * 2
	newBuf := make([]T, newCap)

	for i := 0; i < q.count; i++ {
		newBuf[i] = q.buf[(q.head+i)%q.capacity]
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCap
	q.resizeCount++
}
