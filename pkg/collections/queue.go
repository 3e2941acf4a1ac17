package collections

// Queue is a FIFO work list. Popped slots are reused once the queue
// drains.
type Queue[T any] struct {
	items []T
	head  int
}

// NewQueue creates a queue holding vs.
func NewQueue[T any](vs ...T) *Queue[T] {
	return &Queue[T]{items: append([]T(nil), vs...)}
}

// Push appends vs.
func (q *Queue[T]) Push(vs ...T) {
	q.items = append(q.items, vs...)
}

// Pop removes the oldest item. It returns false when the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items, q.head = q.items[:0], 0
	}
	return v, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}
