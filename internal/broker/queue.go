package broker

// queue is the bounded per-subscriber outbound buffer. It is a fixed
// capacity FIFO over a circular slice: push is total, and when the queue is
// full the head (oldest) element is evicted to admit the new tail.
//
// Access is never concurrent: a queue belongs to exactly one subscriber
// record and is touched only from the broker's critical section.
type queue struct {
	items    [][]byte
	head     int
	size     int
	capacity int
}

func newQueue(capacity int) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{
		items:    make([][]byte, capacity),
		capacity: capacity,
	}
}

// push appends item to the tail. Returns the number of evicted elements:
// 0 in the normal case, 1 when the queue was full and the head was
// discarded first.
func (q *queue) push(item []byte) int {
	dropped := 0
	if q.size == q.capacity {
		// Drop-oldest: free the head slot, then append over it.
		q.items[q.head] = nil
		q.head = (q.head + 1) % q.capacity
		q.size--
		dropped = 1
	}
	tail := (q.head + q.size) % q.capacity
	q.items[tail] = item
	q.size++
	return dropped
}

// drain removes up to max items from the head in order, handing each to
// deliver. An item is removed only when deliver accepts it; when deliver
// returns false the item stays at the head and draining stops.
//
// Returns the number of delivered items and whether draining stopped
// because deliver refused an item.
func (q *queue) drain(max int, deliver func(item []byte) bool) (int, bool) {
	delivered := 0
	for delivered < max && q.size > 0 {
		if !deliver(q.items[q.head]) {
			return delivered, true
		}
		q.items[q.head] = nil
		q.head = (q.head + 1) % q.capacity
		q.size--
		delivered++
	}
	return delivered, false
}

func (q *queue) len() int {
	return q.size
}
