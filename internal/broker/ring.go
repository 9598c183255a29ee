package broker

import "github.com/topichub/topichub/internal/protocol"

// ring holds the most recent payload envelopes of a topic for late-joiner
// replay. Fixed capacity, oldest-overwritten. Capacity 0 is legal and
// disables retention entirely.
type ring struct {
	buf      []protocol.Message
	next     int // next write position
	size     int
	capacity int
}

func newRing(capacity int) *ring {
	if capacity < 0 {
		capacity = 0
	}
	return &ring{
		buf:      make([]protocol.Message, capacity),
		capacity: capacity,
	}
}

// append records m, overwriting the oldest entry once the ring is full.
// With capacity 0 this is a no-op.
func (r *ring) append(m protocol.Message) {
	if r.capacity == 0 {
		return
	}
	r.buf[r.next] = m
	r.next = (r.next + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// last returns the most recent min(n, size) messages in original insertion
// order, oldest first. It does not mutate the ring.
func (r *ring) last(n int) []protocol.Message {
	if n <= 0 || r.size == 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	out := make([]protocol.Message, 0, n)
	// Oldest of the requested window sits n slots behind the write cursor.
	start := (r.next - n + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%r.capacity])
	}
	return out
}

func (r *ring) len() int {
	return r.size
}
