package transport

import (
	"net"
	"sync"
)

// Conn wraps one upgraded WebSocket connection. It implements
// broker.Sender: Send queues a frame for the write pump without blocking,
// Close shuts the connection down after the queued frames are flushed.
//
// The send channel is the transport write buffer; the broker's bounded
// per-subscriber queue sits in front of it. A full channel means the
// transport refused the frame, which the broker treats as best-effort loss
// or leaves the frame queued, depending on the path.
type Conn struct {
	id   int64
	sock net.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newConn(id int64, sock net.Conn, sendBuffer int) *Conn {
	return &Conn{
		id:   id,
		sock: sock,
		send: make(chan []byte, sendBuffer),
	}
}

// Send hands a frame to the write pump. Returns false when the connection
// is closed or the write buffer is full. Never blocks.
func (c *Conn) Send(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close marks the connection closed and closes the send channel. The write
// pump drains the remaining buffered frames, writes a close frame, and
// closes the socket. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
