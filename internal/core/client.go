package core

import "sync"

// sendQueueSize bounds the per-connection outbound queue. A client that
// cannot drain this many frames is considered dead and gets dropped.
const sendQueueSize = 64

// Client is a single websocket connection as seen by the chat core. Identity
// lives in the Registry; the client itself only carries the outbound queue.
type Client struct {
	ID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with the given connection id.
func NewClient(id string) *Client {
	return &Client{
		ID:   id,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Enqueue appends a frame to the outbound queue without blocking. It reports
// false when the client is closed or the queue is full.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound exposes the queue drained by the connection's write pump.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Close marks the client dead and wakes its write pump. Safe to call more
// than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
