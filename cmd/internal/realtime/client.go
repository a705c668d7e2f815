package realtime

import (
	"sync"

	"github.com/google/uuid"

	v1 "github.com/akinsuyitaiwo/financial-management-system/shared/contracts/realtime/v1"
)

const defaultSendQueueSize = 64

// Client is one live connection.
//
// Send is a bounded FIFO drained by the connection's writer. It is never closed by the
// server, so a broadcaster racing with teardown cannot panic; done signals shutdown instead.
type Client struct {
	ID     string
	UserID string
	Send   chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a fresh connection id and a bounded send queue.
// userID is empty for anonymous connections.
func NewClient(userID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// offer enqueues env without blocking. It reports false when the queue is full or the client is closing.
func (c *Client) offer(env v1.Envelope) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
