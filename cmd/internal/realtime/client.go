package realtime

import (
	"sync"
	"time"

	v1 "carelink/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Client represents one connected websocket session for an identity.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent pushers.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Client struct {
	SessionID   string
	IdentityID  string
	Role        string
	DisplayName string
	ConnectedAt time.Time

	Send chan v1.Envelope

	mu       sync.Mutex
	lastSeen time.Time
	evict    func(code websocket.StatusCode, reason string)

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID, identityID, role, displayName string, now time.Time, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID:   sessionID,
		IdentityID:  identityID,
		Role:        role,
		DisplayName: displayName,
		ConnectedAt: now,
		lastSeen:    now,
		Send:        make(chan v1.Envelope, sendQueueSize),
		done:        make(chan struct{}),
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
// It does NOT close Send to keep concurrent pushes safe.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// SetEvict installs the connection shutdown hook used when this client is
// superseded by a newer connection for the same identity.
func (c *Client) SetEvict(fn func(code websocket.StatusCode, reason string)) {
	c.mu.Lock()
	c.evict = fn
	c.mu.Unlock()
}

// Evict closes the underlying connection with the given close code, then
// stops the client. Safe to call from any goroutine.
func (c *Client) Evict(code websocket.StatusCode, reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn := c.evict
	c.mu.Unlock()

	if fn != nil {
		fn(code, reason)
		return
	}
	c.Close()
}

// Touch records client-driven liveness.
func (c *Client) Touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastSeen) {
		c.lastSeen = now
	}
	c.mu.Unlock()
}

// LastSeen returns the most recent liveness timestamp.
func (c *Client) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// TryEnqueue attempts a non-blocking push to the client's send queue.
// It returns false when the client is gone or the queue is full; callers
// must treat a false as a drop, never as a reason to block.
func (c *Client) TryEnqueue(env v1.Envelope) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
