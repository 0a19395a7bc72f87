package realtime

import (
	"sync"

	"scoresws/cmd/scores"
)

// Client is the outbound side of one websocket session.
//
// Records are queued without bound unless maxBacklog is set, so a live
// client never misses a record. A client only receives broadcasts once it
// has been armed by Hub.Attach.
// Close is idempotent.
type Client struct {
	SessionID string
	Remote    string

	maxBacklog int

	mu         sync.Mutex
	queue      []scores.Record
	armed      bool
	overflowed bool

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs an unarmed Client. maxBacklog <= 0 means unbounded.
func NewClient(sessionID, remote string, maxBacklog int) *Client {
	return &Client{
		SessionID:  sessionID,
		Remote:     remote,
		maxBacklog: max(maxBacklog, 0),
		ready:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Deliver queues recs for an armed client. It never blocks on the socket.
// It reports false when the client is not armed, closed, or was closed for
// exceeding its backlog by this call.
func (c *Client) Deliver(recs []scores.Record) bool {
	if c == nil || len(recs) == 0 {
		return false
	}

	c.mu.Lock()
	if !c.armed || c.closed() {
		c.mu.Unlock()
		return false
	}
	if c.maxBacklog > 0 && len(c.queue)+len(recs) > c.maxBacklog {
		c.armed = false
		c.overflowed = true
		c.queue = nil
		c.mu.Unlock()
		c.Close()
		return false
	}
	c.queue = append(c.queue, recs...)
	c.mu.Unlock()

	c.signal()
	return true
}

// arm queues replay and enables broadcasts. Callers hold the history lock.
func (c *Client) arm(replay []scores.Record) {
	c.mu.Lock()
	c.queue = append(c.queue, replay...)
	c.armed = true
	c.mu.Unlock()

	if len(replay) > 0 {
		c.signal()
	}
}

// disarm stops broadcasts. Already queued records stay queued.
func (c *Client) disarm() {
	c.mu.Lock()
	c.armed = false
	c.mu.Unlock()
}

// Drain moves every queued record into dst and returns it.
func (c *Client) Drain(dst []scores.Record) []scores.Record {
	c.mu.Lock()
	dst = append(dst, c.queue...)
	clear(c.queue)
	c.queue = c.queue[:0]
	c.mu.Unlock()
	return dst
}

// Pending returns the number of queued records.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Overflowed reports whether the client was closed for exceeding its backlog.
func (c *Client) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowed
}

// Ready fires after records were queued.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

func (c *Client) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
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

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
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
