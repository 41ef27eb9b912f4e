// Package relay pushes freshly persisted messages to online recipients.
// It owns only the transient connection map; the message store remains the
// system of record, and a recipient being offline is never an error.
package relay

import (
	"sync"

	"github.com/careline/careline-server/internal/store"
)

// connBuffer bounds in-flight pushes per connection. A slow consumer loses
// pushes rather than blocking the send path; the durable log backstops them.
const connBuffer = 16

// Conn is a live connection handle for one user. At most one Conn per user
// is registered at a time.
type Conn struct {
	userID int64

	events chan *store.Message
	done   chan struct{}
	once   sync.Once
}

// NewConn constructs a handle for the given user.
func NewConn(userID int64) *Conn {
	return &Conn{
		userID: userID,
		events: make(chan *store.Message, connBuffer),
		done:   make(chan struct{}),
	}
}

// UserID returns the user this handle belongs to.
func (c *Conn) UserID() int64 {
	return c.userID
}

// Events yields messages pushed to this connection.
func (c *Conn) Events() <-chan *store.Message {
	return c.events
}

// Done is closed when the handle is unregistered or superseded.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// push enqueues a message without blocking. Dropped pushes are recovered by
// the recipient re-syncing against the message store.
func (c *Conn) push(msg *store.Message) {
	select {
	case <-c.done:
	case c.events <- msg:
	default:
	}
}

// Gateway maintains live connections keyed by user identity. The mutex is
// held only for map access, never across a storage call.
type Gateway struct {
	mu    sync.Mutex
	conns map[int64]*Conn
}

// NewGateway creates an empty gateway.
func NewGateway() *Gateway {
	return &Gateway{conns: make(map[int64]*Conn)}
}

// Register records the live handle for its user, replacing any prior handle.
// The superseded handle is closed so its transport loop terminates.
func (g *Gateway) Register(c *Conn) {
	g.mu.Lock()
	prev := g.conns[c.userID]
	g.conns[c.userID] = c
	g.mu.Unlock()

	if prev != nil && prev != c {
		prev.close()
	}
}

// Unregister removes the registration only if it still matches c, so an
// unregister from a stale, superseded connection cannot clobber a newer one.
func (g *Gateway) Unregister(c *Conn) {
	g.mu.Lock()
	if g.conns[c.userID] == c {
		delete(g.conns, c.userID)
	}
	g.mu.Unlock()

	c.close()
}

// Deliver pushes msg to the recipient's live connection if one exists.
// No connection means the recipient is offline, which is the expected
// common case: a silent no-op.
func (g *Gateway) Deliver(recipientID int64, msg *store.Message) {
	g.mu.Lock()
	c := g.conns[recipientID]
	g.mu.Unlock()

	if c != nil {
		c.push(msg)
	}
}

// Online reports whether a live connection exists for userID.
func (g *Gateway) Online(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[userID] != nil
}
