package stream

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

var errConnectionClosed = errors.New("connection closed")

// FlushWriter is the transport half of a subscriber connection. The HTTP
// response writer of the subscription endpoint satisfies it.
type FlushWriter interface {
	io.Writer
	http.Flusher
}

// Connection is one subscriber's live session. OrgID is fixed at
// registration from authenticated context; a nil LocationID subscribes the
// connection to every location of its tenant. UserID is diagnostic only and
// never used for dispatch.
type Connection struct {
	ID          string
	OrgID       string
	LocationID  *string
	UserID      string
	ConnectedAt time.Time

	mu            sync.Mutex
	w             FlushWriter
	lastHeartbeat time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func NewConnection(id, orgID string, locationID *string, userID string, w FlushWriter) *Connection {
	now := time.Now().UTC()
	return &Connection{
		ID:            id,
		OrgID:         orgID,
		LocationID:    locationID,
		UserID:        userID,
		ConnectedAt:   now,
		w:             w,
		lastHeartbeat: now,
		done:          make(chan struct{}),
	}
}

// Send writes one frame and flushes it. Writes are serialized per
// connection; a write after Close fails with errConnectionClosed.
func (c *Connection) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return errConnectionClosed
	default:
	}
	if _, err := c.w.Write(f.Bytes()); err != nil {
		return err
	}
	c.w.Flush()
	return nil
}

// Close releases the connection exactly once. The parked subscription
// handler observes Done and lets the HTTP response finish, which closes the
// underlying transport. Closing takes the write mutex so an in-flight Send
// finishes before the handler is released; later Sends fail with
// errConnectionClosed instead of touching a torn-down writer.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed when the connection has been released.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) touchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now().UTC()
	c.mu.Unlock()
}

// LastHeartbeat reports when the connection last acknowledged a heartbeat
// write.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}
