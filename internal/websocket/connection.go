package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps a WebSocket transport session. All frame writes go
// through a single writer goroutine so webhook handlers, the consumer loop,
// and the auth gate can push to the same connection without racing.
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	writeWait time.Duration
	createdAt time.Time

	userID        string // set after authentication
	email         string // set after authentication
	authenticated bool

	ctx        context.Context
	cancel     context.CancelFunc
	drain      chan struct{} // signals the writer to flush and exit
	writerDone chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex // protects auth fields
}

// NewConnection creates a connection wrapper with a fresh session id and
// starts its writer goroutine. writeWait bounds every frame write so one
// stalled client never backs up a sender.
func NewConnection(conn *websocket.Conn, sendBuffer int, writeWait time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:         uuid.NewString(),
		conn:       conn,
		writeCh:    make(chan []byte, sendBuffer),
		writeWait:  writeWait,
		createdAt:  time.Now().UTC(),
		ctx:        ctx,
		cancel:     cancel,
		drain:      make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer goroutine for this connection. On drain it
// flushes every frame queued before close, so terminal messages (auth
// failures in particular) still reach the peer before the socket goes away.
// A write error tears the whole connection down; the peer is gone and
// queueing more frames at it only wastes the write timeout.
func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case data := <-c.writeCh:
			if !c.write(data) {
				go c.Close()
				return
			}

		case <-c.drain:
			for {
				select {
				case data := <-c.writeCh:
					if !c.write(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Connection) write(data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return false
	}
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// envelope is the wire frame for server-pushed events.
type envelope struct {
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// WriteEvent pushes a named event with its canonical payload. The timestamp
// is assigned here, at delivery time.
func (c *Connection) WriteEvent(event string, data map[string]interface{}) error {
	return c.WriteJSON(envelope{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// WriteJSON marshals v and hands it to the writer goroutine. Never blocks
// past the write timeout.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeWait):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the transport. New writes are rejected immediately, the
// writer flushes frames already queued, and only then does the socket
// close. Idempotent: the registry deregistration and the gate's timer
// cancellation key off the read loop exiting, so every close path converges
// on the same cleanup.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.drain)
		// Bounded: each flushed write carries the write deadline and the
		// writer exits on the first failure.
		<-c.writerDone
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Bind attaches the verified identity to the connection. Called exactly by
// the auth gate on verification success.
func (c *Connection) Bind(userID, email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.email = email
	c.authenticated = true
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) CreatedAt() time.Time { return c.createdAt }

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) Email() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.email
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}
