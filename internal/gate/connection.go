package gate

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by Send when the connection is tearing down or
// its outbound buffer is full. The room treats it as a delivery failure and
// evicts the member.
var ErrConnClosed = errors.New("connection closed or backed up")

// Connection represents one admitted WebSocket participant. It is owned by
// exactly one room for its whole life: admitted and joined once, then left
// on close or error, never rejoined.
type Connection struct {
	// conn is the underlying WebSocket connection
	conn *websocket.Conn

	// ConnectionID is a unique identifier for this connection
	ConnectionID string

	// Email is the authenticated principal from the admission token
	Email string

	// MonitorID is the chat room this connection was admitted to
	MonitorID string

	// send is a buffered channel for outbound messages
	send chan []byte

	// closing indicates the connection is being torn down.
	// Set before closing the send channel to prevent send-on-closed-channel panics.
	closing atomic.Bool

	// mu protects concurrent access to the underlying connection
	mu sync.Mutex
}

func newConnection(conn *websocket.Conn, email, monitorID string) *Connection {
	return &Connection{
		conn:         conn,
		ConnectionID: uuid.NewString(),
		Email:        email,
		MonitorID:    monitorID,
		send:         make(chan []byte, 256),
	}
}

// Send queues a payload for delivery to this participant. It never blocks:
// when the connection is closing or its buffer is full it returns
// ErrConnClosed so broadcast delivery to other members proceeds unhindered.
func (c *Connection) Send(payload []byte) error {
	if c.closing.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrConnClosed
	}
}

// Close closes the underlying WebSocket connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
