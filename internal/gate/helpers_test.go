package gate

import "github.com/google/uuid"

// Test scaffolding for the gate package. Compiled into test binaries only.

// newSocketlessConnection creates a Connection without an underlying socket.
func newSocketlessConnection(email, monitorID string) *Connection {
	return &Connection{
		ConnectionID: uuid.NewString(),
		Email:        email,
		MonitorID:    monitorID,
		send:         make(chan []byte, 256),
	}
}

// receive returns the outbound channel so tests can observe delivered payloads.
func (c *Connection) receive() <-chan []byte {
	return c.send
}

// markClosing marks the connection as closing. After this call, Send returns
// ErrConnClosed.
func (c *Connection) markClosing() {
	c.closing.Store(true)
}
