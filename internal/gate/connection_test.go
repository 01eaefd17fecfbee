package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnection_SendQueues(t *testing.T) {
	c := newSocketlessConnection("user@example.com", "m1")

	assert.NoError(t, c.Send([]byte("hello")))
	assert.Equal(t, []byte("hello"), <-c.receive())
}

func TestConnection_SendAfterClosing(t *testing.T) {
	c := newSocketlessConnection("user@example.com", "m1")
	c.markClosing()

	assert.ErrorIs(t, c.Send([]byte("hello")), ErrConnClosed)
}

func TestConnection_SendNeverBlocks(t *testing.T) {
	c := newSocketlessConnection("user@example.com", "m1")

	// Fill the outbound buffer without a consumer
	for i := 0; i < cap(c.send); i++ {
		assert.NoError(t, c.Send([]byte("msg")))
	}

	// A backed-up connection fails the send instead of blocking the broadcast
	assert.ErrorIs(t, c.Send([]byte("overflow")), ErrConnClosed)
}

func TestConnection_DistinctIDs(t *testing.T) {
	a := newSocketlessConnection("user@example.com", "m1")
	b := newSocketlessConnection("user@example.com", "m1")

	assert.NotEqual(t, a.ConnectionID, b.ConnectionID)
}
