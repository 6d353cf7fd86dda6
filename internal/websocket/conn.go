package websocket

import (
	"sync"

	"github.com/nfrund/roomchat/internal/hub"
)

// conn adapts an outbox to gateway.Conn. Frames queue in the outbox and the
// write pump drains them; Close ends the pump with the given reason.
type conn struct {
	*hub.Outbox

	mu     sync.Mutex
	reason string
}

func newConn(id string, size int) *conn {
	return &conn{Outbox: hub.NewOutbox(id, size)}
}

func (c *conn) Close(reason string) {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
	c.Outbox.Close()
}

func (c *conn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
