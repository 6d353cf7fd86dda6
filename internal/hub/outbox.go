package hub

import "sync"

// Outbox is a buffered, closable Subscriber. Transports drain C and write
// the frames to their connection.
type Outbox struct {
	id     string
	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

var _ Subscriber = (*Outbox)(nil)

// NewOutbox creates an outbox holding up to size frames.
func NewOutbox(id string, size int) *Outbox {
	return &Outbox{id: id, send: make(chan []byte, size)}
}

func (o *Outbox) ID() string { return o.id }

// Send queues msg. It returns false when the buffer is full or the outbox
// is closed.
func (o *Outbox) Send(msg []byte) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return false
	}
	select {
	case o.send <- msg:
		return true
	default:
		return false
	}
}

// C returns the channel of queued frames. It is closed by Close.
func (o *Outbox) C() <-chan []byte {
	return o.send
}

// Close closes the channel. Further sends are rejected.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.send)
	}
}
