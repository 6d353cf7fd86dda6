package pubsub

import (
	"context"
)

// Message is what the bus and the brokers carry.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g. "chat.room.<id>").
	Topic string
	// UserID identifies the user who initiated the message.
	UserID string
	// Payload contains the raw message data, usually a JSON envelope.
	Payload []byte
	// Metadata carries optional key-value context such as a request id.
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the Pub/Sub system.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the Pub/Sub system.
type Subscriber interface {
	// Subscribe starts delivering messages for topic to handler in the
	// background and returns once the subscription is active. Delivery stops
	// when ctx is canceled or the subscriber is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Pinger is implemented by brokers backed by an external server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Broker is a Publisher and Subscriber over the same transport.
type Broker interface {
	Publisher
	Subscriber
}
