package websocket

import (
	"time"

	"github.com/nfrund/roomchat/internal/pubsub"
)

// ConnectionEvent describes a websocket connection opening or closing.
type ConnectionEvent struct {
	ConnID     string        `json:"connId"`
	UserID     string        `json:"userId"`
	RemoteAddr string        `json:"remoteAddr,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

var (
	// ClientConnected is published on the local bus after a socket is accepted.
	ClientConnected = pubsub.NewEvent[ConnectionEvent]("ws.client.connected",
		"Published when an authenticated websocket connection is established")

	// ClientDisconnected is published once a socket has been torn down.
	ClientDisconnected = pubsub.NewEvent[ConnectionEvent]("ws.client.disconnected",
		"Published when a websocket connection closes for any reason")
)
