package presence

import (
	"time"

	"github.com/nfrund/roomchat/internal/pubsub"
)

// StatusEvent is the payload of the presence bus events.
type StatusEvent struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

var (
	// UserOnline is published when a user's first connection opens.
	UserOnline = pubsub.NewEvent[StatusEvent]("presence.user.online",
		"Published once per offline to online transition of a user")

	// UserOffline is published after a user's last connection has been gone
	// for the offline grace delay.
	UserOffline = pubsub.NewEvent[StatusEvent]("presence.user.offline",
		"Published when a user's last connection closed and the grace delay elapsed")
)
