// Package events defines the wire protocol spoken over a chat connection:
// a closed set of event kinds, the envelope that carries them and the
// payload of each kind.
package events

import "slices"

// Kind identifies the payload carried by an Envelope.
type Kind string

// Client to server.
const (
	KindJoinRoom    Kind = "join_room"
	KindLeaveRoom   Kind = "leave_room"
	KindSendMessage Kind = "send_message"
	KindTyping      Kind = "typing"
)

// Server to client.
const (
	KindRoomJoined         Kind = "room_joined"
	KindRoomLeft           Kind = "room_left"
	KindNewMessage         Kind = "new_message"
	KindUserTyping         Kind = "user_typing"
	KindUserOnline         Kind = "user_online"
	KindUserOffline        Kind = "user_offline"
	KindMessageUpdated     Kind = "message_updated"
	KindParticipantAdded   Kind = "participant_added"
	KindParticipantRemoved Kind = "participant_removed"
	KindRoomUpdated        Kind = "room_updated"
	KindError              Kind = "error"
)

var (
	clientKinds = []Kind{KindJoinRoom, KindLeaveRoom, KindSendMessage, KindTyping}
	serverKinds = []Kind{
		KindRoomJoined, KindRoomLeft, KindNewMessage, KindUserTyping,
		KindUserOnline, KindUserOffline, KindMessageUpdated,
		KindParticipantAdded, KindParticipantRemoved, KindRoomUpdated, KindError,
	}
)

// IsClient reports whether clients may send k.
func (k Kind) IsClient() bool { return slices.Contains(clientKinds, k) }

// IsServer reports whether k is sent by the server.
func (k Kind) IsServer() bool { return slices.Contains(serverKinds, k) }

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k.IsClient() || k.IsServer() }

// ClientKinds returns the kinds a client may send.
func ClientKinds() []Kind { return slices.Clone(clientKinds) }

// ServerKinds returns the kinds the server sends.
func ServerKinds() []Kind { return slices.Clone(serverKinds) }
