package events

import "github.com/nfrund/roomchat/internal/domain"

// JoinRoom asks to receive a room's events.
type JoinRoom struct {
	RoomID string `json:"roomId" validate:"notblank"`
}

// LeaveRoom stops a room's events for this connection.
type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"notblank"`
}

// SendMessage posts content to a room. ClientTempID is echoed back so the
// sender can reconcile its optimistic entry.
type SendMessage struct {
	RoomID       string `json:"roomId" validate:"notblank"`
	Content      string `json:"content"`
	ClientTempID string `json:"clientTempId,omitempty" validate:"max=64"`
}

// Typing toggles the typing indicator.
type Typing struct {
	RoomID   string `json:"roomId" validate:"notblank"`
	IsTyping bool   `json:"isTyping"`
}

// RoomJoinedEvent confirms a join with the room and its most recent visible
// messages in ascending order.
type RoomJoinedEvent struct {
	Room     *domain.Room               `json:"room"`
	Messages []domain.MessageWithAuthor `json:"messages"`
}

type RoomLeftEvent struct {
	RoomID string `json:"roomId"`
}

type NewMessageEvent struct {
	Message      domain.MessageWithAuthor `json:"message"`
	RoomID       string                   `json:"roomId"`
	ClientTempID string                   `json:"clientTempId,omitempty"`
}

type UserTypingEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type UserOnlineEvent struct {
	UserID string `json:"userId"`
}

type UserOfflineEvent struct {
	UserID string `json:"userId"`
}

// MessageUpdatedEvent carries an edited, deleted, restored or purged
// message. Purged is set when the message no longer exists.
type MessageUpdatedEvent struct {
	Message domain.Message `json:"message"`
	RoomID  string         `json:"roomId"`
	Purged  bool           `json:"purged,omitempty"`
}

type ParticipantAddedEvent struct {
	RoomID string       `json:"roomId"`
	UserID string       `json:"userId"`
	Room   *domain.Room `json:"room,omitempty"`
}

type ParticipantRemovedEvent struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// RoomUpdatedEvent carries a renamed or deleted room.
type RoomUpdatedEvent struct {
	Room *domain.Room `json:"room"`
}

// ErrorEvent reports a failed request to the originating connection only.
type ErrorEvent struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RequestID    string `json:"requestId,omitempty"`
	ClientTempID string `json:"clientTempId,omitempty"`
}

// NewError builds the error frame for err.
func NewError(err error, requestID, clientTempID string) []byte {
	return MustEncode(KindError, requestID, ErrorEvent{
		Code:         domain.Code(err),
		Message:      domain.PublicMessage(err),
		RequestID:    requestID,
		ClientTempID: clientTempID,
	})
}
