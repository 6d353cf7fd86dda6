package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh entity id. Ids are assigned when entities are
// constructed, never by the storage layer.
func NewID() string {
	return uuid.NewString()
}

// Now returns the current time in UTC, truncated to microseconds so values
// survive a round trip through every supported store unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Message is a single chat message.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"authorId"`
	RoomID    string    `json:"roomId"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageWithAuthor is the view broadcast to clients.
type MessageWithAuthor struct {
	Message
	Author Author `json:"author"`
}

// NewMessage constructs a message with a new id and timestamps.
func NewMessage(roomID, authorID, content string, at time.Time) (*Message, error) {
	m := &Message{
		ID:        NewID(),
		Content:   content,
		AuthorID:  authorID,
		RoomID:    roomID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate enforces the message invariants that do not need other entities.
func (m *Message) Validate() error {
	if m.RoomID == "" {
		return Validationf("roomId is required")
	}
	if m.AuthorID == "" {
		return Validationf("authorId is required")
	}
	if !m.IsDeleted && strings.TrimSpace(m.Content) == "" {
		return Validationf("content is required")
	}
	return nil
}

// Newer reports whether m should replace other as a room's last message.
// Equal timestamps count as newer so a retried send still advances.
func (m *Message) Newer(other *Message) bool {
	if other == nil {
		return true
	}
	return !m.CreatedAt.Before(other.CreatedAt)
}

// MessageRepository persists messages. It has no side effects beyond
// storage; room pointers and broadcasts are the caller's concern.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) (*Message, error)
	FindByID(ctx context.Context, id string) (*Message, error)
	FindByRoomID(ctx context.Context, roomID string, opts PageOptions) (Page[Message], error)
	FindVisibleByRoomID(ctx context.Context, roomID string, opts PageOptions) (Page[Message], error)
	FindByAuthorID(ctx context.Context, authorID string, opts PageOptions) (Page[Message], error)
	LatestInRoom(ctx context.Context, roomID string) (*Message, error)
	MarkAsDeleted(ctx context.Context, id string) (*Message, error)
	Restore(ctx context.Context, id string) (*Message, error)
	Update(ctx context.Context, m *Message) (*Message, error)
	Delete(ctx context.Context, id string) error
}
