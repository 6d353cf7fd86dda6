package domain

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Room is a named chat channel with an owning author and a participant set.
type Room struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	AvatarURL      string    `json:"avatarUrl,omitempty"`
	AuthorID       string    `json:"authorId"`
	ParticipantIDs []string  `json:"participantIds"`
	LastMessageID  *string   `json:"lastMessageId,omitempty"`
	IsDeleted      bool      `json:"isDeleted"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewRoom constructs a room. The author is always a participant.
func NewRoom(name, avatarURL, authorID string, participants []string, at time.Time) (*Room, error) {
	r := &Room{
		ID:        NewID(),
		Name:      strings.TrimSpace(name),
		AvatarURL: avatarURL,
		AuthorID:  authorID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	r.AddParticipant(authorID)
	for _, p := range participants {
		if p != "" {
			r.AddParticipant(p)
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate enforces the room invariants that do not need other entities.
func (r *Room) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return Validationf("name is required")
	}
	if len([]rune(r.Name)) > MaxRoomNameLength {
		return Validationf("name exceeds maximum length of %d", MaxRoomNameLength)
	}
	if r.AuthorID == "" {
		return Validationf("authorId is required")
	}
	if !r.HasParticipant(r.AuthorID) {
		return Validationf("author must be a participant")
	}
	return nil
}

func (r *Room) HasParticipant(userID string) bool {
	return slices.Contains(r.ParticipantIDs, userID)
}

// AddParticipant reports whether the set changed.
func (r *Room) AddParticipant(userID string) bool {
	if r.HasParticipant(userID) {
		return false
	}
	r.ParticipantIDs = append(r.ParticipantIDs, userID)
	return true
}

// RemoveParticipant reports whether the set changed.
func (r *Room) RemoveParticipant(userID string) bool {
	i := slices.Index(r.ParticipantIDs, userID)
	if i < 0 {
		return false
	}
	r.ParticipantIDs = slices.Delete(r.ParticipantIDs, i, i+1)
	return true
}

// Clone returns a deep copy so stores can hand out rooms without sharing
// the participant slice.
func (r *Room) Clone() *Room {
	c := *r
	c.ParticipantIDs = slices.Clone(r.ParticipantIDs)
	if r.LastMessageID != nil {
		id := *r.LastMessageID
		c.LastMessageID = &id
	}
	return &c
}

// RoomRepository persists rooms. Authorization is enforced by callers.
type RoomRepository interface {
	Create(ctx context.Context, r *Room) (*Room, error)
	FindByID(ctx context.Context, id string) (*Room, error)
	Update(ctx context.Context, r *Room) (*Room, error)
	AddParticipant(ctx context.Context, roomID, userID string) (*Room, error)
	RemoveParticipant(ctx context.Context, roomID, userID string) (*Room, error)
	UpdateLastMessage(ctx context.Context, roomID, messageID string) error
	FindByParticipant(ctx context.Context, userID string, opts PageOptions) (Page[Room], error)
	SoftDelete(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
