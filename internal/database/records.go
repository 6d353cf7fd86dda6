package database

import (
	"fmt"
	"time"

	"github.com/nfrund/roomchat/internal/domain"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const (
	messageTable = "message"
	roomTable    = "room"
	userTable    = "user"
)

// messageRecord is the stored shape of a domain.Message. Record ids use the
// domain id as their key so "message:<id>" and the public id stay in step.
type messageRecord struct {
	ID        *surrealmodels.RecordID       `json:"id,omitempty"`
	Content   string                        `json:"content"`
	AuthorID  string                        `json:"author_id"`
	RoomID    string                        `json:"room_id"`
	IsDeleted bool                          `json:"is_deleted"`
	CreatedAt *surrealmodels.CustomDateTime `json:"created_at,omitempty"`
	UpdatedAt *surrealmodels.CustomDateTime `json:"updated_at,omitempty"`
}

type roomRecord struct {
	ID             *surrealmodels.RecordID       `json:"id,omitempty"`
	Name           string                        `json:"name"`
	AvatarURL      string                        `json:"avatar_url"`
	AuthorID       string                        `json:"author_id"`
	ParticipantIDs []string                      `json:"participant_ids"`
	LastMessageID  *string                       `json:"last_message_id,omitempty"`
	IsDeleted      bool                          `json:"is_deleted"`
	CreatedAt      *surrealmodels.CustomDateTime `json:"created_at,omitempty"`
	UpdatedAt      *surrealmodels.CustomDateTime `json:"updated_at,omitempty"`
}

type userRecord struct {
	ID        *surrealmodels.RecordID `json:"id,omitempty"`
	Username  string                  `json:"username"`
	AvatarURL string                  `json:"avatar_url"`
}

type countRecord struct {
	Total int `json:"total"`
}

func recordKey(id *surrealmodels.RecordID) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id.ID)
}

func dateTime(t time.Time) *surrealmodels.CustomDateTime {
	return &surrealmodels.CustomDateTime{Time: t.UTC()}
}

func timeOf(dt *surrealmodels.CustomDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	return dt.Time.UTC()
}

func messageContent(m *domain.Message) map[string]any {
	return map[string]any{
		"content":    m.Content,
		"author_id":  m.AuthorID,
		"room_id":    m.RoomID,
		"is_deleted": m.IsDeleted,
		"created_at": dateTime(m.CreatedAt),
		"updated_at": dateTime(m.UpdatedAt),
	}
}

func (r *messageRecord) toDomain() *domain.Message {
	return &domain.Message{
		ID:        recordKey(r.ID),
		Content:   r.Content,
		AuthorID:  r.AuthorID,
		RoomID:    r.RoomID,
		IsDeleted: r.IsDeleted,
		CreatedAt: timeOf(r.CreatedAt),
		UpdatedAt: timeOf(r.UpdatedAt),
	}
}

func roomContent(r *domain.Room) map[string]any {
	participants := r.ParticipantIDs
	if participants == nil {
		participants = []string{}
	}
	return map[string]any{
		"name":            r.Name,
		"avatar_url":      r.AvatarURL,
		"author_id":       r.AuthorID,
		"participant_ids": participants,
		"last_message_id": r.LastMessageID,
		"is_deleted":      r.IsDeleted,
		"created_at":      dateTime(r.CreatedAt),
		"updated_at":      dateTime(r.UpdatedAt),
	}
}

func (r *roomRecord) toDomain() *domain.Room {
	participants := r.ParticipantIDs
	if participants == nil {
		participants = []string{}
	}
	return &domain.Room{
		ID:             recordKey(r.ID),
		Name:           r.Name,
		AvatarURL:      r.AvatarURL,
		AuthorID:       r.AuthorID,
		ParticipantIDs: participants,
		LastMessageID:  r.LastMessageID,
		IsDeleted:      r.IsDeleted,
		CreatedAt:      timeOf(r.CreatedAt),
		UpdatedAt:      timeOf(r.UpdatedAt),
	}
}

func (r *userRecord) toDomain() *domain.User {
	return &domain.User{
		ID:        recordKey(r.ID),
		Username:  r.Username,
		AvatarURL: r.AvatarURL,
	}
}

// orderKeyword maps a validated order onto SurrealQL. Only these two
// literals are ever interpolated into a query.
func orderKeyword(o domain.Order) string {
	if o == domain.OrderDesc {
		return "DESC"
	}
	return "ASC"
}
