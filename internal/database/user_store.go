package database

import (
	"context"
	"strings"

	"github.com/nfrund/roomchat/internal/domain"
)

// UserStore is a read-mostly user directory backed by SurrealDB. User
// records are owned elsewhere; Put exists for seeding and the token command.
type UserStore struct {
	users *Client[userRecord]
}

var _ domain.UserDirectory = (*UserStore)(nil)

// NewUserStore creates a user directory over conn.
func NewUserStore(conn DBConnection) (*UserStore, error) {
	users, err := NewClient[userRecord](conn)
	if err != nil {
		return nil, err
	}
	return &UserStore{users: users}, nil
}

// GetUser returns (nil, nil) for an unknown id.
func (s *UserStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, nil
	}
	rec, err := s.users.QueryOne(ctx, "SELECT * FROM type::thing($tb, $id)",
		map[string]any{"tb": userTable, "id": id})
	if err != nil {
		return nil, WrapError(err, "failed to get user")
	}
	if rec == nil {
		return nil, nil
	}
	return rec.toDomain(), nil
}

// Put inserts or replaces a user record.
func (s *UserStore) Put(ctx context.Context, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return domain.Validationf("user id is required")
	}
	err := s.users.Execute(ctx, "UPSERT type::thing($tb, $id) CONTENT $data", map[string]any{
		"tb": userTable,
		"id": u.ID,
		"data": map[string]any{
			"username":   u.Username,
			"avatar_url": u.AvatarURL,
		},
	})
	return WrapError(err, "failed to put user")
}
