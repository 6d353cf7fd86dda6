package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nfrund/roomchat/internal/domain"
)

// UserStore is the user directory backed by the users table.
type UserStore struct {
	pool *pgxpool.Pool
}

var _ domain.UserDirectory = (*UserStore)(nil)

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetUser returns (nil, nil) for an unknown id.
func (s *UserStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, "SELECT id, username, avatar_url FROM users WHERE id = $1", id).
		Scan(&u.ID, &u.Username, &u.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "user "+id)
	}
	return &u, nil
}

// Put inserts or replaces a user.
func (s *UserStore) Put(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return domain.Validationf("user id is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, avatar_url) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, avatar_url = EXCLUDED.avatar_url`,
		u.ID, u.Username, u.AvatarURL)
	return mapError(err, "user "+u.ID)
}
