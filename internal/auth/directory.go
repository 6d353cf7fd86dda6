package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nfrund/roomchat/internal/domain"
)

// UserStore is a user directory that can also create records.
type UserStore interface {
	domain.UserDirectory
	Put(ctx context.Context, u domain.User) error
}

// Recording wraps an authenticator so that every verified identity has a
// user record. Existing records are never overwritten.
type Recording struct {
	next   domain.Authenticator
	users  UserStore
	seen   sync.Map // userID -> struct{}
	logger *slog.Logger
}

var _ domain.Authenticator = (*Recording)(nil)

// NewRecording creates a Recording authenticator.
func NewRecording(next domain.Authenticator, users UserStore) *Recording {
	return &Recording{
		next:   next,
		users:  users,
		logger: slog.Default().With("component", "auth"),
	}
}

func (r *Recording) VerifyCredential(ctx context.Context, token string) (domain.Identity, error) {
	id, err := r.next.VerifyCredential(ctx, token)
	if err != nil {
		return id, err
	}
	if _, loaded := r.seen.LoadOrStore(id.UserID, struct{}{}); !loaded {
		if err := r.record(ctx, id); err != nil {
			r.seen.Delete(id.UserID)
			r.logger.Warn("Failed to record user", "user_id", id.UserID, "error", err)
		}
	}
	return id, nil
}

func (r *Recording) record(ctx context.Context, id domain.Identity) error {
	existing, err := r.users.GetUser(ctx, id.UserID)
	if err != nil || existing != nil {
		return err
	}
	r.logger.Info("Recording new user", "user_id", id.UserID)
	return r.users.Put(ctx, domain.User{ID: id.UserID, Username: id.Username})
}
