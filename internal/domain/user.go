package domain

import "context"

// User is owned by the user collaborator; the chat core only reads it.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	IsOnline  bool   `json:"isOnline"`
}

// Identity is the verified result of authenticating a credential.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Author is the public projection of a user embedded in message views.
type Author struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Authenticator verifies an opaque credential presented at handshake.
// Implementations must return an error wrapping ErrAuth for bad or expired
// credentials.
type Authenticator interface {
	VerifyCredential(ctx context.Context, token string) (Identity, error)
}

// UserDirectory resolves users by id. GetUser returns (nil, nil) for an
// unknown id.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

// AuthorOf builds the author view for a message, falling back to the
// identity's username when the directory has no record.
func AuthorOf(ctx context.Context, dir UserDirectory, id Identity) Author {
	author := Author{ID: id.UserID, Username: id.Username}
	if dir == nil {
		return author
	}
	u, err := dir.GetUser(ctx, id.UserID)
	if err != nil || u == nil {
		return author
	}
	if u.Username != "" {
		author.Username = u.Username
	}
	author.AvatarURL = u.AvatarURL
	return author
}
