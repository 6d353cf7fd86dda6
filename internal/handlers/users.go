package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/roomchat/internal/chat"
)

// PresenceReader answers whether users are online.
type PresenceReader interface {
	IsOnlineAnywhere(ctx context.Context, userID string) bool
	OnlineUsers() []string
}

// UserHandler serves user lookups with their presence.
type UserHandler struct {
	chat     *chat.Service
	presence PresenceReader
}

// NewUserHandler creates a new UserHandler. presence may be nil, in which
// case every user is reported offline.
func NewUserHandler(svc *chat.Service, presence PresenceReader) *UserHandler {
	return &UserHandler{chat: svc, presence: presence}
}

// Get handles GET /api/users/:id.
func (h *UserHandler) Get(c echo.Context) error {
	if _, err := identityFrom(c); err != nil {
		return err
	}
	ctx := c.Request().Context()
	user, err := h.chat.GetUser(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if h.presence != nil {
		user.IsOnline = h.presence.IsOnlineAnywhere(ctx, user.ID)
	}
	return c.JSON(http.StatusOK, user)
}

// Online handles GET /api/presence, listing users connected to this
// instance.
func (h *UserHandler) Online(c echo.Context) error {
	users := []string{}
	if h.presence != nil {
		users = append(users, h.presence.OnlineUsers()...)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"onlineUsers": users,
		"count":       len(users),
	})
}
