package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/middleware"
)

// SessionHandler stores a verified credential in the cookie session for
// browser clients.
type SessionHandler struct {
	auth domain.Authenticator
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(auth domain.Authenticator) *SessionHandler {
	return &SessionHandler{auth: auth}
}

// Create handles POST /api/session.
func (h *SessionHandler) Create(c echo.Context) error {
	var req SessionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	id, err := h.auth.VerifyCredential(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	if err := middleware.SaveSessionToken(c, req.Token); err != nil {
		return err
	}
	middleware.FromContext(c.Request().Context()).Info("Session created", "user_id", id.UserID)
	return c.JSON(http.StatusCreated, IdentityResponse{UserID: id.UserID, Username: id.Username})
}

// Delete handles DELETE /api/session.
func (h *SessionHandler) Delete(c echo.Context) error {
	if err := middleware.ClearSession(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
