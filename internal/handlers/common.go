package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/events"
	"github.com/nfrund/roomchat/internal/middleware"
)

// RoomPublisher broadcasts server events to the connections joined to a
// room. The gateway implements it.
type RoomPublisher interface {
	Publish(ctx context.Context, roomID string, kind events.Kind, payload any) error
}

// identityFrom returns the caller verified by middleware.Auth.
func identityFrom(c echo.Context) (domain.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return domain.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	return id, nil
}

// bindValid binds the request into v and validates it.
func bindValid(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return domain.Validationf("invalid request format")
	}
	return c.Validate(v)
}

// broadcast publishes a room event after a committed change. Failures are
// logged; the change itself already succeeded.
func broadcast(c echo.Context, pub RoomPublisher, roomID string, kind events.Kind, payload any) {
	if pub == nil {
		return
	}
	ctx := c.Request().Context()
	if err := pub.Publish(ctx, roomID, kind, payload); err != nil {
		middleware.FromContext(ctx).Warn("Failed to broadcast room event", "room_id", roomID, "kind", kind, "error", err)
	}
}
