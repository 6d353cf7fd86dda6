package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/roomchat/internal/chat"
	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/events"
)

// MessageHandler serves the message routes.
type MessageHandler struct {
	chat      *chat.Service
	publisher RoomPublisher
}

// NewMessageHandler creates a new MessageHandler. publisher may be nil.
func NewMessageHandler(svc *chat.Service, publisher RoomPublisher) *MessageHandler {
	return &MessageHandler{chat: svc, publisher: publisher}
}

// Edit handles PATCH /api/messages/:id.
func (h *MessageHandler) Edit(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	var req EditMessageRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	msg, err := h.chat.EditMessage(c.Request().Context(), id, c.Param("id"), req.Content)
	if err != nil {
		return err
	}
	h.updated(c, msg, false)
	return c.JSON(http.StatusOK, msg)
}

// Delete handles DELETE /api/messages/:id[?purge=true]. Without purge the
// message is soft-deleted and returned.
func (h *MessageHandler) Delete(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	purge, err := boolQuery(c, "purge")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if purge {
		msg, err := h.chat.PurgeMessage(ctx, id, c.Param("id"))
		if err != nil {
			return err
		}
		h.updated(c, msg, true)
		return c.NoContent(http.StatusNoContent)
	}
	msg, err := h.chat.DeleteMessage(ctx, id, c.Param("id"))
	if err != nil {
		return err
	}
	h.updated(c, msg, false)
	return c.JSON(http.StatusOK, msg)
}

// Restore handles POST /api/messages/:id/restore.
func (h *MessageHandler) Restore(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	msg, err := h.chat.RestoreMessage(c.Request().Context(), id, c.Param("id"))
	if err != nil {
		return err
	}
	h.updated(c, msg, false)
	return c.JSON(http.StatusOK, msg)
}

// Mine handles GET /api/me/messages.
func (h *MessageHandler) Mine(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	var opts domain.PageOptions
	if err := bindValid(c, &opts); err != nil {
		return err
	}
	page, err := h.chat.MessagesByAuthor(c.Request().Context(), id, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *MessageHandler) updated(c echo.Context, msg *domain.Message, purged bool) {
	broadcast(c, h.publisher, msg.RoomID, events.KindMessageUpdated, events.MessageUpdatedEvent{
		Message: *msg, RoomID: msg.RoomID, Purged: purged,
	})
}
