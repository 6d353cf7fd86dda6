package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/roomchat/internal/chat"
	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/events"
)

// RoomHandler serves the room routes.
type RoomHandler struct {
	chat      *chat.Service
	publisher RoomPublisher
}

// NewRoomHandler creates a new RoomHandler. publisher may be nil.
func NewRoomHandler(svc *chat.Service, publisher RoomPublisher) *RoomHandler {
	return &RoomHandler{chat: svc, publisher: publisher}
}

// Create handles POST /api/rooms.
func (h *RoomHandler) Create(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	var in chat.CreateRoomInput
	if err := bindValid(c, &in); err != nil {
		return err
	}
	room, err := h.chat.CreateRoom(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, room)
}

// List handles GET /api/rooms.
func (h *RoomHandler) List(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	var opts domain.PageOptions
	if err := bindValid(c, &opts); err != nil {
		return err
	}
	page, err := h.chat.ListRooms(c.Request().Context(), id, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// Get handles GET /api/rooms/:id.
func (h *RoomHandler) Get(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	room, err := h.chat.GetRoom(c.Request().Context(), id, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, room)
}

// Update handles PATCH /api/rooms/:id.
func (h *RoomHandler) Update(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	var patch chat.RoomPatch
	if err := bindValid(c, &patch); err != nil {
		return err
	}
	room, err := h.chat.UpdateRoom(c.Request().Context(), id, c.Param("id"), patch)
	if err != nil {
		return err
	}
	broadcast(c, h.publisher, room.ID, events.KindRoomUpdated, events.RoomUpdatedEvent{Room: room})
	return c.JSON(http.StatusOK, room)
}

// Delete handles DELETE /api/rooms/:id[?hard=true].
func (h *RoomHandler) Delete(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	hard, err := boolQuery(c, "hard")
	if err != nil {
		return err
	}
	room, err := h.chat.DeleteRoom(c.Request().Context(), id, c.Param("id"), hard)
	if err != nil {
		return err
	}
	broadcast(c, h.publisher, room.ID, events.KindRoomUpdated, events.RoomUpdatedEvent{Room: room})
	return c.NoContent(http.StatusNoContent)
}

// AddParticipant handles POST /api/rooms/:id/participants.
func (h *RoomHandler) AddParticipant(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	var req AddParticipantRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	room, added, err := h.chat.AddParticipant(c.Request().Context(), id, c.Param("id"), req.UserID)
	if err != nil {
		return err
	}
	if added {
		broadcast(c, h.publisher, room.ID, events.KindParticipantAdded, events.ParticipantAddedEvent{
			RoomID: room.ID, UserID: req.UserID, Room: room,
		})
	}
	return c.JSON(http.StatusOK, room)
}

// RemoveParticipant handles DELETE /api/rooms/:id/participants/:userId.
func (h *RoomHandler) RemoveParticipant(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	userID := c.Param("userId")
	room, removed, err := h.chat.RemoveParticipant(c.Request().Context(), id, c.Param("id"), userID)
	if err != nil {
		return err
	}
	if removed {
		broadcast(c, h.publisher, room.ID, events.KindParticipantRemoved, events.ParticipantRemovedEvent{
			RoomID: room.ID, UserID: userID,
		})
	}
	return c.JSON(http.StatusOK, room)
}

// Messages handles GET /api/rooms/:id/messages.
func (h *RoomHandler) Messages(c echo.Context) error {
	id, err := identityFrom(c)
	if err != nil {
		return err
	}
	var opts domain.PageOptions
	if err := bindValid(c, &opts); err != nil {
		return err
	}
	page, err := h.chat.History(c.Request().Context(), id, c.Param("id"), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func boolQuery(c echo.Context, name string) (bool, error) {
	v := c.QueryParam(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, domain.Validationf("%s must be a boolean", name)
	}
	return b, nil
}
