package gateway

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/events"
)

// Session is an authenticated connection. Handle must be called from a
// single goroutine per connection.
type Session struct {
	g        *Gateway
	conn     Conn
	identity domain.Identity
	typing   map[string]*rate.Limiter // roomID -> isTyping=true throttle
	once     sync.Once
	logger   *slog.Logger
}

func newSession(g *Gateway, identity domain.Identity, conn Conn) *Session {
	return &Session{
		g:        g,
		conn:     conn,
		identity: identity,
		typing:   make(map[string]*rate.Limiter),
		logger:   g.logger.With("user_id", identity.UserID, "conn_id", conn.ID()),
	}
}

func (s *Session) Identity() domain.Identity { return s.identity }
func (s *Session) ConnID() string            { return s.conn.ID() }

// Touch records a heartbeat for presence.
func (s *Session) Touch() {
	s.g.presence.Touch(s.identity.UserID, s.conn.ID())
}

// Handle processes one inbound frame. Failures are reported to this
// connection as error frames; they never close it.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	env, err := events.DecodeClient(frame)
	if err != nil {
		s.fail(err, env.RequestID, "")
		return
	}

	switch env.Type {
	case events.KindJoinRoom:
		var p events.JoinRoom
		if err := env.Bind(&p); err != nil {
			s.fail(err, env.RequestID, "")
			return
		}
		s.fail(s.join(ctx, env.RequestID, p.RoomID), env.RequestID, "")
	case events.KindLeaveRoom:
		var p events.LeaveRoom
		if err := env.Bind(&p); err != nil {
			s.fail(err, env.RequestID, "")
			return
		}
		s.leave(env.RequestID, p.RoomID)
	case events.KindSendMessage:
		var p events.SendMessage
		if err := env.Bind(&p); err != nil {
			s.fail(err, env.RequestID, p.ClientTempID)
			return
		}
		s.fail(s.send(ctx, p), env.RequestID, p.ClientTempID)
	case events.KindTyping:
		var p events.Typing
		if err := env.Bind(&p); err != nil {
			s.fail(err, env.RequestID, "")
			return
		}
		s.fail(s.setTyping(ctx, p), env.RequestID, "")
	}
}

func (s *Session) join(ctx context.Context, requestID, roomID string) error {
	room, err := s.g.chat.GetRoom(ctx, s.identity, roomID)
	if err != nil {
		return err
	}
	if err := s.g.joinRoom(roomID, s.conn); err != nil {
		return err
	}
	recent, err := s.g.chat.Recent(ctx, roomID, 0)
	if err != nil {
		return err
	}
	s.reply(events.KindRoomJoined, requestID, events.RoomJoinedEvent{Room: room, Messages: recent})
	s.logger.DebugContext(ctx, "Joined room", "room_id", roomID)
	return nil
}

func (s *Session) leave(requestID, roomID string) {
	s.g.leaveRoom(roomID, s.conn.ID())
	delete(s.typing, roomID)
	s.reply(events.KindRoomLeft, requestID, events.RoomLeftEvent{RoomID: roomID})
}

func (s *Session) send(ctx context.Context, p events.SendMessage) error {
	msg, err := s.g.chat.SendMessage(ctx, s.identity, p.RoomID, p.Content)
	if err != nil {
		return err
	}
	ev := events.NewMessageEvent{Message: *msg, RoomID: p.RoomID, ClientTempID: p.ClientTempID}
	if err := s.g.publish(ctx, p.RoomID, s.identity.UserID, events.KindNewMessage, ev, ""); err != nil {
		// Stored but not broadcast; the sender still gets its confirmation.
		s.logger.ErrorContext(ctx, "Failed to publish new message", "room_id", p.RoomID, "message_id", msg.ID, "error", err)
		s.reply(events.KindNewMessage, "", ev)
		return nil
	}
	if !s.g.hub.InRoom(p.RoomID, s.conn.ID()) {
		s.reply(events.KindNewMessage, "", ev)
	}
	return nil
}

func (s *Session) setTyping(ctx context.Context, p events.Typing) error {
	if !s.g.hub.InRoom(p.RoomID, s.conn.ID()) {
		if _, err := s.g.chat.GetRoom(ctx, s.identity, p.RoomID); err != nil {
			return err
		}
	}
	if p.IsTyping && !s.typingLimiter(p.RoomID).Allow() {
		return nil
	}
	return s.g.publish(ctx, p.RoomID, s.identity.UserID, events.KindUserTyping, events.UserTypingEvent{
		UserID:   s.identity.UserID,
		Username: s.identity.Username,
		RoomID:   p.RoomID,
		IsTyping: p.IsTyping,
	}, s.conn.ID())
}

func (s *Session) typingLimiter(roomID string) *rate.Limiter {
	l, ok := s.typing[roomID]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.g.typing), 1)
		s.typing[roomID] = l
	}
	return l
}

// Disconnect leaves every room and removes the connection from presence.
// It is safe to call more than once.
func (s *Session) Disconnect() {
	s.once.Do(func() {
		s.g.leaveAll(s.conn.ID())
		s.g.forget(s.conn.ID())
		last := s.g.presence.RemoveConnection(s.identity.UserID, s.conn.ID())
		s.logger.Info("Session disconnected", "last", last)
	})
}

func (s *Session) reply(kind events.Kind, requestID string, payload any) {
	frame, err := events.Encode(kind, requestID, payload)
	if err != nil {
		s.logger.Error("Failed to encode frame", "kind", kind, "error", err)
		return
	}
	if !s.conn.Send(frame) {
		s.logger.Warn("Connection buffer full, dropping frame", "kind", kind)
	}
}

// fail sends err to this connection. A nil err is ignored.
func (s *Session) fail(err error, requestID, clientTempID string) {
	if err == nil {
		return
	}
	if domain.Code(err) == domain.CodeInternal {
		s.logger.Error("Request failed", "request_id", requestID, "error", err)
	} else {
		s.logger.Debug("Request rejected", "request_id", requestID, "error", err)
	}
	if !s.conn.Send(events.NewError(err, requestID, clientTempID)) {
		s.logger.Warn("Connection buffer full, dropping error frame")
	}
}
