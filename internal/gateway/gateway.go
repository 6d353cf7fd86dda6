// Package gateway is the transport-agnostic chat session layer. It
// authenticates connections, tracks their presence, routes client frames to
// the chat service and fans room events out through the broker and the
// local hub.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/roomchat/internal/chat"
	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/events"
	"github.com/nfrund/roomchat/internal/hub"
	"github.com/nfrund/roomchat/internal/presence"
	"github.com/nfrund/roomchat/internal/pubsub"
	"github.com/nfrund/roomchat/internal/topicmgr"
)

// DefaultTypingInterval is the minimum spacing of isTyping=true frames per
// connection and room.
const DefaultTypingInterval = time.Second

// Broker metadata keys.
const (
	metaKind       = "kind"
	metaExceptConn = "except_conn"
)

// Conn is one client connection as seen by the gateway. Send must not block.
type Conn interface {
	hub.Subscriber
	Close(reason string)
}

// Presence is the part of the presence tracker the gateway drives.
type Presence interface {
	RegisterConnection(userID, connID string) bool
	RemoveConnection(userID, connID string) bool
	Touch(userID, connID string)
}

// Dependencies holds everything the gateway needs.
type Dependencies struct {
	Auth     domain.Authenticator
	Chat     *chat.Service
	Presence Presence
	// Broker carries room events between instances.
	Broker pubsub.Broker
	// Bus is the local bus the presence tracker publishes on.
	Bus            pubsub.Subscriber
	Hub            *hub.Hub
	TypingInterval time.Duration
}

// Gateway owns the sessions and room subscriptions of this instance.
type Gateway struct {
	auth     domain.Authenticator
	chat     *chat.Service
	presence Presence
	broker   pubsub.Broker
	bus      pubsub.Subscriber
	hub      *hub.Hub
	typing   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	subsMu   sync.Mutex
	roomSubs map[string]*roomSub // roomID -> broker subscription

	sessMu   sync.RWMutex
	sessions map[string]*Session // connID -> session

	logger *slog.Logger
}

// New creates a gateway. Start must be called before connections are
// accepted.
func New(deps Dependencies) *Gateway {
	if deps.Hub == nil {
		deps.Hub = hub.NewHub()
	}
	if deps.TypingInterval <= 0 {
		deps.TypingInterval = DefaultTypingInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		auth:     deps.Auth,
		chat:     deps.Chat,
		presence: deps.Presence,
		broker:   deps.Broker,
		bus:      deps.Bus,
		hub:      deps.Hub,
		typing:   deps.TypingInterval,
		ctx:      ctx,
		cancel:   cancel,
		roomSubs: make(map[string]*roomSub),
		sessions: make(map[string]*Session),
		logger:   slog.Default().With("component", "gateway"),
	}
}

// Start subscribes to presence transitions so they reach the rooms of the
// user concerned.
func (g *Gateway) Start(ctx context.Context) error {
	if g.bus == nil {
		return nil
	}
	if err := pubsub.Subscribe(g.ctx, g.bus, presence.UserOnline, func(ctx context.Context, ev presence.StatusEvent) error {
		return g.relayPresence(ctx, ev.UserID, events.KindUserOnline, events.UserOnlineEvent{UserID: ev.UserID})
	}); err != nil {
		return fmt.Errorf("subscribe to %s: %w", presence.UserOnline.Name(), err)
	}
	if err := pubsub.Subscribe(g.ctx, g.bus, presence.UserOffline, func(ctx context.Context, ev presence.StatusEvent) error {
		return g.relayPresence(ctx, ev.UserID, events.KindUserOffline, events.UserOfflineEvent{UserID: ev.UserID})
	}); err != nil {
		return fmt.Errorf("subscribe to %s: %w", presence.UserOffline.Name(), err)
	}
	g.logger.InfoContext(ctx, "Gateway started")
	return nil
}

// Shutdown closes every session and cancels all subscriptions.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.sessMu.RLock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.sessMu.RUnlock()

	for _, s := range sessions {
		s.conn.Close("server shutting down")
		s.Disconnect()
	}
	g.cancel()
	g.logger.InfoContext(ctx, "Gateway stopped", "sessions", len(sessions))
	return nil
}

// Connect authenticates credential and registers conn. On failure no state
// is created and the error wraps domain.ErrAuth.
func (g *Gateway) Connect(ctx context.Context, credential string, conn Conn) (*Session, error) {
	if credential == "" {
		return nil, domain.Authf("missing credential")
	}
	identity, err := g.auth.VerifyCredential(ctx, credential)
	if err != nil {
		if !errors.Is(err, domain.ErrAuth) {
			err = fmt.Errorf("%w: %v", domain.ErrAuth, err)
		}
		return nil, err
	}

	s := newSession(g, identity, conn)
	g.sessMu.Lock()
	g.sessions[conn.ID()] = s
	g.sessMu.Unlock()

	first := g.presence.RegisterConnection(identity.UserID, conn.ID())
	g.logger.InfoContext(ctx, "Session connected", "user_id", identity.UserID, "conn_id", conn.ID(), "first", first)
	return s, nil
}

// Sessions returns the number of open sessions.
func (g *Gateway) Sessions() int {
	g.sessMu.RLock()
	defer g.sessMu.RUnlock()
	return len(g.sessions)
}

// Publish sends a server event to every connection joined to roomID on any
// instance.
func (g *Gateway) Publish(ctx context.Context, roomID string, kind events.Kind, payload any) error {
	return g.publish(ctx, roomID, "", kind, payload, "")
}

func (g *Gateway) publish(ctx context.Context, roomID, userID string, kind events.Kind, payload any, exceptConn string) error {
	frame, err := events.Encode(kind, "", payload)
	if err != nil {
		return err
	}
	md := map[string]string{metaKind: string(kind)}
	if exceptConn != "" {
		md[metaExceptConn] = exceptConn
	}
	return g.broker.Publish(ctx, pubsub.Message{
		Topic:    topicmgr.Room(roomID),
		UserID:   userID,
		Payload:  frame,
		Metadata: md,
	})
}

// roomSub is the broker subscription of one room. ready is closed once the
// subscribe call has returned; err is only read after that.
type roomSub struct {
	cancel context.CancelFunc
	ready  chan struct{}
	err    error
}

// joinRoom adds s to roomID, subscribing this instance to the room topic
// when no subscription exists yet. The broker is never called with subsMu
// held: a broker handler may be blocked in evict waiting for it.
func (g *Gateway) joinRoom(roomID string, s hub.Subscriber) error {
	g.subsMu.Lock()
	g.hub.Join(roomID, s)
	sub, ok := g.roomSubs[roomID]
	if ok {
		g.subsMu.Unlock()
		<-sub.ready
		if sub.err != nil {
			g.leaveRoom(roomID, s.ID())
			return fmt.Errorf("subscribe to room %s: %w", roomID, sub.err)
		}
		return nil
	}
	ctx, cancel := context.WithCancel(g.ctx)
	sub = &roomSub{cancel: cancel, ready: make(chan struct{})}
	g.roomSubs[roomID] = sub
	g.subsMu.Unlock()

	sub.err = g.broker.Subscribe(ctx, topicmgr.Room(roomID), g.deliver(roomID))
	close(sub.ready)
	if sub.err != nil {
		g.subsMu.Lock()
		if g.roomSubs[roomID] == sub {
			delete(g.roomSubs, roomID)
		}
		g.subsMu.Unlock()
		cancel()
		g.leaveRoom(roomID, s.ID())
		return fmt.Errorf("subscribe to room %s: %w", roomID, sub.err)
	}
	g.logger.Debug("Subscribed to room", "room_id", roomID)
	return nil
}

// leaveRoom removes connID from roomID and drops the room subscription once
// nobody local is left.
func (g *Gateway) leaveRoom(roomID, connID string) {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	if g.hub.Leave(roomID, connID) {
		g.unsubscribeLocked(roomID)
	}
}

func (g *Gateway) leaveAll(connID string) {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	for _, roomID := range g.hub.LeaveAll(connID) {
		g.unsubscribeLocked(roomID)
	}
}

func (g *Gateway) unsubscribeLocked(roomID string) {
	if sub, ok := g.roomSubs[roomID]; ok {
		sub.cancel()
		delete(g.roomSubs, roomID)
		g.logger.Debug("Unsubscribed from room", "room_id", roomID)
	}
}

// subscribedRooms returns the number of rooms with an active broker
// subscription.
func (g *Gateway) subscribedRooms() int {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	return len(g.roomSubs)
}

// deliver hands broker messages for roomID to the local hub. Membership
// changes that revoke access also evict the affected local connections.
func (g *Gateway) deliver(roomID string) pubsub.Handler {
	return func(ctx context.Context, msg pubsub.Message) error {
		g.hub.Broadcast(roomID, msg.Payload, msg.Metadata[metaExceptConn])

		switch events.Kind(msg.Metadata[metaKind]) {
		case events.KindParticipantRemoved:
			var ev events.ParticipantRemovedEvent
			if err := decodePayload(msg.Payload, &ev); err != nil {
				return err
			}
			g.evict(roomID, func(s *Session) bool { return s.identity.UserID == ev.UserID })
		case events.KindRoomUpdated:
			var ev events.RoomUpdatedEvent
			if err := decodePayload(msg.Payload, &ev); err != nil {
				return err
			}
			if ev.Room != nil && ev.Room.IsDeleted {
				g.evict(roomID, func(*Session) bool { return true })
			}
		}
		return nil
	}
}

func (g *Gateway) evict(roomID string, match func(*Session) bool) {
	g.sessMu.RLock()
	var targets []*Session
	for _, s := range g.sessions {
		if match(s) && g.hub.InRoom(roomID, s.conn.ID()) {
			targets = append(targets, s)
		}
	}
	g.sessMu.RUnlock()

	for _, s := range targets {
		g.leaveRoom(roomID, s.conn.ID())
		s.reply(events.KindRoomLeft, "", events.RoomLeftEvent{RoomID: roomID})
		g.logger.Info("Connection evicted from room", "room_id", roomID, "conn_id", s.conn.ID(), "user_id", s.identity.UserID)
	}
}

// relayPresence publishes a presence frame to every room of userID.
func (g *Gateway) relayPresence(ctx context.Context, userID string, kind events.Kind, payload any) error {
	roomIDs, err := g.chat.RoomIDsOf(ctx, userID)
	if err != nil {
		return fmt.Errorf("list rooms of %s: %w", userID, err)
	}
	var errs []error
	for _, roomID := range roomIDs {
		if err := g.publish(ctx, roomID, userID, kind, payload, ""); err != nil {
			errs = append(errs, err)
		}
	}
	g.logger.DebugContext(ctx, "Presence relayed", "user_id", userID, "kind", kind, "rooms", len(roomIDs))
	return errors.Join(errs...)
}

func (g *Gateway) forget(connID string) {
	g.sessMu.Lock()
	delete(g.sessions, connID)
	g.sessMu.Unlock()
}

func decodePayload(frame []byte, v any) error {
	env, err := events.Decode(frame)
	if err != nil {
		return err
	}
	return json.Unmarshal(env.Payload, v)
}
