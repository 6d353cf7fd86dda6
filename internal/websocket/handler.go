// Package websocket serves the chat gateway over coder/websocket.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/roomchat/internal/gateway"
	"github.com/nfrund/roomchat/internal/middleware"
	"github.com/nfrund/roomchat/internal/presence"
	"github.com/nfrund/roomchat/internal/pubsub"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to wait for the pong answering a ping.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Presence treats two missed pings
	// as a dead connection.
	pingPeriod = presence.DefaultWebSocketPingInterval

	// Maximum inbound frame size.
	maxMessageSize = 64 << 10

	defaultSendBuffer = 256
)

// Handler upgrades requests to websocket connections and runs a gateway
// session on each.
type Handler struct {
	gateway    *gateway.Gateway
	bus        pubsub.Publisher
	origins    []string
	bufferSize int
	pingPeriod time.Duration
	logger     *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithOriginPatterns allows cross-origin handshakes from the given host
// patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.origins = patterns
	}
}

// WithSendBuffer sets how many outbound frames may queue per connection.
func WithSendBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithPingPeriod overrides the keep-alive ping interval.
func WithPingPeriod(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingPeriod = d
		}
	}
}

// WithBus publishes ClientConnected and ClientDisconnected on bus.
func WithBus(bus pubsub.Publisher) Option {
	return func(h *Handler) {
		h.bus = bus
	}
}

// NewHandler creates a websocket handler for gw.
func NewHandler(gw *gateway.Gateway, opts ...Option) *Handler {
	h := &Handler{
		gateway:    gw,
		bufferSize: defaultSendBuffer,
		pingPeriod: pingPeriod,
		logger:     slog.Default().With("component", "websocket"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve authenticates the request and, on success, upgrades it. Failed
// authentication is answered before the upgrade and leaves no state.
func (h *Handler) Serve(c echo.Context) error {
	r := c.Request()
	conn := newConn(uuid.NewString(), h.bufferSize)

	session, err := h.gateway.Connect(r.Context(), middleware.Credential(c), conn)
	if err != nil {
		return err
	}

	ws, err := websocket.Accept(c.Response(), r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		session.Disconnect()
		h.logger.Error("Failed to upgrade connection to WebSocket", "conn_id", conn.ID(), "error", err)
		return nil
	}
	ws.SetReadLimit(maxMessageSize)

	identity := session.Identity()
	started := time.Now()
	h.publish(ClientConnected, identity.UserID, ConnectionEvent{
		ConnID:     conn.ID(),
		UserID:     identity.UserID,
		RemoteAddr: c.RealIP(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ctx, ws, conn, session)
	}()

	h.readPump(ctx, ws, session)

	cancel()
	session.Disconnect()
	conn.Close("connection closed")
	<-done
	_ = ws.CloseNow()

	h.publish(ClientDisconnected, identity.UserID, ConnectionEvent{
		ConnID:   conn.ID(),
		UserID:   identity.UserID,
		Duration: time.Since(started),
	})
	return nil
}

// readPump hands inbound frames to the session one at a time until the
// connection fails or closes.
func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, session *gateway.Session) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				h.logger.Info("WebSocket closed normally", "conn_id", session.ConnID(), "user_id", session.Identity().UserID)
			case errors.Is(err, context.Canceled):
			default:
				h.logger.Debug("WebSocket read ended", "conn_id", session.ConnID(), "status", status, "error", err)
			}
			return
		}
		session.Handle(ctx, data)
	}
}

// writePump writes queued frames and pings the peer. A successful ping
// counts as a presence heartbeat.
func (h *Handler) writePump(ctx context.Context, ws *websocket.Conn, c *conn, session *gateway.Session) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.C():
			if !ok {
				_ = ws.Close(websocket.StatusGoingAway, c.closeReason())
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := ws.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug("WebSocket write failed", "conn_id", c.ID(), "error", err)
				_ = ws.CloseNow()
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, pongWait)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				h.logger.Debug("WebSocket ping failed", "conn_id", c.ID(), "error", err)
				_ = ws.CloseNow()
				return
			}
			session.Touch()

		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) publish(event pubsub.Event[ConnectionEvent], userID string, ev ConnectionEvent) {
	if h.bus == nil {
		return
	}
	if err := pubsub.Publish(context.Background(), h.bus, event, userID, ev); err != nil {
		h.logger.Warn("Failed to publish connection event", "event", event.Name(), "error", err)
	}
}
