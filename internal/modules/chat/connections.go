package chat

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/nfrund/roomchat/internal/pubsub"
	"github.com/nfrund/roomchat/internal/websocket"
)

// connectionLog records websocket connections opening and closing, with
// the remote address on open and the connection lifetime on close.
type connectionLog struct {
	active atomic.Int64
	logger *slog.Logger
}

func newConnectionLog(logger *slog.Logger) *connectionLog {
	return &connectionLog{logger: logger}
}

func (l *connectionLog) subscribe(ctx context.Context, bus pubsub.Subscriber) error {
	if err := pubsub.Subscribe(ctx, bus, websocket.ClientConnected, l.opened); err != nil {
		return err
	}
	return pubsub.Subscribe(ctx, bus, websocket.ClientDisconnected, l.closed)
}

func (l *connectionLog) opened(ctx context.Context, ev websocket.ConnectionEvent) error {
	n := l.active.Add(1)
	l.logger.InfoContext(ctx, "WebSocket connection opened",
		"conn_id", ev.ConnID, "user_id", ev.UserID, "remote_ip", ev.RemoteAddr, "active_connections", n)
	return nil
}

func (l *connectionLog) closed(ctx context.Context, ev websocket.ConnectionEvent) error {
	n := l.active.Add(-1)
	l.logger.InfoContext(ctx, "WebSocket connection closed",
		"conn_id", ev.ConnID, "user_id", ev.UserID, "duration", ev.Duration, "active_connections", n)
	return nil
}

// Active returns the number of open websocket connections on this instance.
func (l *connectionLog) Active() int64 {
	return l.active.Load()
}
