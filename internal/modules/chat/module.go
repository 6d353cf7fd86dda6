// Package chat is the application module exposing rooms and messages over
// REST and the websocket gateway.
package chat

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"

	chatsvc "github.com/nfrund/roomchat/internal/chat"
	"github.com/nfrund/roomchat/internal/config"
	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/gateway"
	"github.com/nfrund/roomchat/internal/handlers"
	"github.com/nfrund/roomchat/internal/middleware"
	"github.com/nfrund/roomchat/internal/module"
	"github.com/nfrund/roomchat/internal/presence"
	"github.com/nfrund/roomchat/internal/pubsub"
	"github.com/nfrund/roomchat/internal/websocket"
)

// ChatModule implements the module.Module interface for the chat feature.
type ChatModule struct {
	module.BaseModule
	gateway *gateway.Gateway
	conns   *connectionLog
	logger  *slog.Logger
}

// New creates a new instance of the ChatModule.
func New() *ChatModule {
	logger := slog.Default().With("component", "chat_module")
	return &ChatModule{conns: newConnectionLog(logger), logger: logger}
}

// Name returns the module name.
func (m *ChatModule) Name() string {
	return "chat"
}

// Register provides the gateway.
func (m *ChatModule) Register(i do.Injector) error {
	do.Provide(i, func(i do.Injector) (*gateway.Gateway, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return gateway.New(gateway.Dependencies{
			Auth:           do.MustInvoke[domain.Authenticator](i),
			Chat:           do.MustInvoke[*chatsvc.Service](i),
			Presence:       do.MustInvoke[*presence.Tracker](i),
			Broker:         do.MustInvoke[pubsub.Broker](i),
			Bus:            do.MustInvoke[*pubsub.WatermillBridge](i),
			TypingInterval: cfg.TypingInterval,
		}), nil
	})
	return nil
}

// Boot starts the gateway and mounts the websocket endpoint and the REST
// routes.
func (m *ChatModule) Boot(ctx context.Context, g *echo.Group, i do.Injector) error {
	gw, err := do.Invoke[*gateway.Gateway](i)
	if err != nil {
		return err
	}
	if err := gw.Start(ctx); err != nil {
		return err
	}
	m.gateway = gw

	authn := do.MustInvoke[domain.Authenticator](i)
	svc := do.MustInvoke[*chatsvc.Service](i)
	tracker := do.MustInvoke[*presence.Tracker](i)
	bus := do.MustInvoke[*pubsub.WatermillBridge](i)
	if err := m.conns.subscribe(ctx, bus); err != nil {
		return err
	}

	m.logger.Info("Booting ChatModule: Setting up routes...")
	g.GET("/ws", websocket.NewHandler(gw, websocket.WithBus(bus)).Serve)

	limit := middleware.RateLimiter(middleware.DefaultRequestsPerMinute)
	sessions := handlers.NewSessionHandler(authn)
	api := g.Group("/api")
	api.POST("/session", sessions.Create, limit)
	api.DELETE("/session", sessions.Delete)

	rooms := handlers.NewRoomHandler(svc, gw)
	messages := handlers.NewMessageHandler(svc, gw)
	users := handlers.NewUserHandler(svc, tracker)

	authed := api.Group("", middleware.Auth(authn), limit)
	authed.POST("/rooms", rooms.Create)
	authed.GET("/rooms", rooms.List)
	authed.GET("/rooms/:id", rooms.Get)
	authed.PATCH("/rooms/:id", rooms.Update)
	authed.DELETE("/rooms/:id", rooms.Delete)
	authed.POST("/rooms/:id/participants", rooms.AddParticipant)
	authed.DELETE("/rooms/:id/participants/:userId", rooms.RemoveParticipant)
	authed.GET("/rooms/:id/messages", rooms.Messages)

	authed.PATCH("/messages/:id", messages.Edit)
	authed.DELETE("/messages/:id", messages.Delete)
	authed.POST("/messages/:id/restore", messages.Restore)
	authed.GET("/me/messages", messages.Mine)

	authed.GET("/users/:id", users.Get)
	authed.GET("/presence", users.Online)
	return nil
}

// Shutdown closes every session of this instance.
func (m *ChatModule) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down ChatModule...")
	if m.gateway == nil {
		return nil
	}
	return m.gateway.Shutdown(ctx)
}
