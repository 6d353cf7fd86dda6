package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/roomchat/internal/auth"
	"github.com/nfrund/roomchat/internal/chat"
	"github.com/nfrund/roomchat/internal/config"
	"github.com/nfrund/roomchat/internal/database"
	"github.com/nfrund/roomchat/internal/database/memory"
	"github.com/nfrund/roomchat/internal/database/postgres"
	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/handlers"
	"github.com/nfrund/roomchat/internal/presence"
	"github.com/nfrund/roomchat/internal/pubsub"
)

const connectTimeout = 15 * time.Second

// Stores groups the repositories of the configured STORE_DRIVER.
type Stores struct {
	Rooms    domain.RoomRepository
	Messages domain.MessageRepository
	Users    auth.UserStore
	// Ping checks the backing database; nil for the memory store.
	Ping func(ctx context.Context) error
}

// hooks collects shutdown functions and runs them in reverse order.
type hooks struct {
	mu  sync.Mutex
	fns []hook
}

type hook struct {
	name string
	fn   func(context.Context) error
}

func (h *hooks) add(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, hook{name: name, fn: fn})
}

func (h *hooks) run(ctx context.Context) error {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i].fn(ctx); err != nil {
			slog.Error("Shutdown hook failed", "hook", fns[i].name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", fns[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// registerCore provides the infrastructure every module builds on. Services
// are created lazily on first Invoke; each registers its own shutdown hook.
func registerCore(i do.Injector, cfg *config.Config, h *hooks) {
	do.ProvideValue(i, cfg)

	do.Provide(i, func(i do.Injector) (*Stores, error) {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return openStores(ctx, cfg, h)
	})

	do.Provide(i, func(i do.Injector) (trace.Tracer, error) {
		tracer, shutdown, err := pubsub.SetupOTel(context.Background(), pubsub.TracingConfigFrom(cfg))
		if err != nil {
			return nil, err
		}
		h.add("tracing", func(context.Context) error { shutdown(); return nil })
		return tracer, nil
	})

	// The broker carries room events between instances.
	do.Provide(i, func(i do.Injector) (pubsub.Broker, error) {
		tracer := do.MustInvoke[trace.Tracer](i)
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		broker, err := pubsub.NewBroker(ctx, cfg, tracer)
		if err != nil {
			return nil, err
		}
		h.add("broker", func(context.Context) error { return broker.Close() })
		slog.Info("Broker ready", "driver", cfg.BrokerDriver)
		return broker, nil
	})

	// The local bus carries framework events inside this process.
	do.Provide(i, func(i do.Injector) (*pubsub.WatermillBridge, error) {
		bus := pubsub.NewWatermillBridgeWithTracer(do.MustInvoke[trace.Tracer](i))
		h.add("bus", func(context.Context) error { return bus.Close() })
		return bus, nil
	})

	do.Provide(i, func(i do.Injector) (*presence.Tracker, error) {
		bus := do.MustInvoke[*pubsub.WatermillBridge](i)
		opts := []presence.Option{presence.WithOfflineGrace(cfg.PresenceOfflineGrace)}
		if rb, ok := do.MustInvoke[pubsub.Broker](i).(*pubsub.RedisBroker); ok {
			opts = append(opts, presence.WithCluster(presence.NewRedisCluster(rb.Client(), 0), cfg.InstanceID))
		}
		tracker := presence.NewTracker(bus, opts...)
		h.add("presence", func(context.Context) error { tracker.Shutdown(); return nil })
		return tracker, nil
	})

	do.Provide(i, func(i do.Injector) (*auth.JWT, error) {
		return auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer)
	})

	do.Provide(i, func(i do.Injector) (domain.Authenticator, error) {
		jwt := do.MustInvoke[*auth.JWT](i)
		stores := do.MustInvoke[*Stores](i)
		return auth.NewRecording(jwt, stores.Users), nil
	})

	do.Provide(i, func(i do.Injector) (*chat.Service, error) {
		stores := do.MustInvoke[*Stores](i)
		return chat.NewService(stores.Rooms, stores.Messages, stores.Users), nil
	})
}

// healthChecks resolve their service when run, so a provider that failed
// at boot shows up as a failing check.
func healthChecks(i do.Injector) map[string]handlers.HealthCheck {
	return map[string]handlers.HealthCheck{
		"store": func(ctx context.Context) error {
			stores, err := do.Invoke[*Stores](i)
			if err != nil {
				return err
			}
			if stores.Ping == nil {
				return nil
			}
			return stores.Ping(ctx)
		},
		"broker": func(ctx context.Context) error {
			broker, err := do.Invoke[pubsub.Broker](i)
			if err != nil {
				return err
			}
			if p, ok := broker.(pubsub.Pinger); ok {
				return p.Ping(ctx)
			}
			return nil
		},
	}
}

func openStores(ctx context.Context, cfg *config.Config, h *hooks) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreSurreal:
		conn := database.NewConnection(cfg)
		if err := conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		conn.StartMonitoring()
		h.add("surrealdb", conn.Close)

		rooms, err := database.NewRoomStore(conn)
		if err != nil {
			return nil, err
		}
		messages, err := database.NewMessageStore(conn)
		if err != nil {
			return nil, err
		}
		users, err := database.NewUserStore(conn)
		if err != nil {
			return nil, err
		}
		return &Stores{Rooms: rooms, Messages: messages, Users: users, Ping: conn.Ping}, nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		h.add("postgres", func(context.Context) error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		return &Stores{
			Rooms:    postgres.NewRoomStore(pool),
			Messages: postgres.NewMessageStore(pool),
			Users:    postgres.NewUserStore(pool),
			Ping:     pool.Ping,
		}, nil

	default:
		slog.Warn("Using the in-memory store; data is lost on restart")
		st := memory.NewStore()
		return &Stores{Rooms: st.Rooms(), Messages: st.Messages(), Users: st.Users()}, nil
	}
}
