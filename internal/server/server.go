package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/samber/do/v2"

	"github.com/nfrund/roomchat/internal/config"
	"github.com/nfrund/roomchat/internal/handlers"
	"github.com/nfrund/roomchat/internal/middleware"
	"github.com/nfrund/roomchat/internal/module"
)

const shutdownTimeout = 10 * time.Second

// Server holds the HTTP server, the service container and the modules.
type Server struct {
	E        *echo.Echo
	Injector do.Injector

	cfg     *config.Config
	modules []module.Module
	booted  []module.Module
	hooks   *hooks
	logger  *slog.Logger
}

// New creates a server and registers the core services and modules. Nothing
// connects to external systems until Boot.
func New(cfg *config.Config, modules ...module.Module) (*Server, error) {
	i := do.New()
	h := &hooks{}
	registerCore(i, cfg, h)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	setupErrorHandling(e)

	e.Use(echomw.RequestID())
	e.Use(middleware.Logger)
	e.Use(echomw.Recover())
	e.Use(session.Middleware(newSessionStore(cfg)))

	e.GET("/healthz", handlers.NewHealthHandler(cfg.InstanceID, healthChecks(i)).Get)

	s := &Server{
		E:        e,
		Injector: i,
		cfg:      cfg,
		modules:  modules,
		hooks:    h,
		logger:   slog.Default().With("component", "server"),
	}
	for _, m := range modules {
		if err := m.Register(i); err != nil {
			return nil, fmt.Errorf("register module %s: %w", m.Name(), err)
		}
	}
	return s, nil
}

func newSessionStore(cfg *config.Config) *sessions.CookieStore {
	secret := cfg.SessionSecret
	if secret == "" {
		slog.Warn("SESSION_SECRET is not set; signing sessions with JWT_SECRET")
		secret = cfg.JWTSecret
	}
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// setupErrorHandling renders every error through handlers.ErrorHandler and
// logs unexpected ones with a stack trace.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var he *echo.HTTPError
		if !errors.As(err, &he) && handlers.StatusFor(err) >= http.StatusInternalServerError {
			middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
				"error", err,
				"stack_trace", string(debug.Stack()),
			)
		}
		handlers.ErrorHandler(err, c)
	}
}

// Boot boots the modules in order. On failure the modules already booted
// stay registered for Shutdown.
func (s *Server) Boot(ctx context.Context) error {
	root := s.E.Group("")
	for _, m := range s.modules {
		s.logger.Info("Booting module", "module", m.Name())
		if err := m.Boot(ctx, root, s.Injector); err != nil {
			return fmt.Errorf("boot module %s: %w", m.Name(), err)
		}
		s.booted = append(s.booted, m)
	}
	return nil
}

// Run boots the modules, serves until ctx is done or SIGINT/SIGTERM arrives,
// then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	if err := s.Boot(ctx); err != nil {
		runErr = err
	} else {
		errCh := make(chan error, 1)
		go func() {
			s.logger.Info("Server listening", "addr", s.cfg.AppAddr, "instance_id", s.cfg.InstanceID)
			if err := s.E.Start(s.cfg.AppAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		select {
		case <-ctx.Done():
			s.logger.Info("Shutdown signal received")
		case err := <-errCh:
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, s.Shutdown(shutdownCtx))
}

// Shutdown stops the HTTP server, then the booted modules in reverse order,
// then the core services.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	for i := len(s.booted) - 1; i >= 0; i-- {
		m := s.booted[i]
		if err := m.Shutdown(ctx); err != nil {
			s.logger.Error("Module shutdown failed", "module", m.Name(), "error", err)
			errs = append(errs, fmt.Errorf("module %s: %w", m.Name(), err))
		}
	}
	s.booted = nil
	if err := s.hooks.run(ctx); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("Server stopped")
	return errors.Join(errs...)
}
