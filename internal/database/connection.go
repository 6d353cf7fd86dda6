package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/nfrund/roomchat/internal/config"
)

const (
	defaultHealthInterval = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// DBConnection is a managed SurrealDB connection. Stores run their queries
// through WithConnection so a dropped socket is re-established transparently.
type DBConnection interface {
	WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsHealthy() bool
	StartMonitoring()
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

// Backoff retries an operation with exponentially growing delays.
type Backoff struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter adds up to a quarter of each delay at random.
	Jitter bool
}

// DefaultBackoff gives up after six attempts spread over roughly three
// seconds.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Retry calls fn until it succeeds, the retries run out or ctx is done.
func (b Backoff) Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt >= b.MaxRetries {
			return fmt.Errorf("operation failed after %d attempts: %w", attempt+1, lastErr)
		}

		delay := b.delay(attempt)
		slog.DebugContext(ctx, "Retrying database operation",
			"attempt", attempt+1, "delay", delay, "error", lastErr)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (b Backoff) delay(attempt int) time.Duration {
	d := math.Min(float64(b.BaseDelay)*math.Pow(b.Multiplier, float64(attempt)), float64(b.MaxDelay))
	if b.Jitter {
		d += rand.Float64() * d * 0.25
	}
	return time.Duration(d)
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithBackoff sets the policy used to reconnect after a lost connection.
func WithBackoff(b Backoff) ConnectionOption {
	return func(c *Connection) { c.backoff = b }
}

// WithHealthInterval sets how often StartMonitoring pings the server.
func WithHealthInterval(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		if d > 0 {
			c.healthInterval = d
		}
	}
}

// Connection is a SurrealDB connection that pings itself in the background
// and reconnects when the socket is lost.
type Connection struct {
	cfg            config.Provider
	backoff        Backoff
	healthInterval time.Duration

	mu      sync.RWMutex
	db      *surrealdb.DB
	healthy bool

	done chan struct{}
	once sync.Once
}

var _ DBConnection = (*Connection)(nil)

// NewConnection creates an unconnected Connection; call Connect before use.
func NewConnection(cfg config.Provider, opts ...ConnectionOption) *Connection {
	c := &Connection{
		cfg:            cfg,
		backoff:        DefaultBackoff(),
		healthInterval: defaultHealthInterval,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials, signs in and selects the namespace. It is a no-op when
// already connected.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return nil
	}
	return c.dialLocked(ctx)
}

// WithConnection runs fn against the live connection. When fn fails with a
// transport error the connection is re-dialled and fn retried under the
// backoff policy; any other error is returned unchanged.
func (c *Connection) WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error {
	db := c.current()
	if db == nil {
		return NewDBError(ErrNotConnected, "database not connected")
	}

	err := fn(db)
	if err == nil || !isConnectionError(err) {
		return err
	}

	slog.WarnContext(ctx, "Lost database connection, reconnecting",
		"error", err, "db_url", redactDBURL(c.cfg.GetDBURL()))
	return c.backoff.Retry(ctx, func() error {
		if rerr := c.redial(ctx); rerr != nil {
			return fmt.Errorf("reconnect: %w (after %v)", rerr, err)
		}
		return fn(c.current())
	})
}

// StartMonitoring pings the server every health interval until Close.
func (c *Connection) StartMonitoring() {
	go c.monitor()
}

// Ping checks the server answers and records the result for IsHealthy.
func (c *Connection) Ping(ctx context.Context) error {
	db := c.current()
	if db == nil {
		c.setHealthy(false)
		return NewDBError(ErrNotConnected, "database not connected")
	}
	if _, err := db.Version(ctx); err != nil {
		c.setHealthy(false)
		return fmt.Errorf("ping %s: %w", redactDBURL(c.cfg.GetDBURL()), err)
	}
	c.setHealthy(true)
	return nil
}

// Close stops monitoring and closes the socket.
func (c *Connection) Close(ctx context.Context) error {
	c.once.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close(ctx)
	c.db = nil
	c.healthy = false
	return err
}

// IsHealthy reports the outcome of the last dial or ping.
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Connection) GetDBQueryTimeout() time.Duration   { return c.cfg.GetDBQueryTimeout() }
func (c *Connection) GetDBExecuteTimeout() time.Duration { return c.cfg.GetDBExecuteTimeout() }

func (c *Connection) current() *surrealdb.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

func (c *Connection) redial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked(ctx)
}

func (c *Connection) dialLocked(ctx context.Context) error {
	if c.db != nil {
		_ = c.db.Close(ctx)
		c.db = nil
	}
	c.healthy = false

	dbURL := redactDBURL(c.cfg.GetDBURL())
	db, err := surrealdb.FromEndpointURLString(ctx, c.cfg.GetDBURL())
	if err != nil {
		return fmt.Errorf("connect to %s: %w", dbURL, err)
	}
	if _, err := db.SignIn(ctx, &surrealdb.Auth{Username: c.cfg.GetDBUser(), Password: c.cfg.GetDBPass()}); err != nil {
		_ = db.Close(ctx)
		return fmt.Errorf("sign in to %s as %s: %w", dbURL, c.cfg.GetDBUser(), err)
	}
	if err := db.Use(ctx, c.cfg.GetDBNs(), c.cfg.GetDBDb()); err != nil {
		_ = db.Close(ctx)
		return fmt.Errorf("use %s/%s: %w", c.cfg.GetDBNs(), c.cfg.GetDBDb(), err)
	}

	c.db = db
	c.healthy = true
	slog.DebugContext(ctx, "Database connection established",
		"db_url", dbURL, "namespace", c.cfg.GetDBNs(), "database", c.cfg.GetDBDb())
	return nil
}

func (c *Connection) monitor() {
	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			if err := c.Ping(ctx); err != nil {
				slog.Warn("Database health check failed, reconnecting", "error", err)
				if err := c.backoff.Retry(ctx, func() error { return c.redial(ctx) }); err != nil {
					slog.Error("Database reconnect failed", "error", err)
				}
			}
			cancel()
		}
	}
}

func (c *Connection) setHealthy(v bool) {
	c.mu.Lock()
	c.healthy = v
	c.mu.Unlock()
}

// isConnectionError reports whether err looks like a lost connection rather
// than a failed statement.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "broken pipe", "unexpected eof", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func redactDBURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
