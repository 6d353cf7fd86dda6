// Package postgres implements the chat repositories on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nfrund/roomchat/internal/database"
	"github.com/nfrund/roomchat/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	username    TEXT NOT NULL,
	avatar_url  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rooms (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	avatar_url      TEXT NOT NULL DEFAULT '',
	author_id       TEXT NOT NULL,
	participant_ids TEXT[] NOT NULL DEFAULT '{}',
	last_message_id TEXT,
	is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS rooms_live_name_idx ON rooms (name) WHERE NOT is_deleted;
CREATE INDEX IF NOT EXISTS rooms_participants_idx ON rooms USING GIN (participant_ids);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	content     TEXT NOT NULL,
	author_id   TEXT NOT NULL,
	room_id     TEXT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at, id);
CREATE INDEX IF NOT EXISTS messages_author_created_idx ON messages (author_id, created_at, id);
`

// NewPool opens a connection pool and verifies it with a ping.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	slog.InfoContext(ctx, "Connected to PostgreSQL", "event", "pg_connect_success")
	return pool, nil
}

// Migrate creates the chat tables when they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return database.NewDBError(err, "failed to apply schema")
	}
	return nil
}

// mapError translates driver errors into the domain taxonomy. Anything
// unrecognised becomes a DBError.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFoundf("%s", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return domain.Conflictf("%s: %s", what, pgErr.ConstraintName)
		case "23503":
			return domain.Validationf("%s: %s", what, pgErr.Detail)
		}
	}
	return database.NewDBError(err, what)
}
