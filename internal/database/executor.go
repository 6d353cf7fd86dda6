package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// Query executes a raw SurrealQL query with parameters and returns the rows
// of the first statement.
//
// Example:
//
//	query := "SELECT * FROM message WHERE room_id = $room"
//	rows, err := Query[messageRecord](ctx, db, query, map[string]any{"room": roomID})
func Query[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) ([]T, error) {
	queryResults, err := surrealdb.Query[[]T](ctx, db, query, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	if queryResults == nil || len(*queryResults) == 0 {
		return nil, nil
	}
	return (*queryResults)[0].Result, nil
}

// QueryOne executes a query and returns a single result.
// If no results are found, it returns nil, nil.
func QueryOne[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) (*T, error) {
	// CREATE/UPDATE/DELETE statements don't support LIMIT.
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") && !hasLimitClause(query) {
		query += " LIMIT 1"
	}

	results, err := Query[T](ctx, db, query, params)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// Execute runs a query whose rows are not needed.
func Execute(ctx context.Context, db *surrealdb.DB, query string, params map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, db, query, params); err != nil {
		return fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return nil
}

// hasLimitClause checks if the query already has a LIMIT clause
func hasLimitClause(query string) bool {
	query = " " + strings.ToUpper(query) + " "
	return strings.Contains(query, " LIMIT ")
}

// Client runs typed queries through a managed connection, applying the
// configured read and write timeouts unless the context overrides them.
type Client[T any] struct {
	conn           DBConnection
	queryTimeout   time.Duration
	executeTimeout time.Duration
}

// NewClient creates a typed client over conn.
func NewClient[T any](conn DBConnection) (*Client[T], error) {
	if conn == nil {
		return nil, NewDBError(ErrInvalidInput, "connection is required")
	}
	return &Client[T]{
		conn:           conn,
		queryTimeout:   positiveOr(conn.GetDBQueryTimeout(), 5*time.Second),
		executeTimeout: positiveOr(conn.GetDBExecuteTimeout(), 10*time.Second),
	}, nil
}

func (c *Client[T]) Query(ctx context.Context, query string, params map[string]any) ([]T, error) {
	ctx, cancel := getTimeoutFromContext(ctx, c.queryTimeout, ContextKeyQueryTimeout)
	defer cancel()

	var out []T
	err := c.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		out, err = Query[T](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, NewDBError(err, "query").WithQuery(query).WithParams(params)
	}
	return out, nil
}

func (c *Client[T]) QueryOne(ctx context.Context, query string, params map[string]any) (*T, error) {
	ctx, cancel := getTimeoutFromContext(ctx, c.queryTimeout, ContextKeyQueryTimeout)
	defer cancel()

	var out *T
	err := c.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		out, err = QueryOne[T](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, NewDBError(err, "query one").WithQuery(query).WithParams(params)
	}
	return out, nil
}

// Write runs a mutating statement and returns the affected rows.
func (c *Client[T]) Write(ctx context.Context, query string, params map[string]any) ([]T, error) {
	ctx, cancel := getTimeoutFromContext(ctx, c.executeTimeout, ContextKeyExecuteTimeout)
	defer cancel()

	var out []T
	err := c.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		out, err = Query[T](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, NewDBError(err, "write").WithQuery(query).WithParams(params)
	}
	return out, nil
}

func (c *Client[T]) Execute(ctx context.Context, query string, params map[string]any) error {
	ctx, cancel := getTimeoutFromContext(ctx, c.executeTimeout, ContextKeyExecuteTimeout)
	defer cancel()

	err := c.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, query, params)
	})
	if err != nil {
		return NewDBError(err, "execute").WithQuery(query).WithParams(params)
	}
	return nil
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
