package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nfrund/roomchat/internal/domain"
)

const messageColumns = "id, content, author_id, room_id, is_deleted, created_at, updated_at"

// MessageStore implements domain.MessageRepository on PostgreSQL.
type MessageStore struct {
	pool *pgxpool.Pool
}

var _ domain.MessageRepository = (*MessageStore)(nil)

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.Content, &m.AuthorID, &m.RoomID, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, err
}

// Create inserts m only when its room exists and is not soft-deleted.
func (s *MessageStore) Create(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	if m == nil {
		return nil, domain.Validationf("message cannot be nil")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.ID == "" {
		m.ID = domain.NewID()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (SELECT 1 FROM rooms WHERE id = $4 AND NOT is_deleted)
		RETURNING `+messageColumns,
		m.ID, m.Content, m.AuthorID, m.RoomID, m.IsDeleted, m.CreatedAt, m.UpdatedAt)
	out, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Validationf("room %s does not exist", m.RoomID)
	}
	if err != nil {
		return nil, mapError(err, "message "+m.ID)
	}
	return &out, nil
}

func (s *MessageStore) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = $1", id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, mapError(err, "message "+id)
	}
	return &m, nil
}

func (s *MessageStore) FindByRoomID(ctx context.Context, roomID string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	return s.page(ctx, "room_id = $1", roomID, opts)
}

func (s *MessageStore) FindVisibleByRoomID(ctx context.Context, roomID string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	opts.VisibleOnly = true
	return s.page(ctx, "room_id = $1", roomID, opts)
}

func (s *MessageStore) FindByAuthorID(ctx context.Context, authorID string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	return s.page(ctx, "author_id = $1", authorID, opts)
}

func (s *MessageStore) LatestInRoom(ctx context.Context, roomID string) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1", roomID)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "latest message in room "+roomID)
	}
	return &m, nil
}

func (s *MessageStore) MarkAsDeleted(ctx context.Context, id string) (*domain.Message, error) {
	return s.setDeleted(ctx, id, true)
}

func (s *MessageStore) Restore(ctx context.Context, id string) (*domain.Message, error) {
	return s.setDeleted(ctx, id, false)
}

func (s *MessageStore) Update(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	if m == nil {
		return nil, domain.Validationf("message cannot be nil")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		"UPDATE messages SET content = $2, is_deleted = $3, updated_at = $4 WHERE id = $1 RETURNING "+messageColumns,
		m.ID, m.Content, m.IsDeleted, domain.Now())
	out, err := scanMessage(row)
	if err != nil {
		return nil, mapError(err, "message "+m.ID)
	}
	return &out, nil
}

// Delete removes the message unless its room still points at it.
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages m
		WHERE m.id = $1
		  AND NOT EXISTS (SELECT 1 FROM rooms r WHERE r.id = m.room_id AND r.last_message_id = m.id)`, id)
	if err != nil {
		return mapError(err, "message "+id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	m, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return domain.Conflictf("message %s is the last message of room %s", id, m.RoomID)
}

// setDeleted only bumps updated_at when the flag actually changes.
func (s *MessageStore) setDeleted(ctx context.Context, id string, deleted bool) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx,
		"UPDATE messages SET is_deleted = $2, updated_at = $3 WHERE id = $1 AND is_deleted <> $2 RETURNING "+messageColumns,
		id, deleted, domain.Now())
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.FindByID(ctx, id)
	}
	if err != nil {
		return nil, mapError(err, "message "+id)
	}
	return &m, nil
}

func (s *MessageStore) page(ctx context.Context, filter, key string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	opts = opts.Normalize()
	where := filter
	if opts.VisibleOnly {
		where += " AND NOT is_deleted"
	}
	dir := "ASC"
	if opts.Order == domain.OrderDesc {
		dir = "DESC"
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM messages WHERE "+where, key).Scan(&total); err != nil {
		return domain.Page[domain.Message]{}, mapError(err, "count messages")
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM messages WHERE %s ORDER BY created_at %s, id %s LIMIT $2 OFFSET $3",
			messageColumns, where, dir, dir),
		key, opts.Limit, opts.Offset)
	if err != nil {
		return domain.Page[domain.Message]{}, mapError(err, "list messages")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return domain.Page[domain.Message]{}, mapError(err, "list messages")
	}
	return domain.NewPage(items, total, opts), nil
}
