package database

import (
	"context"
	"fmt"

	"github.com/nfrund/roomchat/internal/domain"
)

// MessageStore implements domain.MessageRepository on SurrealDB.
type MessageStore struct {
	messages *Client[messageRecord]
	rooms    *Client[roomRecord]
	counts   *Client[countRecord]
}

var _ domain.MessageRepository = (*MessageStore)(nil)

// NewMessageStore creates a new message repository over conn.
func NewMessageStore(conn DBConnection) (*MessageStore, error) {
	messages, err := NewClient[messageRecord](conn)
	if err != nil {
		return nil, err
	}
	rooms, err := NewClient[roomRecord](conn)
	if err != nil {
		return nil, err
	}
	counts, err := NewClient[countRecord](conn)
	if err != nil {
		return nil, err
	}
	return &MessageStore{messages: messages, rooms: rooms, counts: counts}, nil
}

// Create inserts m. The room must exist and not be soft-deleted.
func (s *MessageStore) Create(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	if m == nil {
		return nil, domain.Validationf("message cannot be nil")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	room, err := s.rooms.QueryOne(ctx, "SELECT * FROM type::thing($tb, $id)",
		map[string]any{"tb": roomTable, "id": m.RoomID})
	if err != nil {
		return nil, WrapError(err, "failed to load room for message")
	}
	if room == nil || room.IsDeleted {
		return nil, domain.Validationf("room %s does not exist", m.RoomID)
	}

	if m.ID == "" {
		m.ID = domain.NewID()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	existing, err := s.messages.QueryOne(ctx, "SELECT * FROM type::thing($tb, $id)",
		map[string]any{"tb": messageTable, "id": m.ID})
	if err != nil {
		return nil, WrapError(err, "failed to check message id")
	}
	if existing != nil {
		return nil, domain.Conflictf("message %s already exists", m.ID)
	}

	rows, err := s.messages.Write(ctx, "CREATE type::thing($tb, $id) CONTENT $data", map[string]any{
		"tb":   messageTable,
		"id":   m.ID,
		"data": messageContent(m),
	})
	if err != nil {
		return nil, WrapError(err, "failed to create message")
	}
	if len(rows) == 0 {
		return nil, NewDBError(ErrQueryFailed, "create returned no message")
	}
	return rows[0].toDomain(), nil
}

func (s *MessageStore) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	rec, err := s.messages.QueryOne(ctx, "SELECT * FROM type::thing($tb, $id)",
		map[string]any{"tb": messageTable, "id": id})
	if err != nil {
		return nil, WrapError(err, "failed to find message")
	}
	if rec == nil {
		return nil, domain.NotFoundf("message %s", id)
	}
	return rec.toDomain(), nil
}

func (s *MessageStore) FindByRoomID(ctx context.Context, roomID string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	return s.page(ctx, "room_id = $key", roomID, opts)
}

func (s *MessageStore) FindVisibleByRoomID(ctx context.Context, roomID string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	opts.VisibleOnly = true
	return s.page(ctx, "room_id = $key", roomID, opts)
}

func (s *MessageStore) FindByAuthorID(ctx context.Context, authorID string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	return s.page(ctx, "author_id = $key", authorID, opts)
}

func (s *MessageStore) LatestInRoom(ctx context.Context, roomID string) (*domain.Message, error) {
	rec, err := s.messages.QueryOne(ctx,
		"SELECT * FROM message WHERE room_id = $room ORDER BY created_at DESC, id DESC",
		map[string]any{"room": roomID})
	if err != nil {
		return nil, WrapError(err, "failed to load latest message")
	}
	if rec == nil {
		return nil, nil
	}
	return rec.toDomain(), nil
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
	if _, err := s.FindByID(ctx, m.ID); err != nil {
		return nil, err
	}

	rows, err := s.messages.Write(ctx,
		"UPDATE type::thing($tb, $id) SET content = $content, is_deleted = $deleted, updated_at = $now",
		map[string]any{
			"tb":      messageTable,
			"id":      m.ID,
			"content": m.Content,
			"deleted": m.IsDeleted,
			"now":     dateTime(domain.Now()),
		})
	if err != nil {
		return nil, WrapError(err, "failed to update message")
	}
	if len(rows) == 0 {
		return nil, domain.NotFoundf("message %s", m.ID)
	}
	return rows[0].toDomain(), nil
}

// Delete removes the message. A message still referenced as its room's last
// message cannot be removed.
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	m, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	room, err := s.rooms.QueryOne(ctx, "SELECT * FROM type::thing($tb, $id)",
		map[string]any{"tb": roomTable, "id": m.RoomID})
	if err != nil {
		return WrapError(err, "failed to load room for message")
	}
	if room != nil && room.LastMessageID != nil && *room.LastMessageID == id {
		return domain.Conflictf("message %s is the last message of room %s", id, m.RoomID)
	}
	err = s.messages.Execute(ctx, "DELETE type::thing($tb, $id)",
		map[string]any{"tb": messageTable, "id": id})
	return WrapError(err, "failed to delete message")
}

func (s *MessageStore) setDeleted(ctx context.Context, id string, deleted bool) (*domain.Message, error) {
	cur, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.IsDeleted == deleted {
		return cur, nil
	}

	rows, err := s.messages.Write(ctx,
		"UPDATE type::thing($tb, $id) SET is_deleted = $deleted, updated_at = $now",
		map[string]any{
			"tb":      messageTable,
			"id":      id,
			"deleted": deleted,
			"now":     dateTime(domain.Now()),
		})
	if err != nil {
		return nil, WrapError(err, "failed to toggle message deletion")
	}
	if len(rows) == 0 {
		return nil, domain.NotFoundf("message %s", id)
	}
	return rows[0].toDomain(), nil
}

// page runs a filtered, ordered page query. filter is one of the fixed
// clauses above and binds the caller's key as $key.
func (s *MessageStore) page(ctx context.Context, filter, key string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	opts = opts.Normalize()
	where := filter
	if opts.VisibleOnly {
		where += " AND is_deleted = false"
	}
	params := map[string]any{
		"key":   key,
		"limit": opts.Limit,
		"start": opts.Offset,
	}

	dir := orderKeyword(opts.Order)
	query := fmt.Sprintf("SELECT * FROM message WHERE %s ORDER BY created_at %s, id %s LIMIT $limit START $start", where, dir, dir)
	rows, err := s.messages.Query(ctx, query, params)
	if err != nil {
		return domain.Page[domain.Message]{}, WrapError(err, "failed to list messages")
	}

	total, err := s.count(ctx, fmt.Sprintf("SELECT count() AS total FROM message WHERE %s GROUP ALL", where), params)
	if err != nil {
		return domain.Page[domain.Message]{}, err
	}

	items := make([]domain.Message, 0, len(rows))
	for i := range rows {
		items = append(items, *rows[i].toDomain())
	}
	return domain.NewPage(items, total, opts), nil
}

func (s *MessageStore) count(ctx context.Context, query string, params map[string]any) (int, error) {
	rec, err := s.counts.QueryOne(ctx, query, params)
	if err != nil {
		return 0, WrapError(err, "failed to count messages")
	}
	if rec == nil {
		return 0, nil
	}
	return rec.Total, nil
}
