package database

import (
	"context"

	"github.com/nfrund/roomchat/internal/domain"
)

// RoomStore implements domain.RoomRepository on SurrealDB.
type RoomStore struct {
	rooms  *Client[roomRecord]
	counts *Client[countRecord]
}

var _ domain.RoomRepository = (*RoomStore)(nil)

// NewRoomStore creates a new room repository over conn.
func NewRoomStore(conn DBConnection) (*RoomStore, error) {
	rooms, err := NewClient[roomRecord](conn)
	if err != nil {
		return nil, err
	}
	counts, err := NewClient[countRecord](conn)
	if err != nil {
		return nil, err
	}
	return &RoomStore{rooms: rooms, counts: counts}, nil
}

// Create inserts r. Names are unique among rooms that are not soft-deleted.
func (s *RoomStore) Create(ctx context.Context, r *domain.Room) (*domain.Room, error) {
	if r == nil {
		return nil, domain.Validationf("room cannot be nil")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = domain.NewID()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	if err := s.ensureNameFree(ctx, r.Name, ""); err != nil {
		return nil, err
	}
	existing, err := s.find(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.Conflictf("room %s already exists", r.ID)
	}

	rows, err := s.rooms.Write(ctx, "CREATE type::thing($tb, $id) CONTENT $data", map[string]any{
		"tb":   roomTable,
		"id":   r.ID,
		"data": roomContent(r),
	})
	if err != nil {
		return nil, WrapError(err, "failed to create room")
	}
	if len(rows) == 0 {
		return nil, NewDBError(ErrQueryFailed, "create returned no room")
	}
	return rows[0].toDomain(), nil
}

func (s *RoomStore) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.NotFoundf("room %s", id)
	}
	return rec.toDomain(), nil
}

// Update replaces the mutable fields of r and bumps updated_at.
func (s *RoomStore) Update(ctx context.Context, r *domain.Room) (*domain.Room, error) {
	if r == nil {
		return nil, domain.Validationf("room cannot be nil")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	cur, err := s.FindByID(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if !r.IsDeleted {
		if err := s.ensureNameFree(ctx, r.Name, r.ID); err != nil {
			return nil, err
		}
	}

	next := r.Clone()
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = domain.Now()
	return s.save(ctx, next)
}

func (s *RoomStore) AddParticipant(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	return s.mutate(ctx, roomID, func(r *domain.Room) bool { return r.AddParticipant(userID) })
}

func (s *RoomStore) RemoveParticipant(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	return s.mutate(ctx, roomID, func(r *domain.Room) bool { return r.RemoveParticipant(userID) })
}

// UpdateLastMessage points the room at messageID. An empty id clears it.
func (s *RoomStore) UpdateLastMessage(ctx context.Context, roomID, messageID string) error {
	if _, err := s.FindByID(ctx, roomID); err != nil {
		return err
	}
	var last *string
	if messageID != "" {
		last = &messageID
	}
	err := s.rooms.Execute(ctx,
		"UPDATE type::thing($tb, $id) SET last_message_id = $last, updated_at = $now",
		map[string]any{
			"tb":   roomTable,
			"id":   roomID,
			"last": last,
			"now":  dateTime(domain.Now()),
		})
	return WrapError(err, "failed to update last message")
}

// FindByParticipant lists the non-deleted rooms userID belongs to, most
// recently active first.
func (s *RoomStore) FindByParticipant(ctx context.Context, userID string, opts domain.PageOptions) (domain.Page[domain.Room], error) {
	opts = opts.Normalize()
	params := map[string]any{
		"user":  userID,
		"limit": opts.Limit,
		"start": opts.Offset,
	}
	rows, err := s.rooms.Query(ctx,
		"SELECT * FROM room WHERE participant_ids CONTAINS $user AND is_deleted = false ORDER BY updated_at DESC, id ASC LIMIT $limit START $start",
		params)
	if err != nil {
		return domain.Page[domain.Room]{}, WrapError(err, "failed to list rooms")
	}
	total, err := s.counts.QueryOne(ctx,
		"SELECT count() AS total FROM room WHERE participant_ids CONTAINS $user AND is_deleted = false GROUP ALL",
		params)
	if err != nil {
		return domain.Page[domain.Room]{}, WrapError(err, "failed to count rooms")
	}

	items := make([]domain.Room, 0, len(rows))
	for i := range rows {
		items = append(items, *rows[i].toDomain())
	}
	n := 0
	if total != nil {
		n = total.Total
	}
	return domain.NewPage(items, n, opts), nil
}

func (s *RoomStore) SoftDelete(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, id, func(r *domain.Room) bool {
		if r.IsDeleted {
			return false
		}
		r.IsDeleted = true
		return true
	})
	return err
}

// Delete removes the room and every message in it.
func (s *RoomStore) Delete(ctx context.Context, id string) error {
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	err := s.rooms.Execute(ctx,
		"BEGIN TRANSACTION; DELETE message WHERE room_id = $id; DELETE type::thing($tb, $id); COMMIT TRANSACTION;",
		map[string]any{"tb": roomTable, "id": id})
	return WrapError(err, "failed to delete room")
}

func (s *RoomStore) find(ctx context.Context, id string) (*roomRecord, error) {
	rec, err := s.rooms.QueryOne(ctx, "SELECT * FROM type::thing($tb, $id)",
		map[string]any{"tb": roomTable, "id": id})
	if err != nil {
		return nil, WrapError(err, "failed to find room")
	}
	return rec, nil
}

// mutate loads the room, applies fn and persists only when fn reports a
// change, bumping updated_at.
func (s *RoomStore) mutate(ctx context.Context, id string, fn func(*domain.Room) bool) (*domain.Room, error) {
	r, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !fn(r) {
		return r, nil
	}
	r.UpdatedAt = domain.Now()
	return s.save(ctx, r)
}

func (s *RoomStore) save(ctx context.Context, r *domain.Room) (*domain.Room, error) {
	rows, err := s.rooms.Write(ctx, "UPDATE type::thing($tb, $id) CONTENT $data", map[string]any{
		"tb":   roomTable,
		"id":   r.ID,
		"data": roomContent(r),
	})
	if err != nil {
		return nil, WrapError(err, "failed to save room")
	}
	if len(rows) == 0 {
		return nil, domain.NotFoundf("room %s", r.ID)
	}
	return rows[0].toDomain(), nil
}

func (s *RoomStore) ensureNameFree(ctx context.Context, name, exceptID string) error {
	if exceptID == "" {
		exceptID = "-"
	}
	rec, err := s.counts.QueryOne(ctx,
		"SELECT count() AS total FROM room WHERE name = $name AND is_deleted = false AND id != type::thing($tb, $except) GROUP ALL",
		map[string]any{"name": name, "tb": roomTable, "except": exceptID})
	if err != nil {
		return WrapError(err, "failed to check room name")
	}
	if rec != nil && rec.Total > 0 {
		return domain.Conflictf("room name %q already exists", name)
	}
	return nil
}
