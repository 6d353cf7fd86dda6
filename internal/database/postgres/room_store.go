package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nfrund/roomchat/internal/domain"
)

const roomColumns = "id, name, avatar_url, author_id, participant_ids, last_message_id, is_deleted, created_at, updated_at"

// RoomStore implements domain.RoomRepository on PostgreSQL. Name uniqueness
// among live rooms is enforced by a partial unique index.
type RoomStore struct {
	pool *pgxpool.Pool
}

var _ domain.RoomRepository = (*RoomStore)(nil)

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

func scanRoom(row pgx.Row) (domain.Room, error) {
	var r domain.Room
	err := row.Scan(&r.ID, &r.Name, &r.AvatarURL, &r.AuthorID, &r.ParticipantIDs,
		&r.LastMessageID, &r.IsDeleted, &r.CreatedAt, &r.UpdatedAt)
	if r.ParticipantIDs == nil {
		r.ParticipantIDs = []string{}
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, err
}

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

	row := s.pool.QueryRow(ctx,
		"INSERT INTO rooms ("+roomColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING "+roomColumns,
		r.ID, r.Name, r.AvatarURL, r.AuthorID, r.ParticipantIDs, r.LastMessageID, r.IsDeleted, r.CreatedAt, r.UpdatedAt)
	out, err := scanRoom(row)
	if err != nil {
		return nil, mapError(err, "room "+r.Name)
	}
	return &out, nil
}

func (s *RoomStore) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = $1", id)
	r, err := scanRoom(row)
	if err != nil {
		return nil, mapError(err, "room "+id)
	}
	return &r, nil
}

func (s *RoomStore) Update(ctx context.Context, r *domain.Room) (*domain.Room, error) {
	if r == nil {
		return nil, domain.Validationf("room cannot be nil")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE rooms
		SET name = $2, avatar_url = $3, participant_ids = $4, last_message_id = $5, is_deleted = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+roomColumns,
		r.ID, r.Name, r.AvatarURL, r.ParticipantIDs, r.LastMessageID, r.IsDeleted, domain.Now())
	out, err := scanRoom(row)
	if err != nil {
		return nil, mapError(err, "room "+r.ID)
	}
	return &out, nil
}

func (s *RoomStore) AddParticipant(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	return s.mutate(ctx, roomID, `
		UPDATE rooms SET participant_ids = array_append(participant_ids, $2), updated_at = $3
		WHERE id = $1 AND NOT ($2 = ANY (participant_ids))
		RETURNING `+roomColumns, userID)
}

func (s *RoomStore) RemoveParticipant(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	return s.mutate(ctx, roomID, `
		UPDATE rooms SET participant_ids = array_remove(participant_ids, $2), updated_at = $3
		WHERE id = $1 AND $2 = ANY (participant_ids)
		RETURNING `+roomColumns, userID)
}

func (s *RoomStore) UpdateLastMessage(ctx context.Context, roomID, messageID string) error {
	var last *string
	if messageID != "" {
		last = &messageID
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE rooms SET last_message_id = $2, updated_at = $3 WHERE id = $1",
		roomID, last, domain.Now())
	if err != nil {
		return mapError(err, "room "+roomID)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("room %s", roomID)
	}
	return nil
}

func (s *RoomStore) FindByParticipant(ctx context.Context, userID string, opts domain.PageOptions) (domain.Page[domain.Room], error) {
	opts = opts.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM rooms WHERE $1 = ANY (participant_ids) AND NOT is_deleted", userID).Scan(&total); err != nil {
		return domain.Page[domain.Room]{}, mapError(err, "count rooms")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE $1 = ANY (participant_ids) AND NOT is_deleted
		ORDER BY updated_at DESC, id ASC
		LIMIT $2 OFFSET $3`, userID, opts.Limit, opts.Offset)
	if err != nil {
		return domain.Page[domain.Room]{}, mapError(err, "list rooms")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Room, error) {
		return scanRoom(row)
	})
	if err != nil {
		return domain.Page[domain.Room]{}, mapError(err, "list rooms")
	}
	return domain.NewPage(items, total, opts), nil
}

func (s *RoomStore) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE rooms SET is_deleted = TRUE, updated_at = $2 WHERE id = $1 AND NOT is_deleted", id, domain.Now())
	if err != nil {
		return mapError(err, "room "+id)
	}
	if tag.RowsAffected() == 0 {
		_, err = s.FindByID(ctx, id)
		return err
	}
	return nil
}

// Delete removes the room; its messages go with it through the foreign key.
func (s *RoomStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return mapError(err, "room "+id)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("room %s", id)
	}
	return nil
}

// mutate runs a conditional update taking ($1 room, $2 arg, $3 now). When
// the condition filters the row out the call is a no-op and the current
// room is returned.
func (s *RoomStore) mutate(ctx context.Context, roomID, query, arg string) (*domain.Room, error) {
	row := s.pool.QueryRow(ctx, query, roomID, arg, domain.Now())
	r, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.FindByID(ctx, roomID)
	}
	if err != nil {
		return nil, mapError(err, "room "+roomID)
	}
	return &r, nil
}
