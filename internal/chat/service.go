// Package chat holds the room and message operations shared by the socket
// gateway and the REST handlers, with their authorization rules.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nfrund/roomchat/internal/domain"
)

// DefaultJoinHistory is how many recent messages accompany a room join.
const DefaultJoinHistory = 50

// Service implements the chat operations on top of the stores.
type Service struct {
	rooms    domain.RoomRepository
	messages domain.MessageRepository
	users    domain.UserDirectory
	locks    *roomLocks
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a chat service. users may be nil, in which case
// authors are described by their identity alone.
func NewService(rooms domain.RoomRepository, messages domain.MessageRepository, users domain.UserDirectory, opts ...Option) *Service {
	s := &Service{
		rooms:    rooms,
		messages: messages,
		users:    users,
		locks:    newRoomLocks(),
		now:      domain.Now,
		logger:   slog.Default().With("component", "chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoomInput describes a new room.
type CreateRoomInput struct {
	Name           string   `json:"name" validate:"notblank,max=100"`
	AvatarURL      string   `json:"avatarUrl" validate:"omitempty,url"`
	ParticipantIDs []string `json:"participantIds" validate:"dive,notblank"`
}

// RoomPatch holds the room fields to change. Nil fields are left alone.
type RoomPatch struct {
	Name      *string `json:"name" validate:"omitempty,notblank,max=100"`
	AvatarURL *string `json:"avatarUrl" validate:"omitempty"`
}

func (s *Service) CreateRoom(ctx context.Context, actor domain.Identity, in CreateRoomInput) (*domain.Room, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}
	for _, id := range in.ParticipantIDs {
		if id != actor.UserID {
			if err := s.requireUser(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	room, err := domain.NewRoom(in.Name, in.AvatarURL, actor.UserID, in.ParticipantIDs, s.now())
	if err != nil {
		return nil, err
	}
	created, err := s.rooms.Create(ctx, room)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Room created", "room_id", created.ID, "user_id", actor.UserID)
	return created, nil
}

// GetRoom returns a live room the actor participates in.
func (s *Service) GetRoom(ctx context.Context, actor domain.Identity, roomID string) (*domain.Room, error) {
	room, err := s.liveRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(actor.UserID) {
		return nil, domain.Forbiddenf("not a participant of room %s", roomID)
	}
	return room, nil
}

func (s *Service) ListRooms(ctx context.Context, actor domain.Identity, opts domain.PageOptions) (domain.Page[domain.Room], error) {
	return s.rooms.FindByParticipant(ctx, actor.UserID, opts.Normalize())
}

// RoomIDsOf returns the ids of every live room userID participates in.
func (s *Service) RoomIDsOf(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	opts := domain.PageOptions{Limit: domain.MaxPageLimit}
	for {
		page, err := s.rooms.FindByParticipant(ctx, userID, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Items {
			ids = append(ids, r.ID)
		}
		if !page.HasMore || len(page.Items) == 0 {
			return ids, nil
		}
		opts.Offset += len(page.Items)
	}
}

// UpdateRoom changes name or avatar. Author only.
func (s *Service) UpdateRoom(ctx context.Context, actor domain.Identity, roomID string, patch RoomPatch) (*domain.Room, error) {
	if err := domain.Validate(patch); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.authoredRoom(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	next := room.Clone()
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.AvatarURL != nil {
		next.AvatarURL = *patch.AvatarURL
	}
	if next.Name == room.Name && next.AvatarURL == room.AvatarURL {
		return room, nil
	}
	return s.rooms.Update(ctx, next)
}

// RenameRoom is UpdateRoom for the name alone.
func (s *Service) RenameRoom(ctx context.Context, actor domain.Identity, roomID, name string) (*domain.Room, error) {
	return s.UpdateRoom(ctx, actor, roomID, RoomPatch{Name: &name})
}

// AddParticipant lets any participant add a known user. It reports whether
// the user was newly added.
func (s *Service) AddParticipant(ctx context.Context, actor domain.Identity, roomID, userID string) (*domain.Room, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, false, domain.Validationf("userId is required")
	}
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.GetRoom(ctx, actor, roomID)
	if err != nil {
		return nil, false, err
	}
	if room.HasParticipant(userID) {
		return room, false, nil
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, false, err
	}
	updated, err := s.rooms.AddParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// RemoveParticipant removes userID from the room. Users may remove
// themselves; removing anyone else takes the author. The author cannot be
// removed. Removing a non-participant is a no-op.
func (s *Service) RemoveParticipant(ctx context.Context, actor domain.Identity, roomID, userID string) (*domain.Room, bool, error) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.liveRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	if actor.UserID != userID && actor.UserID != room.AuthorID {
		return nil, false, domain.Forbiddenf("only the room author can remove other participants")
	}
	if userID == room.AuthorID {
		return nil, false, domain.Forbiddenf("the room author cannot be removed")
	}
	if !room.HasParticipant(userID) {
		return room, false, nil
	}
	updated, err := s.rooms.RemoveParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// DeleteRoom soft-deletes the room, or removes it with its messages when
// hard is set. Author only. The returned room reflects the deletion.
func (s *Service) DeleteRoom(ctx context.Context, actor domain.Identity, roomID string, hard bool) (*domain.Room, error) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.authoredRoom(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if hard {
		err = s.rooms.Delete(ctx, roomID)
	} else {
		err = s.rooms.SoftDelete(ctx, roomID)
	}
	if err != nil {
		return nil, err
	}
	room.IsDeleted = true
	s.logger.Info("Room deleted", "room_id", roomID, "user_id", actor.UserID, "hard", hard)
	return room, nil
}

// History pages through a room's messages with their authors.
func (s *Service) History(ctx context.Context, actor domain.Identity, roomID string, opts domain.PageOptions) (domain.Page[domain.MessageWithAuthor], error) {
	if _, err := s.GetRoom(ctx, actor, roomID); err != nil {
		return domain.Page[domain.MessageWithAuthor]{}, err
	}
	page, err := s.messages.FindByRoomID(ctx, roomID, opts.Normalize())
	if err != nil {
		return domain.Page[domain.MessageWithAuthor]{}, err
	}
	return domain.Page[domain.MessageWithAuthor]{
		Items:   s.withAuthors(ctx, page.Items),
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore,
	}, nil
}

// Recent returns up to n of the room's most recent visible messages, oldest
// first. Access must already have been checked with GetRoom.
func (s *Service) Recent(ctx context.Context, roomID string, n int) ([]domain.MessageWithAuthor, error) {
	if n <= 0 {
		n = DefaultJoinHistory
	}
	page, err := s.messages.FindVisibleByRoomID(ctx, roomID, domain.PageOptions{
		Limit: n,
		Order: domain.OrderDesc,
	})
	if err != nil {
		return nil, err
	}
	recent := slices.Clone(page.Items)
	slices.Reverse(recent)
	return s.withAuthors(ctx, recent), nil
}

// SendMessage persists content from the actor and advances the room's last
// message pointer unless a newer message already holds it.
func (s *Service) SendMessage(ctx context.Context, actor domain.Identity, roomID, content string) (*domain.MessageWithAuthor, error) {
	if err := domain.ValidateContent(content); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(roomID)
	defer unlock()

	if _, err := s.GetRoom(ctx, actor, roomID); err != nil {
		return nil, err
	}

	msg, err := domain.NewMessage(roomID, actor.UserID, content, s.now())
	if err != nil {
		return nil, err
	}
	created, err := s.messages.Create(ctx, msg)
	if err != nil {
		return nil, err
	}

	// The message is stored; a failed pointer update leaves a stale pointer,
	// which readers tolerate.
	if err := s.advanceLastMessage(ctx, roomID, created); err != nil {
		s.logger.Warn("Failed to advance last message", "room_id", roomID, "message_id", created.ID, "error", err)
	}

	return &domain.MessageWithAuthor{
		Message: *created,
		Author:  domain.AuthorOf(ctx, s.users, actor),
	}, nil
}

// advanceLastMessage must be called with the room lock held.
func (s *Service) advanceLastMessage(ctx context.Context, roomID string, m *domain.Message) error {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.LastMessageID != nil {
		current, err := s.messages.FindByID(ctx, *room.LastMessageID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if !m.Newer(current) {
			return nil
		}
	}
	return s.rooms.UpdateLastMessage(ctx, roomID, m.ID)
}

// EditMessage replaces the content of the actor's own message. It runs
// under the room lock so a concurrent delete or restore is never undone.
func (s *Service) EditMessage(ctx context.Context, actor domain.Identity, messageID, content string) (*domain.Message, error) {
	if err := domain.ValidateContent(content); err != nil {
		return nil, err
	}
	msg, err := s.ownMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(msg.RoomID)
	defer unlock()

	if msg, err = s.messages.FindByID(ctx, messageID); err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, domain.Validationf("message %s is deleted", messageID)
	}
	if msg.Content == content {
		return msg, nil
	}
	msg.Content = content
	return s.messages.Update(ctx, msg)
}

// DeleteMessage soft-deletes a message. Allowed for the message author and
// the room author.
func (s *Service) DeleteMessage(ctx context.Context, actor domain.Identity, messageID string) (*domain.Message, error) {
	msg, err := s.moderatedMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(msg.RoomID)
	defer unlock()
	return s.messages.MarkAsDeleted(ctx, messageID)
}

// RestoreMessage undoes DeleteMessage under the same permissions.
func (s *Service) RestoreMessage(ctx context.Context, actor domain.Identity, messageID string) (*domain.Message, error) {
	msg, err := s.moderatedMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(msg.RoomID)
	defer unlock()
	return s.messages.Restore(ctx, messageID)
}

// PurgeMessage physically removes the actor's own message. When the room
// points at it, the pointer first moves back to the newest remaining
// message, or is cleared.
func (s *Service) PurgeMessage(ctx context.Context, actor domain.Identity, messageID string) (*domain.Message, error) {
	msg, err := s.ownMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(msg.RoomID)
	defer unlock()

	room, err := s.rooms.FindByID(ctx, msg.RoomID)
	if err != nil {
		return nil, err
	}
	if room.LastMessageID != nil && *room.LastMessageID == messageID {
		prev, err := s.previousMessage(ctx, msg)
		if err != nil {
			return nil, err
		}
		if err := s.rooms.UpdateLastMessage(ctx, room.ID, prev); err != nil {
			return nil, err
		}
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return nil, err
	}
	s.logger.Info("Message purged", "room_id", msg.RoomID, "message_id", messageID, "user_id", actor.UserID)
	return msg, nil
}

// previousMessage returns the id of the newest message in m's room other
// than m, or "" when there is none.
func (s *Service) previousMessage(ctx context.Context, m *domain.Message) (string, error) {
	page, err := s.messages.FindByRoomID(ctx, m.RoomID, domain.PageOptions{Limit: 2, Order: domain.OrderDesc})
	if err != nil {
		return "", err
	}
	for _, candidate := range page.Items {
		if candidate.ID != m.ID {
			return candidate.ID, nil
		}
	}
	return "", nil
}

// MessagesByAuthor pages through the actor's own messages.
func (s *Service) MessagesByAuthor(ctx context.Context, actor domain.Identity, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	return s.messages.FindByAuthorID(ctx, actor.UserID, opts.Normalize())
}

// GetUser resolves a user for display.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if s.users == nil {
		return nil, domain.NotFoundf("user %s", id)
	}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.NotFoundf("user %s", id)
	}
	return u, nil
}

// liveRoom loads a room, treating soft-deleted rooms as missing.
func (s *Service) liveRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, domain.Validationf("roomId is required")
	}
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.IsDeleted {
		return nil, domain.NotFoundf("room %s", roomID)
	}
	return room, nil
}

func (s *Service) authoredRoom(ctx context.Context, actor domain.Identity, roomID string) (*domain.Room, error) {
	room, err := s.liveRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.AuthorID != actor.UserID {
		return nil, domain.Forbiddenf("only the room author can do this")
	}
	return room, nil
}

func (s *Service) ownMessage(ctx context.Context, actor domain.Identity, messageID string) (*domain.Message, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != actor.UserID {
		return nil, domain.Forbiddenf("not the author of message %s", messageID)
	}
	return msg, nil
}

func (s *Service) moderatedMessage(ctx context.Context, actor domain.Identity, messageID string) (*domain.Message, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID == actor.UserID {
		return msg, nil
	}
	room, err := s.liveRoom(ctx, msg.RoomID)
	if err != nil {
		return nil, err
	}
	if room.AuthorID != actor.UserID {
		return nil, domain.Forbiddenf("not allowed to moderate message %s", messageID)
	}
	return msg, nil
}

func (s *Service) requireUser(ctx context.Context, userID string) error {
	if s.users == nil {
		return nil
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return domain.NotFoundf("user %s", userID)
	}
	return nil
}

// withAuthors attaches author details, looking each author up once.
func (s *Service) withAuthors(ctx context.Context, msgs []domain.Message) []domain.MessageWithAuthor {
	authors := make(map[string]domain.Author)
	out := make([]domain.MessageWithAuthor, 0, len(msgs))
	for _, m := range msgs {
		author, ok := authors[m.AuthorID]
		if !ok {
			author = domain.AuthorOf(ctx, s.users, domain.Identity{UserID: m.AuthorID})
			authors[m.AuthorID] = author
		}
		out = append(out, domain.MessageWithAuthor{Message: m, Author: author})
	}
	return out
}
