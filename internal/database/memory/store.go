// Package memory provides thread-safe in-process implementations of the
// chat repositories. They back single-instance development servers and the
// service, gateway and handler tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/nfrund/roomchat/internal/domain"
)

// Store holds rooms, messages and users behind one lock so message
// creation can check room existence atomically.
type Store struct {
	mu       sync.RWMutex
	rooms    map[string]*domain.Room
	messages map[string]*domain.Message
	byRoom   map[string][]string // roomID -> message ids in insertion order
	users    map[string]*domain.User
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		rooms:    make(map[string]*domain.Room),
		messages: make(map[string]*domain.Message),
		byRoom:   make(map[string][]string),
		users:    make(map[string]*domain.User),
	}
}

// Messages returns the message repository view of the store.
func (s *Store) Messages() *MessageStore { return &MessageStore{s: s} }

// Rooms returns the room repository view of the store.
func (s *Store) Rooms() *RoomStore { return &RoomStore{s: s} }

// Users returns the user directory view of the store.
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

var (
	_ domain.MessageRepository = (*MessageStore)(nil)
	_ domain.RoomRepository    = (*RoomStore)(nil)
	_ domain.UserDirectory     = (*UserStore)(nil)
)

// MessageStore implements domain.MessageRepository.
type MessageStore struct{ s *Store }

func (ms *MessageStore) Create(_ context.Context, m *domain.Message) (*domain.Message, error) {
	if m == nil {
		return nil, domain.Validationf("message cannot be nil")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s := ms.s
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[m.RoomID]
	if !ok || room.IsDeleted {
		return nil, domain.Validationf("room %s does not exist", m.RoomID)
	}
	c := *m
	if c.ID == "" {
		c.ID = domain.NewID()
	}
	if _, exists := s.messages[c.ID]; exists {
		return nil, domain.Conflictf("message %s already exists", c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = domain.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.messages[c.ID] = &c
	s.byRoom[c.RoomID] = append(s.byRoom[c.RoomID], c.ID)
	out := c
	return &out, nil
}

func (ms *MessageStore) FindByID(_ context.Context, id string) (*domain.Message, error) {
	s := ms.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, domain.NotFoundf("message %s", id)
	}
	out := *m
	return &out, nil
}

func (ms *MessageStore) FindByRoomID(_ context.Context, roomID string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	s := ms.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageMessages(s.byRoom[roomID], opts.Normalize()), nil
}

func (ms *MessageStore) FindVisibleByRoomID(ctx context.Context, roomID string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	opts.VisibleOnly = true
	return ms.FindByRoomID(ctx, roomID, opts)
}

func (ms *MessageStore) FindByAuthorID(_ context.Context, authorID string, opts domain.PageOptions) (domain.Page[domain.Message], error) {
	s := ms.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, m := range s.messages {
		if m.AuthorID == authorID {
			ids = append(ids, id)
		}
	}
	return s.pageMessages(ids, opts.Normalize()), nil
}

func (ms *MessageStore) LatestInRoom(_ context.Context, roomID string) (*domain.Message, error) {
	s := ms.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.Message
	for _, id := range s.byRoom[roomID] {
		m := s.messages[id]
		if latest == nil || compareMessages(m, latest) > 0 {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (ms *MessageStore) MarkAsDeleted(_ context.Context, id string) (*domain.Message, error) {
	return ms.s.setDeleted(id, true)
}

func (ms *MessageStore) Restore(_ context.Context, id string) (*domain.Message, error) {
	return ms.s.setDeleted(id, false)
}

func (ms *MessageStore) Update(_ context.Context, m *domain.Message) (*domain.Message, error) {
	if m == nil {
		return nil, domain.Validationf("message cannot be nil")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s := ms.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.messages[m.ID]
	if !ok {
		return nil, domain.NotFoundf("message %s", m.ID)
	}
	cur.Content = m.Content
	cur.IsDeleted = m.IsDeleted
	cur.UpdatedAt = domain.Now()
	out := *cur
	return &out, nil
}

func (ms *MessageStore) Delete(_ context.Context, id string) error {
	s := ms.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.NotFoundf("message %s", id)
	}
	if r, ok := s.rooms[m.RoomID]; ok && r.LastMessageID != nil && *r.LastMessageID == id {
		return domain.Conflictf("message %s is the last message of room %s", id, m.RoomID)
	}
	delete(s.messages, id)
	ids := s.byRoom[m.RoomID]
	if i := slices.Index(ids, id); i >= 0 {
		s.byRoom[m.RoomID] = slices.Delete(ids, i, i+1)
	}
	return nil
}

func (s *Store) setDeleted(id string, deleted bool) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, domain.NotFoundf("message %s", id)
	}
	if m.IsDeleted != deleted {
		m.IsDeleted = deleted
		m.UpdatedAt = domain.Now()
	}
	out := *m
	return &out, nil
}

// pageMessages must be called with the read lock held.
func (s *Store) pageMessages(ids []string, opts domain.PageOptions) domain.Page[domain.Message] {
	all := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		m := s.messages[id]
		if opts.VisibleOnly && m.IsDeleted {
			continue
		}
		all = append(all, *m)
	}
	slices.SortStableFunc(all, func(a, b domain.Message) int {
		c := compareMessages(&a, &b)
		if opts.Order == domain.OrderDesc {
			return -c
		}
		return c
	})
	return domain.Paginate(all, opts)
}

func compareMessages(a, b *domain.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// RoomStore implements domain.RoomRepository.
type RoomStore struct{ s *Store }

func (rs *RoomStore) Create(_ context.Context, r *domain.Room) (*domain.Room, error) {
	if r == nil {
		return nil, domain.Validationf("room cannot be nil")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(r.Name, "") {
		return nil, domain.Conflictf("room name %q already exists", r.Name)
	}
	c := r.Clone()
	if c.ID == "" {
		c.ID = domain.NewID()
	}
	if _, exists := s.rooms[c.ID]; exists {
		return nil, domain.Conflictf("room %s already exists", c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = domain.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.rooms[c.ID] = c
	return c.Clone(), nil
}

func (rs *RoomStore) FindByID(_ context.Context, id string) (*domain.Room, error) {
	s := rs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, domain.NotFoundf("room %s", id)
	}
	return r.Clone(), nil
}

func (rs *RoomStore) Update(_ context.Context, r *domain.Room) (*domain.Room, error) {
	if r == nil {
		return nil, domain.Validationf("room cannot be nil")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[r.ID]
	if !ok {
		return nil, domain.NotFoundf("room %s", r.ID)
	}
	if s.nameTaken(r.Name, r.ID) {
		return nil, domain.Conflictf("room name %q already exists", r.Name)
	}
	cur.Name = r.Name
	cur.AvatarURL = r.AvatarURL
	cur.UpdatedAt = domain.Now()
	return cur.Clone(), nil
}

func (rs *RoomStore) AddParticipant(_ context.Context, roomID, userID string) (*domain.Room, error) {
	return rs.s.mutateRoom(roomID, func(r *domain.Room) bool { return r.AddParticipant(userID) })
}

func (rs *RoomStore) RemoveParticipant(_ context.Context, roomID, userID string) (*domain.Room, error) {
	return rs.s.mutateRoom(roomID, func(r *domain.Room) bool { return r.RemoveParticipant(userID) })
}

func (rs *RoomStore) UpdateLastMessage(_ context.Context, roomID, messageID string) error {
	_, err := rs.s.mutateRoom(roomID, func(r *domain.Room) bool {
		if messageID == "" {
			r.LastMessageID = nil
		} else {
			id := messageID
			r.LastMessageID = &id
		}
		return true
	})
	return err
}

func (rs *RoomStore) FindByParticipant(_ context.Context, userID string, opts domain.PageOptions) (domain.Page[domain.Room], error) {
	s := rs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []domain.Room
	for _, r := range s.rooms {
		if !r.IsDeleted && r.HasParticipant(userID) {
			all = append(all, *r.Clone())
		}
	}
	slices.SortFunc(all, func(a, b domain.Room) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return domain.Paginate(all, opts.Normalize()), nil
}

func (rs *RoomStore) SoftDelete(_ context.Context, id string) error {
	_, err := rs.s.mutateRoom(id, func(r *domain.Room) bool {
		if r.IsDeleted {
			return false
		}
		r.IsDeleted = true
		return true
	})
	return err
}

func (rs *RoomStore) Delete(_ context.Context, id string) error {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return domain.NotFoundf("room %s", id)
	}
	delete(s.rooms, id)
	for _, mid := range s.byRoom[id] {
		delete(s.messages, mid)
	}
	delete(s.byRoom, id)
	return nil
}

// mutateRoom applies fn under the write lock and bumps UpdatedAt when fn
// reports a change.
func (s *Store) mutateRoom(id string, fn func(*domain.Room) bool) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, domain.NotFoundf("room %s", id)
	}
	if fn(r) {
		r.UpdatedAt = domain.Now()
	}
	return r.Clone(), nil
}

// nameTaken must be called with the lock held.
func (s *Store) nameTaken(name, exceptID string) bool {
	for _, r := range s.rooms {
		if r.ID != exceptID && !r.IsDeleted && r.Name == name {
			return true
		}
	}
	return false
}

// UserStore is an in-memory user directory.
type UserStore struct{ s *Store }

// Put inserts or replaces a user.
func (us *UserStore) Put(_ context.Context, u domain.User) error {
	if u.ID == "" {
		return domain.Validationf("user id is required")
	}
	us.s.mu.Lock()
	defer us.s.mu.Unlock()
	c := u
	us.s.users[u.ID] = &c
	return nil
}

func (us *UserStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	us.s.mu.RLock()
	defer us.s.mu.RUnlock()
	u, ok := us.s.users[id]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}
