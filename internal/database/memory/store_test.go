package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/roomchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(t *testing.T, s *Store, name, author string, others ...string) *domain.Room {
	t.Helper()
	r, err := domain.NewRoom(name, "", author, others, domain.Now())
	require.NoError(t, err)
	created, err := s.Rooms().Create(context.Background(), r)
	require.NoError(t, err)
	return created
}

func newMessage(t *testing.T, s *Store, roomID, author, content string, at time.Time) *domain.Message {
	t.Helper()
	m, err := domain.NewMessage(roomID, author, content, at)
	require.NoError(t, err)
	created, err := s.Messages().Create(context.Background(), m)
	require.NoError(t, err)
	return created
}

func TestMessageStore(t *testing.T) {
	ctx := context.Background()

	t.Run("history is ascending by createdAt", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1", "u2")
		t0 := domain.Now()
		world := newMessage(t, s, r.ID, "u2", "world", t0.Add(time.Second))
		hello := newMessage(t, s, r.ID, "u1", "hello", t0)

		page, err := s.Messages().FindByRoomID(ctx, r.ID, domain.PageOptions{})
		require.NoError(t, err)
		require.Len(t, page.Items, 2)
		assert.Equal(t, hello.ID, page.Items[0].ID)
		assert.Equal(t, world.ID, page.Items[1].ID)
		assert.False(t, page.HasMore)

		desc, err := s.Messages().FindByRoomID(ctx, r.ID, domain.PageOptions{Order: domain.OrderDesc, Limit: 1})
		require.NoError(t, err)
		require.Len(t, desc.Items, 1)
		assert.Equal(t, world.ID, desc.Items[0].ID)
		assert.True(t, desc.HasMore)
		assert.Equal(t, 2, desc.Total)
	})

	t.Run("soft delete hides from visible listing only", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1")
		m := newMessage(t, s, r.ID, "u1", "oops", domain.Now())

		deleted, err := s.Messages().MarkAsDeleted(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted)
		assert.Equal(t, "oops", deleted.Content, "soft delete keeps content")

		visible, err := s.Messages().FindVisibleByRoomID(ctx, r.ID, domain.PageOptions{})
		require.NoError(t, err)
		assert.Empty(t, visible.Items)

		all, err := s.Messages().FindByRoomID(ctx, r.ID, domain.PageOptions{})
		require.NoError(t, err)
		require.Len(t, all.Items, 1)
		assert.True(t, all.Items[0].IsDeleted)

		again, err := s.Messages().MarkAsDeleted(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, deleted.UpdatedAt, again.UpdatedAt, "idempotent")

		_, err = s.Messages().Restore(ctx, m.ID)
		require.NoError(t, err)
		visible, err = s.Messages().FindVisibleByRoomID(ctx, r.ID, domain.PageOptions{})
		require.NoError(t, err)
		assert.Len(t, visible.Items, 1)
	})

	t.Run("unknown or deleted room is a validation error", func(t *testing.T) {
		s := NewStore()
		m, err := domain.NewMessage("nope", "u1", "hi", domain.Now())
		require.NoError(t, err)
		_, err = s.Messages().Create(ctx, m)
		assert.ErrorIs(t, err, domain.ErrValidation)

		r := newRoom(t, s, "gone", "u1")
		require.NoError(t, s.Rooms().SoftDelete(ctx, r.ID))
		m.RoomID = r.ID
		_, err = s.Messages().Create(ctx, m)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("missing message is not found", func(t *testing.T) {
		s := NewStore()
		_, err := s.Messages().FindByID(ctx, "x")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.Messages().MarkAsDeleted(ctx, "x")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, s.Messages().Delete(ctx, "x"), domain.ErrNotFound)
	})

	t.Run("update rejects blank content", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1")
		m := newMessage(t, s, r.ID, "u1", "first", domain.Now())
		m.Content = "   "
		_, err := s.Messages().Update(ctx, m)
		assert.ErrorIs(t, err, domain.ErrValidation)

		m.Content = "second"
		updated, err := s.Messages().Update(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, "second", updated.Content)
		assert.False(t, updated.UpdatedAt.Before(m.UpdatedAt))
	})

	t.Run("delete refuses the room's last message", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1")
		m := newMessage(t, s, r.ID, "u1", "pinned", domain.Now())
		require.NoError(t, s.Rooms().UpdateLastMessage(ctx, r.ID, m.ID))

		assert.ErrorIs(t, s.Messages().Delete(ctx, m.ID), domain.ErrConflict)

		require.NoError(t, s.Rooms().UpdateLastMessage(ctx, r.ID, ""))
		require.NoError(t, s.Messages().Delete(ctx, m.ID))
		latest, err := s.Messages().LatestInRoom(ctx, r.ID)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("by author", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1", "u2")
		newMessage(t, s, r.ID, "u1", "a", domain.Now())
		newMessage(t, s, r.ID, "u2", "b", domain.Now())
		page, err := s.Messages().FindByAuthorID(ctx, "u2", domain.PageOptions{})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "b", page.Items[0].Content)
	})
}

func TestRoomStore(t *testing.T) {
	ctx := context.Background()

	t.Run("names are unique among live rooms", func(t *testing.T) {
		s := NewStore()
		first := newRoom(t, s, "general", "u1")

		dup, err := domain.NewRoom("general", "", "u2", nil, domain.Now())
		require.NoError(t, err)
		_, err = s.Rooms().Create(ctx, dup)
		assert.ErrorIs(t, err, domain.ErrConflict)

		require.NoError(t, s.Rooms().SoftDelete(ctx, first.ID))
		_, err = s.Rooms().Create(ctx, dup)
		assert.NoError(t, err, "soft-deleted rooms free their name")
	})

	t.Run("removing a non-participant is a no-op", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1", "u2")
		out, err := s.Rooms().RemoveParticipant(ctx, r.ID, "u9")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, out.ParticipantIDs)
		assert.Equal(t, r.UpdatedAt, out.UpdatedAt)
	})

	t.Run("add is idempotent", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1")
		_, err := s.Rooms().AddParticipant(ctx, r.ID, "u2")
		require.NoError(t, err)
		out, err := s.Rooms().AddParticipant(ctx, r.ID, "u2")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, out.ParticipantIDs)
	})

	t.Run("update last message bumps updatedAt", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1")
		time.Sleep(time.Millisecond)
		require.NoError(t, s.Rooms().UpdateLastMessage(ctx, r.ID, "m1"))
		got, err := s.Rooms().FindByID(ctx, r.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastMessageID)
		assert.Equal(t, "m1", *got.LastMessageID)
		assert.True(t, got.UpdatedAt.After(r.UpdatedAt))
	})

	t.Run("find by participant orders by activity", func(t *testing.T) {
		s := NewStore()
		a := newRoom(t, s, "a", "u1")
		b := newRoom(t, s, "b", "u1")
		newRoom(t, s, "c", "u2")
		time.Sleep(time.Millisecond)
		require.NoError(t, s.Rooms().UpdateLastMessage(ctx, a.ID, "m"))

		page, err := s.Rooms().FindByParticipant(ctx, "u1", domain.PageOptions{})
		require.NoError(t, err)
		require.Len(t, page.Items, 2)
		assert.Equal(t, a.ID, page.Items[0].ID)
		assert.Equal(t, b.ID, page.Items[1].ID)
	})

	t.Run("hard delete removes messages", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1")
		m := newMessage(t, s, r.ID, "u1", "bye", domain.Now())
		require.NoError(t, s.Rooms().Delete(ctx, r.ID))
		_, err := s.Messages().FindByID(ctx, m.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.Rooms().FindByID(ctx, r.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("returned rooms are copies", func(t *testing.T) {
		s := NewStore()
		r := newRoom(t, s, "r1", "u1")
		r.ParticipantIDs[0] = "mutated"
		got, err := s.Rooms().FindByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, got.ParticipantIDs)
	})
}

func TestConcurrentCreates(t *testing.T) {
	s := NewStore()
	r := newRoom(t, s, "busy", "u1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := domain.NewMessage(r.ID, "u1", "hi", domain.Now())
			if err == nil {
				_, _ = s.Messages().Create(context.Background(), m)
			}
		}()
	}
	wg.Wait()

	page, err := s.Messages().FindByRoomID(context.Background(), r.ID, domain.PageOptions{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 50, page.Total)
}

func TestUserStore(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Users().Put(context.Background(), domain.User{ID: "u1", Username: "ada"}))
	assert.ErrorIs(t, s.Users().Put(context.Background(), domain.User{}), domain.ErrValidation)

	u, err := s.Users().GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Username)

	missing, err := s.Users().GetUser(context.Background(), "u2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
