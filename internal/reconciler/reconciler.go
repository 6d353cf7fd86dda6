// Package reconciler keeps a client-side message cache per room that merges
// optimistic sends with their server-confirmed echoes.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/events"
)

const (
	// SendCooldown is the minimum gap between two sends to the same room.
	SendCooldown = time.Second
	// DuplicateWindow is how long a confirmed message blocks an identical
	// optimistic one.
	DuplicateWindow = 3 * time.Second
)

var (
	ErrCooldown     = errors.New("send cooldown active for room")
	ErrDuplicate    = errors.New("duplicate message")
	ErrUnknownEntry = errors.New("no optimistic message with that temp id")
)

// Outcome reports how AddMessage changed the cache.
type Outcome int

const (
	Appended Outcome = iota
	Reconciled
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Reconciled:
		return "reconciled"
	case Duplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Draft is a message the local user is about to send.
type Draft struct {
	RoomID  string
	Content string
	Author  domain.Author
}

// Entry is one message in a room's cache. Optimistic entries have a TempID
// and no ID until the server echo replaces them.
type Entry struct {
	ID           string        `json:"id,omitempty"`
	TempID       string        `json:"tempId,omitempty"`
	RoomID       string        `json:"roomId"`
	Content      string        `json:"content"`
	Author       domain.Author `json:"author"`
	IsOptimistic bool          `json:"isOptimistic"`
	Failed       bool          `json:"failed,omitempty"`
	IsDeleted    bool          `json:"isDeleted"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Transport emits a send over the gateway connection.
type Transport interface {
	SendMessage(ctx context.Context, roomID, content, tempID string) error
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithCooldown overrides SendCooldown.
func WithCooldown(d time.Duration) Option {
	return func(r *Reconciler) { r.cooldown = d }
}

// WithDuplicateWindow overrides DuplicateWindow.
func WithDuplicateWindow(d time.Duration) Option {
	return func(r *Reconciler) { r.window = d }
}

// Reconciler is safe for concurrent use. Cache mutations happen under one
// mutex; the transport is always called outside it.
type Reconciler struct {
	mu       sync.Mutex
	rooms    map[string][]Entry
	lastSend map[string]time.Time

	self      domain.Author
	transport Transport
	now       func() time.Time
	cooldown  time.Duration
	window    time.Duration
	logger    *slog.Logger
}

// New creates a Reconciler sending as self through transport.
func New(transport Transport, self domain.Author, opts ...Option) *Reconciler {
	r := &Reconciler{
		rooms:     make(map[string][]Entry),
		lastSend:  make(map[string]time.Time),
		self:      self,
		transport: transport,
		now:       time.Now,
		cooldown:  SendCooldown,
		window:    DuplicateWindow,
		logger:    slog.Default().With("component", "reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddOptimisticMessage appends an unconfirmed entry for draft. It returns
// false without changing the cache when the same author already has the same
// content pending in the room, or confirmed within the duplicate window.
func (r *Reconciler) AddOptimisticMessage(draft Draft) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addOptimisticLocked(draft)
}

func (r *Reconciler) addOptimisticLocked(draft Draft) (string, bool) {
	now := r.now()
	for _, e := range r.rooms[draft.RoomID] {
		if e.Author.ID != draft.Author.ID || e.Content != draft.Content {
			continue
		}
		if e.IsOptimistic || withinWindow(now, e.CreatedAt, r.window) {
			return "", false
		}
	}
	tempID := "tmp-" + uuid.NewString()
	r.rooms[draft.RoomID] = append(r.rooms[draft.RoomID], Entry{
		TempID:       tempID,
		RoomID:       draft.RoomID,
		Content:      draft.Content,
		Author:       draft.Author,
		IsOptimistic: true,
		CreatedAt:    now,
	})
	return tempID, true
}

func withinWindow(now, at time.Time, window time.Duration) bool {
	d := now.Sub(at)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// AddMessage records a server-confirmed message. A known id is a duplicate.
// Otherwise the optimistic entry with clientTempID, or failing that the first
// optimistic entry with the same author and content, is replaced in place.
func (r *Reconciler) AddMessage(msg domain.MessageWithAuthor, clientTempID string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.rooms[msg.RoomID]
	match := -1
	for i, e := range entries {
		if e.ID == msg.ID {
			return Duplicate
		}
		if !e.IsOptimistic {
			continue
		}
		if clientTempID != "" && e.TempID == clientTempID {
			match = i
		} else if match < 0 && e.Author.ID == msg.AuthorID && e.Content == msg.Content {
			match = i
		}
	}

	confirmed := Entry{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Content:   msg.Content,
		Author:    msg.Author,
		IsDeleted: msg.IsDeleted,
		CreatedAt: msg.CreatedAt,
	}
	if match >= 0 {
		confirmed.TempID = entries[match].TempID
		entries[match] = confirmed
		return Reconciled
	}
	r.rooms[msg.RoomID] = append(entries, confirmed)
	return Appended
}

// SendMessage inserts an optimistic entry and emits it. Sends to the same
// room within the cooldown return ErrCooldown, identical pending content
// returns ErrDuplicate. A transport failure leaves the entry marked failed
// for Retry or Rollback.
func (r *Reconciler) SendMessage(ctx context.Context, roomID, content string) (string, error) {
	if err := domain.ValidateContent(content); err != nil {
		return "", err
	}

	r.mu.Lock()
	now := r.now()
	if last, ok := r.lastSend[roomID]; ok && now.Sub(last) < r.cooldown {
		r.mu.Unlock()
		return "", ErrCooldown
	}
	tempID, ok := r.addOptimisticLocked(Draft{RoomID: roomID, Content: content, Author: r.self})
	if !ok {
		r.mu.Unlock()
		return "", ErrDuplicate
	}
	r.lastSend[roomID] = now
	r.mu.Unlock()

	return tempID, r.emit(ctx, roomID, content, tempID)
}

// Retry re-emits a failed optimistic entry. Retrying an entry that is still
// pending is a no-op.
func (r *Reconciler) Retry(ctx context.Context, roomID, tempID string) error {
	r.mu.Lock()
	i := r.indexOfTemp(roomID, tempID)
	if i < 0 {
		r.mu.Unlock()
		return ErrUnknownEntry
	}
	e := &r.rooms[roomID][i]
	if !e.Failed {
		r.mu.Unlock()
		return nil
	}
	e.Failed = false
	content := e.Content
	r.mu.Unlock()

	return r.emit(ctx, roomID, content, tempID)
}

// Rollback drops an optimistic entry and reports whether it existed.
func (r *Reconciler) Rollback(roomID, tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOfTemp(roomID, tempID)
	if i < 0 {
		return false
	}
	r.rooms[roomID] = append(r.rooms[roomID][:i], r.rooms[roomID][i+1:]...)
	return true
}

// Messages returns a copy of the room's cache in display order.
func (r *Reconciler) Messages(roomID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.rooms[roomID]))
	copy(out, r.rooms[roomID])
	return out
}

// HandleEvent applies a server frame to the cache. Kinds that do not touch
// messages are ignored.
func (r *Reconciler) HandleEvent(env events.Envelope) error {
	switch env.Type {
	case events.KindNewMessage:
		var ev events.NewMessageEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		outcome := r.AddMessage(ev.Message, ev.ClientTempID)
		r.logger.Debug("Message received", "room_id", ev.RoomID, "message_id", ev.Message.ID, "outcome", outcome)

	case events.KindRoomJoined:
		var ev events.RoomJoinedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		for _, m := range ev.Messages {
			r.AddMessage(m, "")
		}

	case events.KindMessageUpdated:
		var ev events.MessageUpdatedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		r.applyUpdate(ev)

	case events.KindError:
		var ev events.ErrorEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if ev.ClientTempID != "" && r.markFailed(ev.ClientTempID) {
			r.logger.Warn("Send rejected", "temp_id", ev.ClientTempID, "code", ev.Code, "message", ev.Message)
		}
	}
	return nil
}

func (r *Reconciler) emit(ctx context.Context, roomID, content, tempID string) error {
	if err := r.transport.SendMessage(ctx, roomID, content, tempID); err != nil {
		r.markFailed(tempID)
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (r *Reconciler) applyUpdate(ev events.MessageUpdatedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.rooms[ev.Message.RoomID]
	for i := range entries {
		if entries[i].ID != ev.Message.ID {
			continue
		}
		if ev.Purged {
			r.rooms[ev.Message.RoomID] = append(entries[:i], entries[i+1:]...)
			return
		}
		entries[i].Content = ev.Message.Content
		entries[i].IsDeleted = ev.Message.IsDeleted
		return
	}
}

// markFailed flags the optimistic entry with tempID in whichever room holds it.
func (r *Reconciler) markFailed(tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID := range r.rooms {
		if i := r.indexOfTemp(roomID, tempID); i >= 0 {
			r.rooms[roomID][i].Failed = true
			return true
		}
	}
	return false
}

// indexOfTemp must be called with the lock held.
func (r *Reconciler) indexOfTemp(roomID, tempID string) int {
	for i, e := range r.rooms[roomID] {
		if e.IsOptimistic && e.TempID == tempID {
			return i
		}
	}
	return -1
}
