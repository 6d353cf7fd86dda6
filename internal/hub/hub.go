// Package hub fans room events out to the connections of this instance.
package hub

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Subscriber is a single connection that can receive room frames.
type Subscriber interface {
	ID() string
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg []byte) bool
}

// Hub maintains which local connections have joined which rooms.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Subscriber // roomID -> connID -> subscriber
	joined map[string]map[string]struct{}   // connID -> roomIDs
	logger *slog.Logger
}

// NewHub creates and returns a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]Subscriber),
		joined: make(map[string]map[string]struct{}),
		logger: slog.Default().With("component", "hub"),
	}
}

// Join adds s to roomID and reports whether it is the room's first local
// subscriber. Joining twice is a no-op.
func (h *Hub) Join(roomID string, s Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	first := !ok
	if !ok {
		members = make(map[string]Subscriber)
		h.rooms[roomID] = members
	}
	members[s.ID()] = s

	if h.joined[s.ID()] == nil {
		h.joined[s.ID()] = make(map[string]struct{})
	}
	h.joined[s.ID()][roomID] = struct{}{}

	h.logger.Debug("Subscriber joined room", "room_id", roomID, "conn_id", s.ID(), "members", len(members))
	return first
}

// Leave removes connID from roomID and reports whether the room has no local
// subscribers left.
func (h *Hub) Leave(roomID, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(roomID, connID)
}

func (h *Hub) leaveLocked(roomID, connID string) bool {
	members, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if rooms := h.joined[connID]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.joined, connID)
		}
	}
	if len(members) == 0 {
		delete(h.rooms, roomID)
		return true
	}
	return false
}

// LeaveAll removes connID from every room and returns the rooms left with no
// local subscribers.
func (h *Hub) LeaveAll(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var emptied []string
	for _, roomID := range slices.Sorted(maps.Keys(h.joined[connID])) {
		if h.leaveLocked(roomID, connID) {
			emptied = append(emptied, roomID)
		}
	}
	return emptied
}

// Broadcast queues msg for every subscriber of roomID except the one with
// id except. Full subscriber buffers drop the frame. It returns the number
// of subscribers that accepted it.
func (h *Hub) Broadcast(roomID string, msg []byte, except string) int {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.rooms[roomID]))
	for id, s := range h.rooms[roomID] {
		if id != except {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(msg) {
			delivered++
			continue
		}
		h.logger.Warn("Subscriber buffer full, dropping frame", "room_id", roomID, "conn_id", s.ID())
	}
	return delivered
}

// InRoom reports whether connID has joined roomID.
func (h *Hub) InRoom(roomID, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][connID]
	return ok
}

// RoomsOf returns the rooms connID has joined, sorted.
func (h *Hub) RoomsOf(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.joined[connID]))
}

// Members returns the number of local subscribers of roomID.
func (h *Hub) Members(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
