// Package registry tracks which sessions are live in which room on this
// node, and hands out copy-on-read snapshots for broadcast.
package registry

import (
	"sync"

	"github.com/chatfabric/chatfabric/internal/metrics"
)

// Session is the minimal surface the registry needs. internal/session.Session
// satisfies it.
type Session interface {
	ID() string
	RoomID() int
}

// Registry maps roomId -> set of live sessions on this node. An empty room
// entry is always removed. There is no single move operation: a session
// changes rooms only through a Remove followed by an Add, each taking the
// registry lock separately, so a snapshot taken in between sees the
// session in neither room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int]map[string]Session
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		rooms: make(map[int]map[string]Session),
	}
}

// Add registers a session as live in roomId. If the session was previously
// registered under a different room, callers must call Remove first.
func (r *Registry) Add(roomID int, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[string]Session)
		r.rooms[roomID] = set
		metrics.ActiveRooms.Inc()
	}
	if _, exists := set[s.ID()]; !exists {
		metrics.TotalSessions.Inc()
	}
	set[s.ID()] = s
}

// Remove unregisters a session from its room, pruning the room entry if it
// becomes empty.
func (r *Registry) Remove(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[s.RoomID()]
	if !ok {
		return
	}
	if _, exists := set[s.ID()]; !exists {
		return
	}
	delete(set, s.ID())
	metrics.TotalSessions.Dec()
	if len(set) == 0 {
		delete(r.rooms, s.RoomID())
		metrics.ActiveRooms.Dec()
	}
}

// SnapshotRoom returns a point-in-time copy of the sessions live in roomId,
// safe to iterate without holding any registry lock. No ordering is promised
// relative to concurrent Add/Remove calls.
func (r *Registry) SnapshotRoom(roomID int) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// RoomCount reports the number of rooms with at least one live session.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
