// Package session tracks which connections are bound to which room, as
// whom, and which participant sessions are currently active. It is the
// sole owner of the per-room runtime state.
package session

import (
	"sync"

	"github.com/classpulse/backend/internal/models"
)

// Binding maps a transport connection to an identity inside a room.
// SessionID is empty for moderator bindings.
type Binding struct {
	RoomCode  string
	SessionID string
	Role      string
}

type roomState struct {
	active map[string]struct{} // session ids currently connected
	conns  map[string]struct{} // connection ids bound to this room
}

// Registry is the in-memory session registry. One instance exists per
// coordinator; all access goes through its methods.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
	conns map[string]Binding // connection id -> binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*roomState),
		conns: make(map[string]Binding),
	}
}

// BindModerator binds a connection to the moderator role for a room.
// Idempotent per connection; any prior binding is replaced.
func (r *Registry) BindModerator(roomCode, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(connID)
	state := r.roomLocked(roomCode)
	state.conns[connID] = struct{}{}
	r.conns[connID] = Binding{RoomCode: roomCode, Role: models.RoleModerator}
}

// BindParticipant binds a connection to a participant session and marks
// the session active in the room.
func (r *Registry) BindParticipant(roomCode, connID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(connID)
	state := r.roomLocked(roomCode)
	state.conns[connID] = struct{}{}
	state.active[sessionID] = struct{}{}
	r.conns[connID] = Binding{RoomCode: roomCode, SessionID: sessionID, Role: models.RoleParticipant}
}

// Lookup returns the binding for a connection, if any.
func (r *Registry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[connID]
	return b, ok
}

// Deactivate removes a connection's binding. For participant bindings the
// session id leaves the active set. Returns the binding that was removed
// so callers can broadcast the roster change.
func (r *Registry) Deactivate(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if !ok {
		return Binding{}, false
	}
	r.unbindLocked(connID)
	return b, true
}

// RemoveSession forcibly deactivates a participant session and unbinds
// every connection attached to it, returning those connection ids so the
// transport can sever them.
func (r *Registry) RemoveSession(roomCode, sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rooms[roomCode]
	if !ok {
		return nil
	}
	delete(state.active, sessionID)
	var removed []string
	for connID := range state.conns {
		if b, ok := r.conns[connID]; ok && b.SessionID == sessionID {
			removed = append(removed, connID)
		}
	}
	for _, connID := range removed {
		r.unbindLocked(connID)
	}
	r.evictIfEmptyLocked(roomCode)
	return removed
}

// Authorize reports whether the connection's binding matches the required
// room and role. When requireSessionID is non-empty it must match too; a
// participant may only act as themselves.
func (r *Registry) Authorize(connID, roomCode, role, requireSessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[connID]
	if !ok || b.RoomCode != roomCode || b.Role != role {
		return false
	}
	return requireSessionID == "" || b.SessionID == requireSessionID
}

// ActiveSessions returns a copy of the room's active session-id set.
func (r *Registry) ActiveSessions(roomCode string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.rooms[roomCode]
	if !ok {
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(state.active))
	for sid := range state.active {
		out[sid] = struct{}{}
	}
	return out
}

// roomLocked returns the room's state, creating it lazily.
func (r *Registry) roomLocked(roomCode string) *roomState {
	state, ok := r.rooms[roomCode]
	if !ok {
		state = &roomState{
			active: make(map[string]struct{}),
			conns:  make(map[string]struct{}),
		}
		r.rooms[roomCode] = state
	}
	return state
}

// unbindLocked removes a connection binding and its active-set entry,
// evicting the room's runtime state when nothing remains bound to it.
func (r *Registry) unbindLocked(connID string) {
	b, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	state, ok := r.rooms[b.RoomCode]
	if !ok {
		return
	}
	delete(state.conns, connID)
	if b.SessionID != "" {
		delete(state.active, b.SessionID)
	}
	r.evictIfEmptyLocked(b.RoomCode)
}

func (r *Registry) evictIfEmptyLocked(roomCode string) {
	if state, ok := r.rooms[roomCode]; ok && len(state.conns) == 0 && len(state.active) == 0 {
		delete(r.rooms, roomCode)
	}
}
