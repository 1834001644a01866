// Package registry tracks which users currently hold live realtime
// connections. A user may own several connections at once (multi-device);
// the online set is derived from the distinct user keys and is never stored
// anywhere else.
package registry

import (
	"sort"
	"sync"

	"quickchat/internal/models"
)

// Registry maps user IDs to their live connection handles. All methods are
// safe for concurrent use; no reader ever observes a half-updated set.
type Registry struct {
	mu sync.RWMutex
	// userID -> handle -> outbound channel
	byUser map[string]map[string]chan models.ServerMessage
	// handle -> userID
	byHandle map[string]string
}

func New() *Registry {
	return &Registry{
		byUser:   make(map[string]map[string]chan models.ServerMessage),
		byHandle: make(map[string]string),
	}
}

// Register adds a connection handle under the given user. Registering the
// same handle twice replaces its channel silently. It reports whether the
// user just came online (first connection).
func (r *Registry) Register(userID, handle string, ch chan models.ServerMessage) (cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[userID]
	if conns == nil {
		conns = make(map[string]chan models.ServerMessage)
		r.byUser[userID] = conns
		cameOnline = true
	}
	conns[handle] = ch
	r.byHandle[handle] = userID
	return cameOnline
}

// Unregister removes a handle. It is a no-op for unknown handles. It returns
// the channel that was registered so the caller can close it, and reports
// whether the owning user just went offline (last connection removed).
func (r *Registry) Unregister(handle string) (userID string, ch chan models.ServerMessage, wentOffline, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byHandle[handle]
	if !ok {
		return "", nil, false, false
	}
	delete(r.byHandle, handle)

	conns := r.byUser[userID]
	ch = conns[handle]
	delete(conns, handle)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		wentOffline = true
	}
	return userID, ch, wentOffline, true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUserIDs returns the sorted set of users with at least one live
// connection.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connections returns a snapshot of every live connection.
func (r *Registry) Connections() map[string]chan models.ServerMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]chan models.ServerMessage, len(r.byHandle))
	for _, conns := range r.byUser {
		for handle, ch := range conns {
			out[handle] = ch
		}
	}
	return out
}

// UserConnections returns a snapshot of the given user's connections.
func (r *Registry) UserConnections(userID string) map[string]chan models.ServerMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make(map[string]chan models.ServerMessage, len(conns))
	for handle, ch := range conns {
		out[handle] = ch
	}
	return out
}
