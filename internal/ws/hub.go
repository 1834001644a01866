package ws

import (
	"log/slog"

	"quickchat/internal/models"
	"quickchat/internal/registry"

	"github.com/google/uuid"
)

// sendBuffer is the outbound queue depth per connection. A connection that
// cannot drain its queue is treated as disconnected.
const sendBuffer = 100

// Hub owns the connection registry and fans realtime payloads out to live
// connections. All pushes are best-effort: a connection that cannot accept a
// payload is dropped from the registry, never waited on.
type Hub struct {
	reg *registry.Registry
}

func NewHub() *Hub {
	return &Hub{reg: registry.New()}
}

// Join registers a new connection for the user and returns its handle and
// outbound channel. If the user just came online the new presence set is
// broadcast to everyone; either way the fresh connection receives the
// current snapshot so the client can render it immediately.
func (h *Hub) Join(userID string) (string, chan models.ServerMessage) {
	handle := uuid.NewString()
	ch := make(chan models.ServerMessage, sendBuffer)

	cameOnline := h.reg.Register(userID, handle, ch)
	if cameOnline {
		h.publishPresence()
	} else {
		ch <- models.ServerMessage{
			Type:          models.ServerMessageTypePresence,
			OnlineUserIDs: h.reg.OnlineUserIDs(),
		}
	}

	return handle, ch
}

// Leave removes a connection. Safe to call for handles that were already
// dropped. All connection exit paths converge here.
func (h *Hub) Leave(handle string) {
	userID, ch, wentOffline, ok := h.reg.Unregister(handle)
	if !ok {
		return
	}
	close(ch)
	if wentOffline {
		slog.Debug("user went offline", "user_id", userID)
		h.publishPresence()
	}
}

func (h *Hub) IsOnline(userID string) bool {
	return h.reg.IsOnline(userID)
}

func (h *Hub) OnlineUserIDs() []string {
	return h.reg.OnlineUserIDs()
}

// PushMessage delivers a new message to every live connection of the
// recipient. Fire-and-forget: a full or dead connection is dropped and the
// message stays persisted for the recipient's next history fetch.
func (h *Hub) PushMessage(msg models.Message) {
	payload := models.ServerMessage{
		Type:    models.ServerMessageTypeNewMessage,
		Message: &msg,
	}

	for handle, ch := range h.reg.UserConnections(msg.RecipientID) {
		if !trySend(ch, payload) {
			slog.Warn("dropping unresponsive connection", "handle", handle, "user_id", msg.RecipientID)
			if h.drop(handle) {
				h.publishPresence()
			}
		}
	}
}

// publishPresence broadcasts the full online-user set to every connection.
// Connections that fail the send are dropped; if dropping them changes the
// set's membership the broadcast repeats with the new set. The loop
// terminates because every round strictly shrinks the connection count.
func (h *Hub) publishPresence() {
	for {
		payload := models.ServerMessage{
			Type:          models.ServerMessageTypePresence,
			OnlineUserIDs: h.reg.OnlineUserIDs(),
		}

		changed := false
		for handle, ch := range h.reg.Connections() {
			if trySend(ch, payload) {
				continue
			}
			if h.drop(handle) {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// drop unregisters a connection after a failed push, reporting whether its
// user went offline. Presence republication is left to the caller's loop to
// avoid unbounded recursion.
func (h *Hub) drop(handle string) (wentOffline bool) {
	_, ch, wentOffline, ok := h.reg.Unregister(handle)
	if !ok {
		return false
	}
	close(ch)
	return wentOffline
}

func trySend(ch chan models.ServerMessage, msg models.ServerMessage) (sent bool) {
	defer func() {
		// Send on a channel closed by a concurrent drop counts as a failed
		// delivery, not a crash.
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}
