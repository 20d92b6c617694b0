package hub

import (
	"github.com/syncwave/relay/src/types"
)

// OnConnection registers a callback for new connections. Callbacks run on
// the hub loop and must not call back into the hub.
func (h *Hub) OnConnection(cb func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, cb)
}

// OnDisconnection registers a callback for disconnections.
func (h *Hub) OnDisconnection(cb func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconn = append(h.onDisconn, cb)
}

// ConnectedClients returns a list of connected client IDs.
func (h *Hub) ConnectedClients() []string {
	var ids []string
	h.query(func() {
		ids = make([]string, 0, len(h.clients))
		for id := range h.clients {
			ids = append(ids, id)
		}
	})
	return ids
}

// ClientInfo returns info for a connected client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	var info *types.ClientInfo
	h.query(func() {
		e, ok := h.registry.Get(clientID)
		if !ok {
			return
		}
		info = &types.ClientInfo{
			ID:          e.ConnectionID,
			ConnectedAt: e.ConnectedAt,
			RoomID:      e.RoomID,
			UserID:      e.UserID,
			DisplayName: e.DisplayName,
			Transport:   e.Transport,
		}
	})
	return info
}

// Rooms returns live room ids with their member counts.
func (h *Hub) Rooms() map[string]int {
	var rooms map[string]int
	h.query(func() { rooms = h.registry.Rooms() })
	return rooms
}

// Room returns the roster and cached playback of a live room.
func (h *Hub) Room(roomID string) (types.RoomInfo, bool) {
	var (
		info types.RoomInfo
		ok   bool
	)
	h.query(func() {
		if h.registry.IsEmpty(roomID) {
			return
		}
		ok = true
		info.ID = roomID
		info.Members = h.registry.MembersOf(roomID)
		info.Count = len(info.Members)
		if st, cached := h.playback.Get(roomID); cached {
			info.Playback = &st
		}
	})
	return info, ok
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	n := 0
	h.query(func() { n = len(h.clients) })
	return n
}

// CachedRooms returns how many rooms hold playback state.
func (h *Hub) CachedRooms() int {
	n := 0
	h.query(func() { n = h.playback.Len() })
	return n
}

// SendToClient queues a message directly for one client.
func (h *Hub) SendToClient(clientID string, msg types.Message) bool {
	sent := false
	h.query(func() { sent = h.sendTo(clientID, msg) })
	return sent
}
