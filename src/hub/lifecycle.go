package hub

import (
	"github.com/syncwave/relay/src/registry"
	"github.com/syncwave/relay/src/types"
)

// join moves the connection into ev.RoomID, leaving its previous room first.
func (h *Hub) join(clientID string, ev *types.JoinRoom) {
	c := h.clients[clientID]
	userID := firstNonEmpty(ev.UserID, c.identity.UserID, clientID)
	name := firstNonEmpty(ev.UserName, c.identity.DisplayName)

	before, _ := h.registry.Get(clientID)
	prev, ok := h.registry.SetRoom(clientID, ev.RoomID, userID, name)
	if !ok {
		return
	}
	if prev != "" && prev != ev.RoomID {
		before.RoomID = prev
		h.departed(before, false)
	}

	entry, _ := h.registry.Get(clientID)
	h.logger.Info().
		Str("client_id", clientID).
		Str("room", ev.RoomID).
		Str("user_id", entry.UserID).
		Msg("joined room")

	if prev != ev.RoomID {
		joined := h.message(types.EventUserJoined, ev.RoomID, clientID, types.UserJoinedData{
			ConnectionID: clientID,
			UserID:       entry.UserID,
			UserName:     entry.DisplayName,
		})
		h.broadcast(ev.RoomID, joined, clientID)
		h.record(joined)
	}
	h.broadcastUserList(ev.RoomID)
	h.replay(clientID, ev.RoomID)
}

// replay brings a fresh joiner up to the room's cached playback.
func (h *Hub) replay(clientID, roomID string) {
	st, ok := h.playback.Get(roomID)
	if !ok {
		return
	}
	h.sendTo(clientID, h.message(types.EventTrackChanged, roomID, "", types.TrackFromState(st)))

	event := types.EventPause
	if st.IsPlaying {
		event = types.EventPlay
	}
	h.sendTo(clientID, h.message(event, roomID, "", types.PlaybackData{Timestamp: st.TimestampSeconds}))
}

// leave handles an explicit leave-room. A leave naming a room the
// connection is not in is stale and ignored.
func (h *Hub) leave(clientID, roomID string) {
	entry, ok := h.registry.Get(clientID)
	if !ok || entry.RoomID != roomID {
		return
	}
	h.registry.ClearRoom(clientID)
	h.logger.Info().Str("client_id", clientID).Str("room", roomID).Msg("left room")
	h.departed(entry, false)
}

// departed reconciles a room after entry's connection left it. entry still
// carries the room it left.
func (h *Hub) departed(entry registry.Entry, disconnected bool) {
	roomID := entry.RoomID
	gone := types.UserJoinedData{
		ConnectionID: entry.ConnectionID,
		UserID:       entry.UserID,
		UserName:     entry.DisplayName,
	}
	if disconnected {
		h.broadcast(roomID, h.message(types.EventUserDisconnected, roomID, entry.ConnectionID, gone), "")
	}
	h.record(h.message(types.EventLeaveRoom, roomID, entry.ConnectionID, gone))

	if h.registry.IsEmpty(roomID) {
		h.playback.Evict(roomID)
		h.record(h.message(types.EventRoomClosed, roomID, "", nil))
		h.logger.Debug().Str("room", roomID).Msg("room empty, evicted")
		return
	}
	h.broadcastUserList(roomID)
}

func (h *Hub) broadcastUserList(roomID string) {
	h.broadcast(roomID, h.userList(roomID), "")
}

func (h *Hub) sendUserList(clientID, roomID string) {
	h.sendTo(clientID, h.userList(roomID))
}

func (h *Hub) userList(roomID string) types.Message {
	return h.message(types.EventUserList, roomID, "", types.UserListData{
		RoomID:  roomID,
		Members: h.registry.MembersOf(roomID),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
