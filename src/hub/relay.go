package hub

import (
	"time"

	"github.com/syncwave/relay/src/types"
)

func (h *Hub) handleEvent(clientID string, ev types.Event) {
	if _, ok := h.clients[clientID]; !ok {
		h.logger.Debug().Str("client_id", clientID).Str("event", ev.Name()).Msg("event from unknown client")
		return
	}

	switch e := ev.(type) {
	case *types.JoinRoom:
		h.join(clientID, e)
	case *types.LeaveRoom:
		h.leave(clientID, e.RoomID)
	case *types.RequestUserList:
		h.sendUserList(clientID, e.RoomID)
	case *types.PlaybackControl, *types.TrackChanged:
		h.relayPlayback(clientID, ev)
	case *types.Chat:
		h.relayChat(clientID, e)
	case *types.Signal:
		h.relaySignal(clientID, e)
	default:
		h.logger.Debug().Str("event", ev.Name()).Msg("no handler")
	}
}

// relayPlayback updates the room cache and forwards the control event to
// everyone in the room except the sender, who already applied it locally.
func (h *Hub) relayPlayback(senderID string, ev types.Event) {
	roomID := ev.Room()
	if h.registry.IsEmpty(roomID) {
		return
	}

	st, cached := h.playback.Apply(roomID, ev)

	var data any
	switch e := ev.(type) {
	case *types.TrackChanged:
		data = types.TrackFromState(st)
	case *types.PlaybackControl:
		if e.Kind != types.EventStop {
			data = types.PlaybackData{Timestamp: e.Timestamp}
		}
	}
	h.broadcast(roomID, h.message(ev.Name(), roomID, senderID, data), senderID)

	if cached {
		h.record(h.message(ev.Name(), roomID, senderID, st))
	}
}

// relayChat forwards the message verbatim to the whole room, sender included,
// so the sender renders the server-ordered copy.
func (h *Hub) relayChat(senderID string, ev *types.Chat) {
	if h.registry.IsEmpty(ev.RoomID) {
		return
	}
	if c := h.clients[senderID]; !c.chat.allow(time.Now()) {
		h.logger.Warn().Str("client_id", senderID).Str("room", ev.RoomID).Msg("chat rate limit exceeded, dropping")
		return
	}

	h.broadcast(ev.RoomID, h.message(types.EventChatMessage, ev.RoomID, senderID, ev.Message), "")

	msg := ev.Parsed
	if entry, ok := h.registry.Get(senderID); ok {
		if msg.UserID == "" {
			msg.UserID = entry.UserID
		}
		if msg.UserName == "" {
			msg.UserName = entry.DisplayName
		}
	}
	h.record(h.message(types.EventChatMessage, ev.RoomID, senderID, msg))
}

// relaySignal fans a signaling payload out to the other members; clients
// pick out what is addressed to them by comparing To with their identity.
func (h *Hub) relaySignal(senderID string, ev *types.Signal) {
	if h.registry.IsEmpty(ev.RoomID) {
		return
	}

	from := ev.From
	if from == "" {
		if entry, ok := h.registry.Get(senderID); ok && entry.UserID != "" {
			from = entry.UserID
		} else {
			from = senderID
		}
	}
	data := types.SignalData{
		From:         from,
		To:           ev.To,
		ConnectionID: senderID,
		Offer:        ev.Offer,
		Answer:       ev.Answer,
		Candidate:    ev.Candidate,
		Extra:        ev.Extra,
	}
	h.broadcast(ev.RoomID, h.message(ev.Kind, ev.RoomID, senderID, data), senderID)
}

// broadcast queues msg for every member of roomID except the connection
// named by except. Delivery is best effort: a full queue drops the message
// for that member only.
func (h *Hub) broadcast(roomID string, msg types.Message, except string) int {
	sent := 0
	for _, id := range h.registry.ConnectionsIn(roomID) {
		if id == except {
			continue
		}
		if h.sendTo(id, msg) {
			sent++
		}
	}
	return sent
}

func (h *Hub) sendTo(clientID string, msg types.Message) bool {
	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	if err := c.deliver(msg); err != nil {
		h.logger.Warn().Err(err).Str("client_id", clientID).Str("event", msg.Event).Msg("dropping message")
		return false
	}
	return true
}

func (h *Hub) message(event, roomID, from string, data any) types.Message {
	return types.Message{
		Event:     event,
		RoomID:    roomID,
		Data:      data,
		ClientID:  from,
		Timestamp: time.Now(),
	}
}
