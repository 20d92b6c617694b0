package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/syncwave/relay/src/hub"
	"github.com/syncwave/relay/src/types"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrRoomNotFound   = errors.New("room not found")
	ErrStopped        = errors.New("hub stopped")
)

// Service is the transport-facing API over the hub.
type Service struct {
	hub    *hub.Hub
	logger zerolog.Logger
}

// New creates a new relay service backed by the given hub.
func New(h *hub.Hub, logger zerolog.Logger) *Service {
	return &Service{hub: h, logger: logger.With().Str("component", "service").Logger()}
}

// Dispatch decodes one raw frame from clientID and hands it to the hub.
// Frames that do not decode are returned as errors wrapping
// types.ErrMalformedEvent or types.ErrUnknownEvent.
func (s *Service) Dispatch(clientID string, raw []byte) error {
	ev, err := types.DecodeEvent(raw)
	if err != nil {
		s.logger.Debug().Err(err).Str("client_id", clientID).Msg("rejected frame")
		return err
	}
	if !s.hub.Dispatch(clientID, ev) {
		return ErrStopped
	}
	return nil
}

// OnConnection registers a callback for new connections.
func (s *Service) OnConnection(cb func(clientID string)) {
	s.hub.OnConnection(cb)
}

// OnDisconnection registers a callback for disconnections.
func (s *Service) OnDisconnection(cb func(clientID string)) {
	s.hub.OnDisconnection(cb)
}

// ConnectedClients returns IDs of all connected clients.
func (s *Service) ConnectedClients() []string {
	return s.hub.ConnectedClients()
}

// SendToClient sends a server-originated event directly to one client.
func (s *Service) SendToClient(clientID, event string, data any) error {
	msg := types.Message{
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	}
	if ok := s.hub.SendToClient(clientID, msg); !ok {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return nil
}

// Rooms returns live rooms with their member counts.
func (s *Service) Rooms() map[string]int {
	return s.hub.Rooms()
}

// Room returns the roster and cached playback for a live room.
func (s *Service) Room(roomID string) (types.RoomInfo, error) {
	info, ok := s.hub.Room(roomID)
	if !ok {
		return types.RoomInfo{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return info, nil
}

// ClientInfo returns info for a connected client.
func (s *Service) ClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return info, nil
}
