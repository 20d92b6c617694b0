package types

import (
	"time"

	"github.com/goccy/go-json"
)

// DefaultDisplayName is used when a joiner supplies no name.
const DefaultDisplayName = "Anonymous"

// Message is an outbound WebSocket message.
type Message struct {
	Event     string    `json:"event"`
	RoomID    string    `json:"roomId,omitempty"`
	Data      any       `json:"data,omitempty"`
	ClientID  string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode serialises the message for the wire.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Identity is the caller-supplied identity attached to a connection at connect time.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"userName"`
}

// Member is one connection's presence inside a room.
type Member struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"userName"`
}

// ClientInfo holds metadata about a connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	RoomID      string    `json:"room_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	DisplayName string    `json:"user_name,omitempty"`
	Transport   string    `json:"transport"`
}

// PlaybackState is the cached transport state of one room.
type PlaybackState struct {
	AudioURL         string    `json:"audioUrl,omitempty"`
	Title            string    `json:"title,omitempty"`
	Source           string    `json:"source,omitempty"`
	TimestampSeconds float64   `json:"timestamp"`
	IsPlaying        bool      `json:"isPlaying"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// RoomInfo summarises a live room.
type RoomInfo struct {
	ID       string         `json:"id"`
	Members  []Member       `json:"members,omitempty"`
	Count    int            `json:"count"`
	Playback *PlaybackState `json:"playback,omitempty"`
}

// Conn abstracts a transport connection for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}
