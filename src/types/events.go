package types

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Inbound and outbound event names.
const (
	EventJoinRoom         = "join-room"
	EventLeaveRoom        = "leave-room"
	EventPlay             = "play"
	EventPause            = "pause"
	EventSeek             = "seek"
	EventStop             = "stop"
	EventTrackChanged     = "track-changed"
	EventChatMessage      = "chat-message"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
	EventCallIgnored      = "call-ignored"
	EventCallCancelled    = "call-cancelled"
	EventRequestUserList  = "request-user-list"
	EventUserJoined       = "user-joined"
	EventUserList         = "user-list"
	EventUserDisconnected = "user-disconnected"

	// EventRoomClosed is only mirrored, never sent to clients.
	EventRoomClosed = "room-closed"
)

// MaxChatLength bounds chat text in runes.
const MaxChatLength = 4000

// Decode errors. Callers match them with errors.Is.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Event is one decoded inbound event. Every variant is scoped to a room.
type Event interface {
	Name() string
	Room() string
}

// Envelope is the wire frame shared by both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinRoom moves a connection into a room, leaving its current one first.
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// LeaveRoom takes a connection out of the named room.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// PlaybackControl covers play, pause, seek and stop.
type PlaybackControl struct {
	Kind      string  `json:"-"`
	RoomID    string  `json:"roomId"`
	Timestamp float64 `json:"timestamp"`
}

// TrackChanged replaces the room's playback state. Absent fields reset.
type TrackChanged struct {
	RoomID    string   `json:"roomId"`
	AudioURL  string   `json:"audioUrl,omitempty"`
	Title     string   `json:"title,omitempty"`
	Source    string   `json:"source,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	IsPlaying *bool    `json:"isPlaying,omitempty"`
}

// ChatMessage is the parsed view of a chat payload. Raw holds the bytes
// relayed to the room. Fields of an unexpected type parse as zero values.
type ChatMessage struct {
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName"`
	Text      string          `json:"text"`
	Timestamp int64           `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// Chat is a chat-message event; Message is relayed as received.
type Chat struct {
	RoomID  string          `json:"roomId"`
	Message json.RawMessage `json:"message"`
	Parsed  ChatMessage     `json:"-"`
}

// Signal carries an opaque WebRTC signaling payload. To names the addressed
// peer, if any. Extra keeps every other key of the data object.
type Signal struct {
	Kind      string                     `json:"-"`
	RoomID    string                     `json:"roomId"`
	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	Offer     json.RawMessage            `json:"offer,omitempty"`
	Answer    json.RawMessage            `json:"answer,omitempty"`
	Candidate json.RawMessage            `json:"candidate,omitempty"`
	Extra     map[string]json.RawMessage `json:"-"`
}

var signalKeys = []string{"roomId", "from", "to", "offer", "answer", "candidate", "connectionId"}

func (e *Signal) UnmarshalJSON(b []byte) error {
	type plain Signal
	if err := json.Unmarshal(b, (*plain)(e)); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	for _, k := range signalKeys {
		delete(fields, k)
	}
	e.Extra = nil
	if len(fields) > 0 {
		e.Extra = fields
	}
	return nil
}

// RequestUserList asks for the room roster, sent to the requester only.
type RequestUserList struct {
	RoomID string `json:"roomId"`
}

func (e *JoinRoom) Name() string        { return EventJoinRoom }
func (e *JoinRoom) Room() string        { return e.RoomID }
func (e *LeaveRoom) Name() string       { return EventLeaveRoom }
func (e *LeaveRoom) Room() string       { return e.RoomID }
func (e *PlaybackControl) Name() string { return e.Kind }
func (e *PlaybackControl) Room() string { return e.RoomID }
func (e *TrackChanged) Name() string    { return EventTrackChanged }
func (e *TrackChanged) Room() string    { return e.RoomID }
func (e *Chat) Name() string            { return EventChatMessage }
func (e *Chat) Room() string            { return e.RoomID }
func (e *Signal) Name() string          { return e.Kind }
func (e *Signal) Room() string          { return e.RoomID }
func (e *RequestUserList) Name() string { return EventRequestUserList }
func (e *RequestUserList) Room() string { return e.RoomID }

// DecodeEvent parses one inbound frame into its typed variant.
func DecodeEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev Event
	switch env.Event {
	case EventJoinRoom:
		ev = &JoinRoom{}
	case EventLeaveRoom:
		ev = &LeaveRoom{}
	case EventPlay, EventPause, EventSeek, EventStop:
		ev = &PlaybackControl{Kind: env.Event}
	case EventTrackChanged:
		ev = &TrackChanged{}
	case EventChatMessage:
		ev = &Chat{}
	case EventOffer, EventAnswer, EventICECandidate, EventCallIgnored, EventCallCancelled:
		ev = &Signal{Kind: env.Event}
	case EventRequestUserList:
		ev = &RequestUserList{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformedEvent, env.Event)
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
	}
	if ev.Room() == "" {
		return nil, fmt.Errorf("%w: %s without roomId", ErrMalformedEvent, env.Event)
	}
	if err := validate(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func validate(ev Event) error {
	switch e := ev.(type) {
	case *PlaybackControl:
		if e.Timestamp < 0 {
			e.Timestamp = 0
		}
	case *TrackChanged:
		if e.Timestamp != nil && *e.Timestamp < 0 {
			zero := 0.0
			e.Timestamp = &zero
		}
	case *Chat:
		if len(e.Message) == 0 {
			return fmt.Errorf("%w: chat-message without message", ErrMalformedEvent)
		}
		parsed, err := parseChat(e.Message)
		if err != nil {
			return fmt.Errorf("%w: chat-message: %v", ErrMalformedEvent, err)
		}
		if utf8.RuneCountInString(parsed.Text) > MaxChatLength {
			return fmt.Errorf("%w: chat text too long", ErrMalformedEvent)
		}
		e.Parsed = parsed
	}
	return nil
}

// parseChat requires an object but tolerates odd field types, since the
// message itself is relayed untouched.
func parseChat(raw json.RawMessage) (ChatMessage, error) {
	var fields struct {
		UserID    json.RawMessage `json:"userId"`
		UserName  json.RawMessage `json:"userName"`
		Text      json.RawMessage `json:"text"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{
		UserID:    stringValue(fields.UserID),
		UserName:  stringValue(fields.UserName),
		Text:      stringValue(fields.Text),
		Timestamp: millisValue(fields.Timestamp),
		Raw:       raw,
	}, nil
}

func stringValue(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// millisValue reads a number or numeric string, truncated to whole
// milliseconds. Anything else is zero.
func millisValue(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return int64(f)
	}
	if f, err := strconv.ParseFloat(stringValue(raw), 64); err == nil {
		return int64(f)
	}
	return 0
}

// UserJoinedData is sent to the other members when a connection joins.
type UserJoinedData struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
}

// UserListData is the room roster snapshot.
type UserListData struct {
	RoomID  string   `json:"roomId"`
	Members []Member `json:"members"`
}

// PlaybackData is the outbound play, pause, seek and stop payload.
type PlaybackData struct {
	Timestamp float64 `json:"timestamp"`
}

// TrackData is the outbound track-changed payload.
type TrackData struct {
	AudioURL  string  `json:"audioUrl,omitempty"`
	Title     string  `json:"title,omitempty"`
	Source    string  `json:"source,omitempty"`
	Timestamp float64 `json:"timestamp"`
	IsPlaying bool    `json:"isPlaying"`
}

// SignalData is the outbound signaling frame; the payload fields are untouched bytes.
// Extra keys from the inbound data are written beside the named fields.
type SignalData struct {
	From         string
	To           string
	ConnectionID string
	Offer        json.RawMessage
	Answer       json.RawMessage
	Candidate    json.RawMessage
	Extra        map[string]json.RawMessage
}

func (d SignalData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+6)
	for k, v := range d.Extra {
		out[k] = v
	}
	out["connectionId"] = d.ConnectionID
	if d.From != "" {
		out["from"] = d.From
	}
	if d.To != "" {
		out["to"] = d.To
	}
	if len(d.Offer) > 0 {
		out["offer"] = d.Offer
	}
	if len(d.Answer) > 0 {
		out["answer"] = d.Answer
	}
	if len(d.Candidate) > 0 {
		out["candidate"] = d.Candidate
	}
	return json.Marshal(out)
}

// TrackFromState renders a cached state as a track-changed payload.
func TrackFromState(s PlaybackState) TrackData {
	return TrackData{
		AudioURL:  s.AudioURL,
		Title:     s.Title,
		Source:    s.Source,
		Timestamp: s.TimestampSeconds,
		IsPlaying: s.IsPlaying,
	}
}
