package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/syncwave/relay/src/types"
	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5000

// DefaultHistoryLimit applies when a read asks for no explicit limit.
const DefaultHistoryLimit = 50

// ChatRecord is one persisted chat message.
type ChatRecord struct {
	ID           int64           `json:"id"`
	RoomID       string          `json:"roomId"`
	ConnectionID string          `json:"connectionId"`
	UserID       string          `json:"userId"`
	UserName     string          `json:"userName"`
	Text         string          `json:"text"`
	SentAt       int64           `json:"timestamp"`
	Message      json.RawMessage `json:"message,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// PlaybackRecord is one persisted playback change.
type PlaybackRecord struct {
	ID           int64     `json:"id"`
	RoomID       string    `json:"roomId"`
	Event        string    `json:"event"`
	ConnectionID string    `json:"connectionId"`
	AudioURL     string    `json:"audioUrl,omitempty"`
	Title        string    `json:"title,omitempty"`
	Timestamp    float64   `json:"timestamp"`
	IsPlaying    bool      `json:"isPlaying"`
	CreatedAt    time.Time `json:"createdAt"`
}

// History keeps chat and playback activity in SQLite. It is a Sink and also
// serves reads for the room history API.
type History struct {
	db *sql.DB
}

// OpenHistory opens the database at path. Call Migrate before writing.
func OpenHistory(path string) (*History, error) {
	if path == "" {
		path = "syncwave.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return &History{db: db}, nil
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=journal_mode=WAL", path, separator, defaultBusyTimeout)
}

// Migrate creates the schema if missing.
func (h *History) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			user_name TEXT NOT NULL,
			text TEXT NOT NULL,
			sent_at INTEGER NOT NULL,
			message TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_room ON chat_messages(room_id, id);`,
		`CREATE TABLE IF NOT EXISTS playback_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			event TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			audio_url TEXT NOT NULL,
			title TEXT NOT NULL,
			position REAL NOT NULL,
			is_playing INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_playback_room ON playback_events(room_id, id);`,
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (h *History) Name() string { return "sqlite" }

// Write persists chat messages and playback changes. Other events are ignored.
func (h *History) Write(ctx context.Context, msg types.Message) error {
	created := msg.Timestamp
	if created.IsZero() {
		created = time.Now()
	}

	switch {
	case msg.Event == types.EventChatMessage:
		chat, ok := msg.Data.(types.ChatMessage)
		if !ok {
			return nil
		}
		_, err := h.db.ExecContext(ctx, `
			INSERT INTO chat_messages(room_id, connection_id, user_id, user_name, text, sent_at, message, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.RoomID, msg.ClientID, chat.UserID, chat.UserName, chat.Text, chat.Timestamp, string(chat.Raw), created.UnixMilli())
		return err
	case isPlayback(msg.Event):
		st, ok := msg.Data.(types.PlaybackState)
		if !ok {
			return nil
		}
		_, err := h.db.ExecContext(ctx, `
			INSERT INTO playback_events(room_id, event, connection_id, audio_url, title, position, is_playing, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.RoomID, msg.Event, msg.ClientID, st.AudioURL, st.Title, st.TimestampSeconds, st.IsPlaying, created.UnixMilli())
		return err
	}
	return nil
}

// Chat returns up to limit of the most recent messages in roomID, oldest first.
func (h *History) Chat(ctx context.Context, roomID string, limit int) ([]ChatRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, room_id, connection_id, user_id, user_name, text, sent_at, message, created_at
		FROM (
			SELECT * FROM chat_messages WHERE room_id = ? ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]ChatRecord, 0, limit)
	for rows.Next() {
		var (
			r       ChatRecord
			raw     sql.NullString
			created int64
		)
		if err := rows.Scan(&r.ID, &r.RoomID, &r.ConnectionID, &r.UserID, &r.UserName, &r.Text, &r.SentAt, &raw, &created); err != nil {
			return nil, err
		}
		if raw.Valid && raw.String != "" {
			r.Message = json.RawMessage(raw.String)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Playback returns up to limit of the most recent playback changes in roomID, oldest first.
func (h *History) Playback(ctx context.Context, roomID string, limit int) ([]PlaybackRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, room_id, event, connection_id, audio_url, title, position, is_playing, created_at
		FROM (
			SELECT * FROM playback_events WHERE room_id = ? ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PlaybackRecord, 0, limit)
	for rows.Next() {
		var (
			r       PlaybackRecord
			created int64
		)
		if err := rows.Scan(&r.ID, &r.RoomID, &r.Event, &r.ConnectionID, &r.AudioURL, &r.Title, &r.Timestamp, &r.IsPlaying, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}
