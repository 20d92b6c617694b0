package mirror

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/syncwave/relay/src/types"
)

// RedisConfig holds connection settings for the Redis mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// PlaybackTTL bounds how long a snapshot outlives its last update.
	PlaybackTTL time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		Prefix:      "syncwave:ws:",
		PlaybackTTL: 6 * time.Hour,
	}
}

// envelope wraps a message with the originating instance ID so that
// readers can tell relays apart.
type envelope struct {
	InstanceID string        `json:"instance_id"`
	Message    types.Message `json:"message"`
}

// RedisSink publishes room activity on a per-room channel and keeps the
// current playback snapshot of each room in a hash.
type RedisSink struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	instanceID string
	logger     zerolog.Logger
}

// NewRedisSink creates a sink and verifies the server is reachable.
func NewRedisSink(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	s := &RedisSink{
		client:     client,
		prefix:     cfg.Prefix,
		ttl:        cfg.PlaybackTTL,
		instanceID: uuid.New().String(),
		logger:     logger.With().Str("component", "redis-mirror").Logger(),
	}
	s.logger.Info().Str("instance_id", s.instanceID).Str("addr", cfg.Addr).Msg("redis mirror connected")
	return s, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) roomChannel(roomID string) string { return s.prefix + "room:" + roomID }
func (s *RedisSink) playbackKey(roomID string) string { return s.prefix + "playback:" + roomID }

// Write publishes msg and updates or deletes the room's playback snapshot.
func (s *RedisSink) Write(ctx context.Context, msg types.Message) error {
	payload, err := json.Marshal(envelope{InstanceID: s.instanceID, Message: msg})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch {
		case msg.Event == types.EventRoomClosed:
			pipe.Del(ctx, s.playbackKey(msg.RoomID))
		case isPlayback(msg.Event):
			st, ok := msg.Data.(types.PlaybackState)
			if !ok {
				break
			}
			pipe.HSet(ctx, s.playbackKey(msg.RoomID), snapshotFields(st))
			if s.ttl > 0 {
				pipe.Expire(ctx, s.playbackKey(msg.RoomID), s.ttl)
			}
		}
		pipe.Publish(ctx, s.roomChannel(msg.RoomID), payload)
		return nil
	})
	return err
}

// Snapshot reads the stored playback state of roomID.
func (s *RedisSink) Snapshot(ctx context.Context, roomID string) (types.PlaybackState, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.playbackKey(roomID)).Result()
	if err != nil {
		return types.PlaybackState{}, false, err
	}
	if len(fields) == 0 {
		return types.PlaybackState{}, false, nil
	}
	st, err := parseSnapshot(fields)
	return st, err == nil, err
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func snapshotFields(st types.PlaybackState) map[string]any {
	return map[string]any{
		"audio_url":  st.AudioURL,
		"title":      st.Title,
		"source":     st.Source,
		"timestamp":  strconv.FormatFloat(st.TimestampSeconds, 'f', -1, 64),
		"is_playing": strconv.FormatBool(st.IsPlaying),
		"updated_at": st.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseSnapshot(fields map[string]string) (types.PlaybackState, error) {
	st := types.PlaybackState{
		AudioURL: fields["audio_url"],
		Title:    fields["title"],
		Source:   fields["source"],
	}
	var err error
	if v := fields["timestamp"]; v != "" {
		if st.TimestampSeconds, err = strconv.ParseFloat(v, 64); err != nil {
			return st, fmt.Errorf("snapshot timestamp: %w", err)
		}
	}
	if v := fields["is_playing"]; v != "" {
		if st.IsPlaying, err = strconv.ParseBool(v); err != nil {
			return st, fmt.Errorf("snapshot is_playing: %w", err)
		}
	}
	if v := fields["updated_at"]; v != "" {
		if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return st, fmt.Errorf("snapshot updated_at: %w", err)
		}
	}
	return st, nil
}
