package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syncwave/relay/src/types"
)

type memorySink struct {
	name   string
	mu     sync.Mutex
	got    []types.Message
	fail   bool
	closed bool
}

func (m *memorySink) Name() string { return m.name }

func (m *memorySink) Write(_ context.Context, msg types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.got = append(m.got, msg)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestAsyncFansOutInOrder(t *testing.T) {
	a1 := &memorySink{name: "a"}
	a2 := &memorySink{name: "b"}
	a := NewAsync(zerolog.Nop(), 16, a1, a2)
	a.Start()

	for _, ev := range []string{types.EventUserJoined, types.EventChatMessage, types.EventRoomClosed} {
		a.Record(types.Message{Event: ev, RoomID: "r"})
	}
	require.NoError(t, a.Stop())

	for _, s := range []*memorySink{a1, a2} {
		require.Len(t, s.got, 3)
		assert.Equal(t, types.EventRoomClosed, s.got[2].Event)
		assert.True(t, s.closed)
	}
}

func TestAsyncFailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &memorySink{name: "bad", fail: true}
	good := &memorySink{name: "good"}
	a := NewAsync(zerolog.Nop(), 4, bad, good)
	a.Start()

	a.Record(types.Message{Event: types.EventPlay, RoomID: "r"})
	require.NoError(t, a.Stop())
	assert.Len(t, good.got, 1)
}

func TestAsyncDropsWhenQueueFull(t *testing.T) {
	s := &memorySink{name: "s"}
	a := NewAsync(zerolog.Nop(), 1, s)

	a.Record(types.Message{Event: "one"})
	a.Record(types.Message{Event: "two"})
	assert.Equal(t, uint64(1), a.Dropped())

	a.Start()
	require.NoError(t, a.Stop())
	require.Len(t, s.got, 1)
	assert.Equal(t, "one", s.got[0].Event)
}

func TestAsyncRecordAfterStopIsIgnored(t *testing.T) {
	a := NewAsync(zerolog.Nop(), 1)
	a.Start()
	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop())

	assert.NotPanics(t, func() { a.Record(types.Message{Event: "late"}) })
}

func TestSnapshotFieldsRoundTrip(t *testing.T) {
	st := types.PlaybackState{
		AudioURL:         "https://cdn.example/a.mp3",
		Title:            "Song A",
		Source:           "upload",
		TimestampSeconds: 42.25,
		IsPlaying:        true,
		UpdatedAt:        time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC),
	}

	fields := make(map[string]string)
	for k, v := range snapshotFields(st) {
		fields[k] = v.(string)
	}
	got, err := parseSnapshot(fields)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestParseSnapshotRejectsGarbage(t *testing.T) {
	_, err := parseSnapshot(map[string]string{"timestamp": "later"})
	assert.Error(t, err)
}

func TestNewRedisSinkUnreachable(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := NewRedisSink(ctx, cfg, zerolog.Nop())
	assert.Nil(t, s)
	assert.Error(t, err)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, "syncwave:ws:", cfg.Prefix)
	assert.Equal(t, 6*time.Hour, cfg.PlaybackTTL)
}

func TestRedisSinkReportsLostConnection(t *testing.T) {
	s := &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 200 * time.Millisecond,
			MaxRetries:  -1,
		}),
		prefix: "test:",
		logger: zerolog.Nop(),
	}
	defer s.Close()
	assert.Equal(t, "test:playback:R", s.playbackKey("R"))
	assert.Equal(t, "test:room:R", s.roomChannel("R"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, ok, err := s.Snapshot(ctx, "R")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, types.PlaybackState{}, st)

	assert.Error(t, s.Write(ctx, types.Message{Event: types.EventPlay, RoomID: "R"}))
}
