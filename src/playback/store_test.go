package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syncwave/relay/src/types"
)

func ptr[T any](v T) *T { return &v }

func TestGetWithoutTrack(t *testing.T) {
	s := New()
	_, ok := s.Get("lounge")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestTrackChangedCreatesState(t *testing.T) {
	s := New()
	st, ok := s.Apply("lounge", &types.TrackChanged{
		RoomID:    "lounge",
		AudioURL:  "u1",
		Title:     "Song A",
		Source:    "youtube",
		Timestamp: ptr(30.0),
		IsPlaying: ptr(true),
	})
	require.True(t, ok)
	assert.Equal(t, "u1", st.AudioURL)
	assert.Equal(t, 30.0, st.TimestampSeconds)
	assert.True(t, st.IsPlaying)
	assert.False(t, st.UpdatedAt.IsZero())

	got, ok := s.Get("lounge")
	require.True(t, ok)
	assert.Equal(t, st, got)
}

func TestTrackChangedDefaults(t *testing.T) {
	s := New()
	st, _ := s.Apply("lounge", &types.TrackChanged{RoomID: "lounge", Title: "Song B"})
	assert.Equal(t, 0.0, st.TimestampSeconds)
	assert.False(t, st.IsPlaying)
}

func TestControlWithoutTrackIsIgnored(t *testing.T) {
	s := New()
	_, ok := s.Apply("lounge", &types.PlaybackControl{Kind: types.EventPlay, RoomID: "lounge", Timestamp: 5})
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestPlayPauseSeekPatchPlayHead(t *testing.T) {
	s := New()
	s.Apply("r", &types.TrackChanged{RoomID: "r", AudioURL: "u1"})

	st, ok := s.Apply("r", &types.PlaybackControl{Kind: types.EventPlay, RoomID: "r", Timestamp: 12})
	require.True(t, ok)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, 12.0, st.TimestampSeconds)
	assert.Equal(t, "u1", st.AudioURL)

	st, _ = s.Apply("r", &types.PlaybackControl{Kind: types.EventSeek, RoomID: "r", Timestamp: 40})
	assert.True(t, st.IsPlaying)
	assert.Equal(t, 40.0, st.TimestampSeconds)

	st, _ = s.Apply("r", &types.PlaybackControl{Kind: types.EventPause, RoomID: "r", Timestamp: 41.5})
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 41.5, st.TimestampSeconds)
}

func TestStopResetsState(t *testing.T) {
	s := New()
	s.Apply("r", &types.TrackChanged{RoomID: "r", AudioURL: "u1"})
	s.Apply("r", &types.PlaybackControl{Kind: types.EventPlay, RoomID: "r", Timestamp: 45})
	s.Apply("r", &types.PlaybackControl{Kind: types.EventStop, RoomID: "r"})

	st, ok := s.Get("r")
	require.True(t, ok)
	assert.Equal(t, 0.0, st.TimestampSeconds)
	assert.False(t, st.IsPlaying)
}

func TestNegativeTimestampClamped(t *testing.T) {
	s := New()
	st := s.Set("r", types.PlaybackState{TimestampSeconds: -3})
	assert.Equal(t, 0.0, st.TimestampSeconds)
}

func TestEvict(t *testing.T) {
	s := New()
	s.Set("r", types.PlaybackState{AudioURL: "u"})
	assert.True(t, s.Evict("r"))
	assert.False(t, s.Evict("r"))
	_, ok := s.Get("r")
	assert.False(t, ok)
}
