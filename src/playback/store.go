// Package playback caches the current track and play head of each live room
// so that late joiners can be brought in sync.
package playback

import (
	"time"

	"github.com/syncwave/relay/src/types"
)

// Store holds at most one state per room. Like the registry it is owned by
// the hub loop and not safe for concurrent use.
type Store struct {
	states map[string]*types.PlaybackState
	now    func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		states: make(map[string]*types.PlaybackState),
		now:    time.Now,
	}
}

// Get returns the cached state for roomID, if a track was ever set.
func (s *Store) Get(roomID string) (types.PlaybackState, bool) {
	st, ok := s.states[roomID]
	if !ok {
		return types.PlaybackState{}, false
	}
	return *st, true
}

// Set replaces the state for roomID.
func (s *Store) Set(roomID string, st types.PlaybackState) types.PlaybackState {
	if st.TimestampSeconds < 0 {
		st.TimestampSeconds = 0
	}
	st.UpdatedAt = s.now()
	s.states[roomID] = &st
	return st
}

// Patch updates the play head of an existing state. It returns false and
// does nothing when the room has no track.
func (s *Store) Patch(roomID string, fn func(st *types.PlaybackState)) (types.PlaybackState, bool) {
	st, ok := s.states[roomID]
	if !ok {
		return types.PlaybackState{}, false
	}
	fn(st)
	if st.TimestampSeconds < 0 {
		st.TimestampSeconds = 0
	}
	st.UpdatedAt = s.now()
	return *st, true
}

// Evict drops the state for roomID.
func (s *Store) Evict(roomID string) bool {
	if _, ok := s.states[roomID]; !ok {
		return false
	}
	delete(s.states, roomID)
	return true
}

// Len returns the number of cached rooms.
func (s *Store) Len() int { return len(s.states) }

// Apply folds one playback control event into the cache. track-changed
// replaces the state wholesale; the others only move an existing play head.
func (s *Store) Apply(roomID string, ev types.Event) (types.PlaybackState, bool) {
	switch e := ev.(type) {
	case *types.TrackChanged:
		st := types.PlaybackState{
			AudioURL: e.AudioURL,
			Title:    e.Title,
			Source:   e.Source,
		}
		if e.Timestamp != nil {
			st.TimestampSeconds = *e.Timestamp
		}
		if e.IsPlaying != nil {
			st.IsPlaying = *e.IsPlaying
		}
		return s.Set(roomID, st), true
	case *types.PlaybackControl:
		return s.Patch(roomID, func(st *types.PlaybackState) {
			switch e.Kind {
			case types.EventPlay:
				st.TimestampSeconds = e.Timestamp
				st.IsPlaying = true
			case types.EventPause:
				st.TimestampSeconds = e.Timestamp
				st.IsPlaying = false
			case types.EventSeek:
				st.TimestampSeconds = e.Timestamp
			case types.EventStop:
				st.TimestampSeconds = 0
				st.IsPlaying = false
			}
		})
	}
	return types.PlaybackState{}, false
}
