// Package registry tracks live connections and the room each one is in.
//
// The registry is not safe for concurrent use. The hub owns it and touches it
// only from its event loop.
package registry

import (
	"sort"
	"time"

	"github.com/syncwave/relay/src/types"
)

// Entry is the registry record for one live connection.
type Entry struct {
	ConnectionID string
	UserID       string
	DisplayName  string
	RoomID       string
	Transport    string
	ConnectedAt  time.Time
}

// Registry maps connection ids to entries and keeps a room -> connections index
// in step with every mutation.
type Registry struct {
	entries map[string]*Entry
	rooms   map[string]map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// Register adds a connection with no room. Registering an id twice keeps the first entry.
func (r *Registry) Register(e Entry) bool {
	if _, ok := r.entries[e.ConnectionID]; ok {
		return false
	}
	e.RoomID = ""
	if e.ConnectedAt.IsZero() {
		e.ConnectedAt = time.Now()
	}
	r.entries[e.ConnectionID] = &e
	return true
}

// SetRoom places the connection in roomID and returns the room it was in before.
// A differing previous room means the caller must run leave handling for it.
func (r *Registry) SetRoom(connID, roomID, userID, displayName string) (prev string, ok bool) {
	e, ok := r.entries[connID]
	if !ok {
		return "", false
	}
	prev = e.RoomID
	if prev != "" && prev != roomID {
		r.unindex(prev, connID)
	}
	if userID != "" {
		e.UserID = userID
	}
	if displayName != "" {
		e.DisplayName = displayName
	}
	if e.DisplayName == "" {
		e.DisplayName = types.DefaultDisplayName
	}
	e.RoomID = roomID
	r.index(roomID, connID)
	return prev, true
}

// ClearRoom takes the connection out of its room but keeps it registered.
func (r *Registry) ClearRoom(connID string) string {
	e, ok := r.entries[connID]
	if !ok || e.RoomID == "" {
		return ""
	}
	prev := e.RoomID
	r.unindex(prev, connID)
	e.RoomID = ""
	return prev
}

// Remove deletes the entry and returns its last room, if any.
func (r *Registry) Remove(connID string) (Entry, bool) {
	e, ok := r.entries[connID]
	if !ok {
		return Entry{}, false
	}
	if e.RoomID != "" {
		r.unindex(e.RoomID, connID)
	}
	delete(r.entries, connID)
	return *e, true
}

// Get returns a copy of one entry.
func (r *Registry) Get(connID string) (Entry, bool) {
	e, ok := r.entries[connID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// All returns a snapshot of every entry keyed by connection id.
func (r *Registry) All() map[string]Entry {
	out := make(map[string]Entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = *e
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int { return len(r.entries) }

func (r *Registry) index(roomID, connID string) {
	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[string]struct{})
		r.rooms[roomID] = set
	}
	set[connID] = struct{}{}
}

func (r *Registry) unindex(roomID, connID string) {
	set, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.rooms, roomID)
	}
}

func sortMembers(m []types.Member) {
	sort.Slice(m, func(i, j int) bool { return m[i].ConnectionID < m[j].ConnectionID })
}
