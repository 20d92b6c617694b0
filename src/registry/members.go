package registry

import "github.com/syncwave/relay/src/types"

// MembersOf returns the connections whose entry points at roomID.
// Membership is an unordered set; the slice is sorted by connection id only
// so that rosters render the same way twice.
func (r *Registry) MembersOf(roomID string) []types.Member {
	set := r.rooms[roomID]
	out := make([]types.Member, 0, len(set))
	for id := range set {
		e := r.entries[id]
		out = append(out, types.Member{
			ConnectionID: e.ConnectionID,
			UserID:       e.UserID,
			DisplayName:  e.DisplayName,
		})
	}
	sortMembers(out)
	return out
}

// ConnectionsIn returns the connection ids in roomID.
func (r *Registry) ConnectionsIn(roomID string) []string {
	set := r.rooms[roomID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// IsEmpty reports whether no connection is in roomID.
func (r *Registry) IsEmpty(roomID string) bool {
	return len(r.rooms[roomID]) == 0
}

// Rooms returns every non-empty room with its member count.
func (r *Registry) Rooms() map[string]int {
	out := make(map[string]int, len(r.rooms))
	for id, set := range r.rooms {
		out[id] = len(set)
	}
	return out
}
