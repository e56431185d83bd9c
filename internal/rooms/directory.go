// Package rooms keeps room membership for live connections.
package rooms

import (
	"sort"
	"sync"
)

// RoomInfo summarizes a room for listings.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Directory maps room names to member sets. Rooms are created on first join
// and pruned as soon as they become empty, so an absent room and an empty
// room look the same to callers.
//
// M is the member handle, usually a connection pointer.
type Directory[M comparable] struct {
	mu     sync.RWMutex
	rooms  map[string]map[M]struct{}
	joined map[M]map[string]struct{}
}

// NewDirectory returns an empty directory.
func NewDirectory[M comparable]() *Directory[M] {
	return &Directory[M]{
		rooms:  make(map[string]map[M]struct{}),
		joined: make(map[M]map[string]struct{}),
	}
}

// Join adds m to room and reports whether membership changed.
func (d *Directory[M]) Join(room string, m M) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[room]
	if !ok {
		members = make(map[M]struct{})
		d.rooms[room] = members
	}
	if _, already := members[m]; already {
		return false
	}
	members[m] = struct{}{}

	names, ok := d.joined[m]
	if !ok {
		names = make(map[string]struct{})
		d.joined[m] = names
	}
	names[room] = struct{}{}
	return true
}

// Leave removes m from room and reports whether membership changed.
func (d *Directory[M]) Leave(room string, m M) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.leaveLocked(room, m)
}

func (d *Directory[M]) leaveLocked(room string, m M) bool {
	members, ok := d.rooms[room]
	if !ok {
		return false
	}
	if _, present := members[m]; !present {
		return false
	}
	delete(members, m)
	if len(members) == 0 {
		delete(d.rooms, room)
	}

	if names, ok := d.joined[m]; ok {
		delete(names, room)
		if len(names) == 0 {
			delete(d.joined, m)
		}
	}
	return true
}

// LeaveAll removes m from every room it belongs to and returns the affected
// room names in sorted order.
func (d *Directory[M]) LeaveAll(m M) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := sortedKeys(d.joined[m])
	for _, room := range names {
		d.leaveLocked(room, m)
	}
	return names
}

// Members returns a snapshot of the members of room.
func (d *Directory[M]) Members(room string) []M {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[room]
	out := make([]M, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out
}

// IsMember reports whether m belongs to room.
func (d *Directory[M]) IsMember(room string, m M) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[room][m]
	return ok
}

// RoomsOf returns the sorted names of the rooms m belongs to.
func (d *Directory[M]) RoomsOf(m M) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.joined[m])
}

// Rooms lists non-empty rooms sorted by name.
func (d *Directory[M]) Rooms() []RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]RoomInfo, 0, len(d.rooms))
	for name, members := range d.rooms {
		out = append(out, RoomInfo{Name: name, Members: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of non-empty rooms.
func (d *Directory[M]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
