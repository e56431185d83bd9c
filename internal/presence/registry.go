// Package presence tracks which users are connected right now.
//
// The Registry holds one Record per user id. It never performs I/O: every
// mutation hands the caller a fresh roster snapshot so the caller decides
// what to broadcast.
package presence

import (
	"errors"
	"fmt"
	"sync"
)

// Status is the availability a user advertises to others.
type Status string

// Supported presence statuses.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
)

// Field names accepted by UpdateField.
const (
	FieldStatus = "status"
	FieldAvatar = "avatar"
	FieldLevel  = "level"
)

var (
	// ErrInvalidStatus is returned for a status outside online/offline/away.
	ErrInvalidStatus = errors.New("presence: invalid status")
	// ErrInvalidLevel is returned for a level below 1 or of the wrong type.
	ErrInvalidLevel = errors.New("presence: invalid level")
	// ErrUnknownField is returned when UpdateField is asked for an unsupported field.
	ErrUnknownField = errors.New("presence: unknown field")
)

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOnline, StatusOffline, StatusAway:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Record is the roster entry for one connected user.
type Record struct {
	UserID      string `json:"id"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"avatar"`
	Status      Status `json:"status"`
	Level       int    `json:"level"`

	// ConnID identifies the connection that owns the record.
	ConnID string `json:"-"`
}

// Registry is the concurrency-safe map of user id to Record.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Register inserts rec or replaces the existing record for rec.UserID and
// returns the resulting snapshot. A replaced record keeps its roster position.
func (r *Registry) Register(rec Record) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Level < 1 {
		rec.Level = 1
	}
	if rec.Status == "" {
		rec.Status = StatusOnline
	}
	if _, exists := r.records[rec.UserID]; !exists {
		r.order = append(r.order, rec.UserID)
	}
	r.records[rec.UserID] = rec
	return r.snapshotLocked()
}

// Unregister removes the record for userID and returns it with the resulting
// snapshot. The bool is false when no record was present, which is not an
// error.
func (r *Registry) Unregister(userID string) (Record, []Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.removeLocked(userID, "")
	return rec, r.snapshotLocked(), ok
}

// UnregisterConn removes the record for userID only while it is still owned
// by connID. A connection whose record was taken over by a newer connection
// of the same user therefore cannot remove its successor.
func (r *Registry) UnregisterConn(userID, connID string) (Record, []Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.removeLocked(userID, connID)
	return rec, r.snapshotLocked(), ok
}

// Handoff transfers ownership of userID's record from connID to successor.
// Status, avatar, level and roster position are kept as they are. It reports
// false when connID does not own the record.
func (r *Registry) Handoff(userID, connID, successor string) (Record, []Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok || rec.ConnID != connID {
		return Record{}, r.snapshotLocked(), false
	}
	rec.ConnID = successor
	r.records[userID] = rec
	return rec, r.snapshotLocked(), true
}

func (r *Registry) removeLocked(userID, connID string) (Record, bool) {
	rec, ok := r.records[userID]
	if !ok {
		return Record{}, false
	}
	if connID != "" && rec.ConnID != connID {
		return Record{}, false
	}
	delete(r.records, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return rec, true
}

// Lookup returns the record for userID, if any.
func (r *Registry) Lookup(userID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[userID]
	return rec, ok
}

// Snapshot returns the roster in insertion order.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Record {
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id])
	}
	return out
}

// Len reports how many users are online.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// UpdateField mutates status, avatar or level of a present record and returns
// the resulting snapshot. It returns false without error when userID is not
// registered.
func (r *Registry) UpdateField(userID, field string, value any) ([]Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		return nil, false, nil
	}

	switch field {
	case FieldStatus:
		raw, isString := value.(string)
		if st, isStatus := value.(Status); isStatus {
			raw, isString = string(st), true
		}
		if !isString {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidStatus, value)
		}
		st, err := ParseStatus(raw)
		if err != nil {
			return nil, false, err
		}
		rec.Status = st
	case FieldAvatar:
		avatar, isString := value.(string)
		if !isString {
			return nil, false, fmt.Errorf("presence: avatar must be a string, got %T", value)
		}
		rec.AvatarURL = avatar
	case FieldLevel:
		level, isInt := value.(int)
		if !isInt || level < 1 {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidLevel, value)
		}
		rec.Level = level
	default:
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	r.records[userID] = rec
	return r.snapshotLocked(), true, nil
}
