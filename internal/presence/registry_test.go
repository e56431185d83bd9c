package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.UserID)
	}
	return out
}

func TestRegisterReplacesInsteadOfDuplicating(t *testing.T) {
	r := NewRegistry()

	r.Register(Record{UserID: "u1", DisplayName: "Anbu", ConnID: "c1"})
	r.Register(Record{UserID: "u2", DisplayName: "Bala", ConnID: "c2"})
	snap := r.Register(Record{UserID: "u1", DisplayName: "Anbu", AvatarURL: "/a.png", ConnID: "c3"})

	require.Len(t, snap, 2)
	assert.Equal(t, []string{"u1", "u2"}, ids(snap))
	assert.Equal(t, "/a.png", snap[0].AvatarURL)
	assert.Equal(t, "c3", snap[0].ConnID)
}

func TestRegisterDefaults(t *testing.T) {
	r := NewRegistry()
	snap := r.Register(Record{UserID: "u1"})

	require.Len(t, snap, 1)
	assert.Equal(t, StatusOnline, snap[0].Status)
	assert.Equal(t, 1, snap[0].Level)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{UserID: "u1", DisplayName: "Anbu"})

	rec, snap, ok := r.Unregister("u1")
	require.True(t, ok)
	assert.Equal(t, "Anbu", rec.DisplayName)
	assert.Empty(t, snap)

	_, _, ok = r.Unregister("u1")
	assert.False(t, ok, "duplicate disconnect must be absorbed")
	assert.Empty(t, r.Snapshot())
}

func TestUnregisterConnKeepsNewerOwner(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{UserID: "u1", ConnID: "old"})
	r.Register(Record{UserID: "u1", ConnID: "new"})

	_, snap, ok := r.UnregisterConn("u1", "old")
	assert.False(t, ok)
	assert.Equal(t, []string{"u1"}, ids(snap))

	_, snap, ok = r.UnregisterConn("u1", "new")
	assert.True(t, ok)
	assert.Empty(t, snap)
	assert.Zero(t, r.Len())
}

func TestHandoffKeepsLiveFields(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{UserID: "u1", ConnID: "c1"})
	r.Register(Record{UserID: "u2", ConnID: "c2"})
	_, _, err := r.UpdateField("u1", FieldStatus, "away")
	require.NoError(t, err)
	_, _, err = r.UpdateField("u1", FieldAvatar, "/static/uploads/new.png")
	require.NoError(t, err)

	_, _, ok := r.Handoff("u1", "other", "c3")
	assert.False(t, ok, "only the owning connection can hand off")

	rec, snap, ok := r.Handoff("u1", "c1", "c3")
	require.True(t, ok)
	assert.Equal(t, "c3", rec.ConnID)
	assert.Equal(t, StatusAway, rec.Status)
	assert.Equal(t, "/static/uploads/new.png", rec.AvatarURL)
	assert.Equal(t, []string{"u1", "u2"}, ids(snap))

	_, _, ok = r.UnregisterConn("u1", "c1")
	assert.False(t, ok, "previous owner no longer controls the record")
}

func TestUpdateField(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{UserID: "u1"})

	snap, ok, err := r.UpdateField("u1", FieldStatus, "away")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, snap, 1)
	assert.Equal(t, StatusAway, snap[0].Status)

	_, ok, err = r.UpdateField("u1", FieldAvatar, "/static/uploads/u1.png")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = r.UpdateField("u1", FieldLevel, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, _ := r.Lookup("u1")
	assert.Equal(t, StatusAway, rec.Status)
	assert.Equal(t, "/static/uploads/u1.png", rec.AvatarURL)
	assert.Equal(t, 4, rec.Level)
}

func TestUpdateFieldAbsentUserIsNoop(t *testing.T) {
	r := NewRegistry()
	_, ok, err := r.UpdateField("ghost", FieldStatus, "away")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateFieldValidation(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{UserID: "u1"})

	_, _, err := r.UpdateField("u1", FieldStatus, "busy")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, _, err = r.UpdateField("u1", FieldLevel, 0)
	assert.ErrorIs(t, err, ErrInvalidLevel)

	_, _, err = r.UpdateField("u1", "nickname", "x")
	assert.ErrorIs(t, err, ErrUnknownField)

	rec, _ := r.Lookup("u1")
	assert.Equal(t, StatusOnline, rec.Status)
}

func TestConcurrentConnectDisconnectNeverDuplicates(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%10)
			conn := fmt.Sprintf("c%d", i)
			r.Register(Record{UserID: user, ConnID: conn})
			if i%2 == 0 {
				r.UnregisterConn(user, conn)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, rec := range r.Snapshot() {
		assert.False(t, seen[rec.UserID], "duplicate record for %s", rec.UserID)
		seen[rec.UserID] = true
	}
	assert.Equal(t, len(seen), r.Len())
}
