package rooms

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type conn struct{ name string }

func TestJoinCreatesRoomAndIsIdempotent(t *testing.T) {
	d := NewDirectory[*conn]()
	c := &conn{"c1"}

	assert.True(t, d.Join("sports", c))
	assert.False(t, d.Join("sports", c))
	assert.Len(t, d.Members("sports"), 1)
	assert.True(t, d.IsMember("sports", c))
}

func TestLeaveTwiceIsNoop(t *testing.T) {
	d := NewDirectory[*conn]()
	c := &conn{"c1"}
	d.Join("sports", c)

	assert.True(t, d.Leave("sports", c))
	assert.False(t, d.Leave("sports", c))
	assert.Empty(t, d.Members("sports"))
	assert.Zero(t, d.Len(), "empty rooms are pruned")
}

func TestMembersOfAbsentRoomIsEmpty(t *testing.T) {
	d := NewDirectory[*conn]()
	assert.Empty(t, d.Members("nowhere"))
	assert.False(t, d.Leave("nowhere", &conn{"c"}))
}

func TestLeaveAllRemovesFromEveryRoom(t *testing.T) {
	d := NewDirectory[*conn]()
	c1, c2 := &conn{"c1"}, &conn{"c2"}
	d.Join("B", c1)
	d.Join("A", c1)
	d.Join("A", c2)

	affected := d.LeaveAll(c1)
	require.Equal(t, []string{"A", "B"}, affected)

	assert.Equal(t, []*conn{c2}, d.Members("A"))
	assert.Empty(t, d.Members("B"))
	assert.Empty(t, d.RoomsOf(c1))
	assert.Empty(t, d.LeaveAll(c1))
}

func TestRoomsListing(t *testing.T) {
	d := NewDirectory[*conn]()
	c1, c2 := &conn{"c1"}, &conn{"c2"}
	d.Join("trade", c1)
	d.Join("general", c1)
	d.Join("general", c2)

	assert.Equal(t, []RoomInfo{{Name: "general", Members: 2}, {Name: "trade", Members: 1}}, d.Rooms())
	assert.Equal(t, []string{"general", "trade"}, d.RoomsOf(c1))
}

func TestConcurrentJoinLeave(t *testing.T) {
	d := NewDirectory[*conn]()
	conns := make([]*conn, 20)
	for i := range conns {
		conns[i] = &conn{fmt.Sprintf("c%d", i)}
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *conn) {
			defer wg.Done()
			room := fmt.Sprintf("room-%d", i%3)
			d.Join(room, c)
			d.Join("global", c)
			if i%2 == 0 {
				d.LeaveAll(c)
			}
		}(i, c)
	}
	wg.Wait()

	assert.Len(t, d.Members("global"), 10)
	for i, c := range conns {
		if i%2 == 0 {
			assert.Empty(t, d.RoomsOf(c))
		} else {
			assert.Len(t, d.RoomsOf(c), 2)
		}
	}
}
