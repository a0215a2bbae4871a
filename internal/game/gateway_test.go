package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPlayer admits a player whose connection will replay the given raw
// messages in order, then fail the next read.
func scriptedPlayer(t *testing.T, room *Room, id, username string, raw ...string) (*Player, *fakeConn) {
	t.Helper()
	p, conn := newTestPlayer(id, username, true)
	for _, m := range raw {
		conn.inbound = append(conn.inbound, []byte(m))
	}
	_, err := room.Admit(p)
	require.NoError(t, err)
	return p, conn
}

func TestReadLoopRoutesAndToleratesBadInput(t *testing.T) {
	reg := NewRegistry(nil, nil)
	g := NewGateway(reg, nil, "secret")
	room := reg.GetOrCreate("room-1")

	p1, conn1 := scriptedPlayer(t, room, "u1", "alice",
		`{not json`,
		`{"type":"made_up_type"}`,
		`{"type":"paddle_position"}`,
		`{"type":"ping"}`,
		`{"type":"player_ready"}`,
	)
	_, conn2 := scriptedPlayer(t, room, "u2", "bob")

	g.readLoop(p1)

	assert.Equal(t, 1, conn1.countType("pong"))
	assert.Equal(t, 1, conn2.countType("players_ready"), "the ready message after the bad input must still route")
	assert.True(t, conn1.closed, "read error must close the connection")
	assert.True(t, reg.Exists("room-1"), "room with a remaining player must survive")

	room.Mu.Lock()
	occupancy := room.occupancyLocked()
	room.Mu.Unlock()
	assert.Equal(t, 1, occupancy, "reader's slot must be vacated on read error")
}

func TestReadLoopStopsOnLeaveWaitingRoom(t *testing.T) {
	reg := NewRegistry(nil, nil)
	g := NewGateway(reg, nil, "secret")
	room := reg.GetOrCreate("room-1")

	p1, conn1 := scriptedPlayer(t, room, "u1", "alice",
		`{"type":"leave_waiting_room"}`,
		`{"type":"player_ready"}`,
	)

	g.readLoop(p1)

	assert.False(t, reg.Exists("room-1"), "emptied room must be removed")
	assert.True(t, conn1.closed)
	assert.Len(t, conn1.inbound, 1, "nothing may be read after leave_waiting_room")
}

func TestReadLoopReadErrorRemovesEmptyRoom(t *testing.T) {
	reg := NewRegistry(nil, nil)
	g := NewGateway(reg, nil, "secret")
	room := reg.GetOrCreate("room-1")

	p1, conn1 := scriptedPlayer(t, room, "u1", "alice")

	g.readLoop(p1)

	assert.True(t, conn1.closed)
	assert.False(t, reg.Exists("room-1"))
}
