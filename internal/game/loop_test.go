package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startedTestRoom builds a full room in the playing state without launching
// the background loop, so tests can drive ticks by hand.
func startedTestRoom(t *testing.T, reporter OutcomeReporter) (*Registry, *Room, *fakeConn, *fakeConn) {
	t.Helper()
	reg := NewRegistry(nil, reporter)
	room := reg.GetOrCreate("loop-room")

	p1, conn1 := newTestPlayer("u1", "alice", true)
	p2, conn2 := newTestPlayer("u2", "bob", true)
	_, err := room.Admit(p1)
	require.NoError(t, err)
	_, err = room.Admit(p2)
	require.NoError(t, err)

	now := time.Now()
	room.Mu.Lock()
	room.started = true
	room.lastTick = now.Add(-tickInterval)
	room.freezeUntil = now.Add(-time.Second)
	room.Mu.Unlock()
	return reg, room, conn1, conn2
}

func TestTickAdvancesBallAndBroadcasts(t *testing.T) {
	_, room, conn1, conn2 := startedTestRoom(t, nil)

	room.Mu.Lock()
	before := room.state.BallPos
	room.Mu.Unlock()

	cont, err := room.tick(time.Now())
	require.NoError(t, err)
	assert.True(t, cont)

	room.Mu.Lock()
	after := room.state.BallPos
	room.Mu.Unlock()
	assert.NotEqual(t, before, after)
	assert.Equal(t, 1, conn1.countType("game_update"))
	assert.Equal(t, 1, conn2.countType("game_update"))
}

func TestTickHoldsBallDuringFreeze(t *testing.T) {
	_, room, conn1, _ := startedTestRoom(t, nil)

	now := time.Now()
	room.Mu.Lock()
	room.freezeUntil = now.Add(time.Second)
	before := room.state.BallPos
	room.Mu.Unlock()

	cont, err := room.tick(now)
	require.NoError(t, err)
	assert.True(t, cont)

	room.Mu.Lock()
	after := room.state.BallPos
	room.Mu.Unlock()
	assert.Equal(t, before, after, "ball must hold still during the post-score freeze")
	assert.Equal(t, 1, conn1.countType("game_update"), "snapshots keep flowing during the freeze")
}

func TestTickStopsWhenNotStarted(t *testing.T) {
	_, room, _, _ := startedTestRoom(t, nil)

	room.Mu.Lock()
	room.started = false
	room.Mu.Unlock()

	cont, err := room.tick(time.Now())
	require.NoError(t, err)
	assert.False(t, cont)
}

func TestTickStopsWhenRoomEmpties(t *testing.T) {
	_, room, _, _ := startedTestRoom(t, nil)

	room.Mu.Lock()
	room.player1 = nil
	room.player2 = nil
	room.Mu.Unlock()

	cont, err := room.tick(time.Now())
	require.NoError(t, err)
	assert.False(t, cont)

	room.Mu.Lock()
	started := room.started
	room.Mu.Unlock()
	assert.False(t, started)
}

func TestLoopAbortsAfterRepeatedTickFailures(t *testing.T) {
	_, room, conn1, conn2 := startedTestRoom(t, nil)

	// Panicking writes make every broadcast, and so every tick, fail.
	conn1.panicWrites = true
	conn2.panicWrites = true

	done := make(chan struct{})
	go func() {
		room.runLoop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not abort after repeated tick failures")
	}

	room.Mu.Lock()
	started := room.started
	room.Mu.Unlock()
	assert.False(t, started, "an aborted loop must leave the playing state")
}

func TestTickEndsGameAtWinningScore(t *testing.T) {
	reporter := newFakeReporter()
	_, room, conn1, conn2 := startedTestRoom(t, reporter)

	// One point from victory, ball about to sail past the right edge.
	room.Mu.Lock()
	room.state.ScoreLeft = winningScore - 1
	room.state.BallPos = vec2{X: 1.02, Y: 0.5}
	room.state.BallVel = vec2{X: baseBallSpeed, Y: 0}
	room.state.PaddleRight = 0.0
	room.Mu.Unlock()

	cont, err := room.tick(time.Now())
	require.NoError(t, err)
	assert.False(t, cont, "loop must stop once the game is over")

	select {
	case out := <-reporter.outcomes:
		assert.Equal(t, "player1", out.Winner)
		assert.Equal(t, winningScore, out.ScoreLeft)
		assert.False(t, out.Abandoned)
	case <-time.After(time.Second):
		t.Fatal("no outcome reported at game end")
	}

	assert.Equal(t, 1, conn1.countType("game_end"))
	assert.Equal(t, 1, conn2.countType("game_end"))

	room.Mu.Lock()
	assert.True(t, room.gameOver)
	assert.False(t, room.started)
	room.Mu.Unlock()
}
