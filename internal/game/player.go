package game

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Side identifies which paddle a player controls.
const (
	SideLeft  = "left"
	SideRight = "right"
)

const livenessProbeTimeout = 1 * time.Second

// Conn is the slice of *websocket.Conn the game layer needs. Tests swap in
// a recording fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Player binds one websocket connection to a paddle slot in a room.
type Player struct {
	ID       string
	Username string
	Side     string
	Authed   bool
	Conn     Conn
	Room     *Room

	writeMu sync.Mutex
}

// SafeWriteJSON serializes concurrent writes to the underlying connection.
// gorilla/websocket does not allow concurrent writers.
func (p *Player) SafeWriteJSON(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.Conn.WriteJSON(v)
}

// probeAlive checks whether the connection still accepts writes. Used to
// evict stale occupants before admitting a new player.
func (p *Player) probeAlive() bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	deadline := time.Now().Add(livenessProbeTimeout)
	return p.Conn.WriteControl(websocket.PingMessage, nil, deadline) == nil
}
