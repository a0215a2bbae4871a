package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWSConn struct {
	mu         sync.Mutex
	messages   []any
	inbound    [][]byte
	failWrites bool
	closed     bool
}

func (c *fakeWSConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		return 0, nil, errors.New("connection closed")
	}
	raw := c.inbound[0]
	c.inbound = c.inbound[1:]
	return websocket.TextMessage, raw, nil
}

func (c *fakeWSConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("write failed")
	}
	c.messages = append(c.messages, v)
	return nil
}

func (c *fakeWSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeWSConn) statusUpdates() []statusUpdateMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []statusUpdateMessage
	for _, m := range c.messages {
		if msg, ok := m.(statusUpdateMessage); ok {
			out = append(out, msg)
		}
	}
	return out
}

type fakeNames map[string]string

func (f fakeNames) DisplayName(ctx context.Context, userID string) (string, error) {
	if name, ok := f[userID]; ok {
		return name, nil
	}
	return "", nil
}

func newTestClient(userID, username string) (*client, *fakeWSConn) {
	conn := &fakeWSConn{}
	return &client{userID: userID, username: username, conn: conn}, conn
}

func TestRegisterTracksFirstAndLastConnection(t *testing.T) {
	s := NewService(nil, nil, "secret")

	c1, _ := newTestClient("u1", "alice")
	c2, _ := newTestClient("u1", "alice")

	assert.True(t, s.register(c1), "first connection for an identity")
	assert.False(t, s.register(c2), "second tab is not a first connection")
	assert.Equal(t, 1, s.OnlineCount())

	assert.False(t, s.unregister(c1), "identity still online through the other tab")
	assert.True(t, s.unregister(c2), "last connection gone")
	assert.Equal(t, 0, s.OnlineCount())
}

func TestOnlineUsersMessageListsDistinctIdentities(t *testing.T) {
	s := NewService(nil, fakeNames{"u1": "The Ace"}, "secret")

	c1, _ := newTestClient("u1", "alice")
	c1b, _ := newTestClient("u1", "alice")
	c2, _ := newTestClient("u2", "bob")
	s.register(c1)
	s.register(c1b)
	s.register(c2)

	msg := s.onlineUsersMessage(context.Background())
	assert.Equal(t, "online_users", msg.Type)
	require.Len(t, msg.Users, 2, "one entry per identity, not per connection")

	byID := make(map[string]onlineUser)
	for _, u := range msg.Users {
		byID[u.ID] = u
	}
	assert.Equal(t, "The Ace", byID["u1"].DisplayName)
	assert.Equal(t, "bob", byID["u2"].DisplayName, "username fallback when no display name")
}

func TestBroadcastSurvivesFailingClient(t *testing.T) {
	s := NewService(nil, nil, "secret")

	c1, conn1 := newTestClient("u1", "alice")
	c2, conn2 := newTestClient("u2", "bob")
	s.register(c1)
	s.register(c2)
	conn1.failWrites = true

	s.broadcastStatus("u3", "carol", "online")

	assert.Empty(t, conn1.statusUpdates())
	require.Len(t, conn2.statusUpdates(), 1)
	assert.Equal(t, "online", conn2.statusUpdates()[0].Status)
}

func TestDisconnectLastConnectionGoesOffline(t *testing.T) {
	s := NewService(nil, nil, "secret")

	c1, conn1 := newTestClient("u1", "alice")
	c2, conn2 := newTestClient("u2", "bob")
	s.register(c1)
	s.register(c2)

	s.disconnect(c2)

	assert.True(t, conn2.closed)
	assert.Equal(t, 1, s.OnlineCount())

	updates := conn1.statusUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, "offline", updates[0].Status)
	assert.Equal(t, "u2", updates[0].UserID)
}

func TestReadLoopServesListRequestsThenDisconnects(t *testing.T) {
	s := NewService(nil, nil, "secret")

	c1, conn1 := newTestClient("u1", "alice")
	watcher, watcherConn := newTestClient("u2", "bob")
	s.register(c1)
	s.register(watcher)

	conn1.inbound = [][]byte{
		[]byte(`{not json`),
		[]byte(`{"type":"request_online_users"}`),
	}

	s.readLoop(context.Background(), c1)

	watcherConn.mu.Lock()
	var lists int
	for _, m := range watcherConn.messages {
		if msg, ok := m.(onlineUsersMessage); ok && msg.Type == "online_users" {
			lists++
		}
	}
	watcherConn.mu.Unlock()
	assert.Equal(t, 2, lists, "one list for the request, one for the disconnect")

	assert.True(t, conn1.closed, "read error must close the connection")
	assert.Equal(t, 1, s.OnlineCount())
	updates := watcherConn.statusUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, "offline", updates[0].Status)
	assert.Equal(t, "u1", updates[0].UserID)
}

func TestDisconnectSecondTabStaysOnline(t *testing.T) {
	s := NewService(nil, nil, "secret")

	c1, _ := newTestClient("u1", "alice")
	c1b, conn1b := newTestClient("u1", "alice")
	watcher, watcherConn := newTestClient("u2", "bob")
	s.register(c1)
	s.register(c1b)
	s.register(watcher)

	s.disconnect(c1b)

	assert.True(t, conn1b.closed)
	assert.Equal(t, 2, s.OnlineCount())
	assert.Empty(t, watcherConn.statusUpdates(), "no offline broadcast while a tab remains")
}
