package presence

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/mttgvnrd/Transcendence/internal/auth"
)

// =============================================================================
// PRESENCE CHANNEL
// =============================================================================

// Online flags are mirrored into Redis with a TTL so other services (and a
// crashed process) converge on reality without explicit offline writes.
const (
	onlineTTL       = 30 * time.Second
	onlineRefresh   = 20 * time.Second
	onlineKeyPrefix = "user:"
	onlineKeySuffix = ":online"
)

// DisplayNames resolves a user's public display name. Nil-safe; the
// username is used as a fallback.
type DisplayNames interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// wsConn is the slice of *websocket.Conn the service needs; tests swap in
// a recording fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

type client struct {
	userID   string
	username string
	conn     wsConn

	writeMu sync.Mutex
}

// userEntry groups every live connection for one identity plus the cancel
// for its TTL refresher goroutine.
type userEntry struct {
	conns  map[*client]bool
	cancel context.CancelFunc
}

func (c *client) safeWriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Service tracks which identities have at least one live presence
// connection. Owned once at process scope and injected into the router;
// per-identity connection sets live here, not on the handler type.
type Service struct {
	mu      sync.Mutex
	clients map[*client]bool
	byUser  map[string]*userEntry

	rdb    *redis.Client // optional
	names  DisplayNames  // optional
	secret []byte

	upgrader websocket.Upgrader
}

func NewService(rdb *redis.Client, names DisplayNames, jwtSecret string) *Service {
	return &Service{
		clients: make(map[*client]bool),
		byUser:  make(map[string]*userEntry),
		rdb:     rdb,
		names:   names,
		secret:  []byte(jwtSecret),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type statusUpdateMessage struct {
	Type     string `json:"type"` // "status_update"
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"` // online | offline
}

type onlineUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type onlineUsersMessage struct {
	Type  string       `json:"type"` // "online_users"
	Users []onlineUser `json:"users"`
}

// HandleWebSocket is the entry point for /ws/status. Presence requires an
// authenticated identity; anonymous connections are closed immediately.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.ParseToken(s.secret, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Presence] Upgrade failed: %v", err)
		return
	}

	c := &client{userID: identity.ID, username: identity.Username, conn: conn}

	if s.register(c) {
		ctx := context.Background()
		s.setOnlineFlag(ctx, identity.ID)
		s.broadcastStatus(identity.ID, identity.Username, "online")
	}

	// The new subscriber gets the full list immediately, then everyone gets
	// a fresh snapshot so all clients converge.
	ctx := context.Background()
	if err := c.safeWriteJSON(s.onlineUsersMessage(ctx)); err != nil {
		log.Printf("[Presence] Failed to send online list to %s: %v", identity.Username, err)
	}
	s.broadcastOnlineUsers(ctx)

	go s.readLoop(ctx, c)
}

// register adds the connection; on the identity's first connection it also
// starts the TTL refresher goroutine.
func (s *Service) register(c *client) (firstConn bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c] = true
	entry, ok := s.byUser[c.userID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		entry = &userEntry{conns: make(map[*client]bool), cancel: cancel}
		s.byUser[c.userID] = entry
		go s.refreshOnlineFlag(ctx, c.userID)
	}
	entry.conns[c] = true
	return !ok
}

// unregister removes the connection; on the identity's last connection it
// stops the refresher and reports lastConn=true.
func (s *Service) unregister(c *client) (lastConn bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, c)
	if entry, ok := s.byUser[c.userID]; ok {
		delete(entry.conns, c)
		if len(entry.conns) == 0 {
			entry.cancel()
			delete(s.byUser, c.userID)
			return true
		}
	}
	return false
}

func (s *Service) readLoop(ctx context.Context, c *client) {
	defer s.disconnect(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[Presence] Malformed message from %s: %v", c.username, err)
			continue
		}
		if msg.Type == "request_online_users" {
			s.broadcastOnlineUsers(ctx)
		}
	}
}

func (s *Service) disconnect(c *client) {
	c.conn.Close()

	if s.unregister(c) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.clearOnlineFlag(ctx, c.userID)
		s.broadcastStatus(c.userID, c.username, "offline")
		s.broadcastOnlineUsers(ctx)
	}
	log.Printf("[Presence] Connection closed for %s", c.username)
}

func (s *Service) broadcastStatus(userID, username, status string) {
	s.broadcast(statusUpdateMessage{
		Type:     "status_update",
		UserID:   userID,
		Username: username,
		Status:   status,
	})
}

func (s *Service) broadcastOnlineUsers(ctx context.Context) {
	s.broadcast(s.onlineUsersMessage(ctx))
}

func (s *Service) onlineUsersMessage(ctx context.Context) onlineUsersMessage {
	s.mu.Lock()
	users := make([]onlineUser, 0, len(s.byUser))
	for id, entry := range s.byUser {
		if len(entry.conns) == 0 {
			continue
		}
		var username string
		for c := range entry.conns {
			username = c.username
			break
		}
		users = append(users, onlineUser{ID: id, Username: username, DisplayName: username})
	}
	s.mu.Unlock()

	if s.names != nil {
		for i := range users {
			if name, err := s.names.DisplayName(ctx, users[i].ID); err == nil && name != "" {
				users[i].DisplayName = name
			}
		}
	}
	return onlineUsersMessage{Type: "online_users", Users: users}
}

func (s *Service) broadcast(msg any) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.safeWriteJSON(msg); err != nil {
			log.Printf("[Presence] Broadcast to %s failed: %v", c.username, err)
		}
	}
}

// OnlineCount reports the number of distinct online identities.
func (s *Service) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser)
}

// =============================================================================
// REDIS ONLINE FLAGS
// =============================================================================

func onlineKey(userID string) string {
	return onlineKeyPrefix + userID + onlineKeySuffix
}

func (s *Service) setOnlineFlag(ctx context.Context, userID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, onlineKey(userID), "1", onlineTTL).Err(); err != nil {
		log.Printf("[Presence] Failed to set online flag for %s: %v", userID, err)
	}
}

func (s *Service) clearOnlineFlag(ctx context.Context, userID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, onlineKey(userID)).Err(); err != nil {
		log.Printf("[Presence] Failed to clear online flag for %s: %v", userID, err)
	}
}

// refreshOnlineFlag keeps the TTL alive while at least one connection for
// the identity remains; the context is cancelled on the last disconnect.
func (s *Service) refreshOnlineFlag(ctx context.Context, userID string) {
	if s.rdb == nil {
		return
	}
	ticker := time.NewTicker(onlineRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.setOnlineFlag(ctx, userID)
		case <-ctx.Done():
			return
		}
	}
}
