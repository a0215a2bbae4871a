package game

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mttgvnrd/Transcendence/internal/auth"
)

// =============================================================================
// CONNECTION GATEWAY
// =============================================================================

// Close codes sent on admission failure.
const (
	CloseCodeRoomFull  = 4000
	CloseCodeDuplicate = 4001
)

// Gateway upgrades game connections, resolves room ids, runs admission and
// routes inbound messages into the owning room.
type Gateway struct {
	registry *Registry
	sessions SessionStore
	secret   []byte

	upgrader websocket.Upgrader
}

func NewGateway(registry *Registry, sessions SessionStore, jwtSecret string) *Gateway {
	return &Gateway{
		registry: registry,
		sessions: sessions,
		secret:   []byte(jwtSecret),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket is the entry point for /ws and /ws/{roomId}.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, authed := g.identify(r)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] Upgrade failed: %v", err)
		return
	}

	roomID := g.resolveRoomID(r, identity, authed)
	room := g.registry.GetOrCreate(roomID)

	player := &Player{
		ID:       identity.ID,
		Username: identity.Username,
		Authed:   authed,
		Conn:     conn,
	}

	res, err := room.Admit(player)
	if err != nil {
		code := CloseCodeDuplicate
		if err == ErrRoomFull {
			code = CloseCodeRoomFull
		}
		log.Printf("[Gateway] Room %s: rejecting %s: %v", roomID, identity.Username, err)
		msg := websocket.FormatCloseMessage(code, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	if err := player.SafeWriteJSON(assignRoleMessage{
		Type:         "assign_role",
		Role:         res.Side,
		CanStartGame: res.Side == SideLeft,
	}); err != nil {
		log.Printf("[Gateway] Room %s: failed to send role to %s: %v", roomID, identity.Username, err)
	}

	if res.Full {
		room.broadcast(playersReadyMessage{
			Type:             "players_ready",
			PlayersConnected: 2,
			Player1:          res.Player1Name,
			Player2:          res.Player2Name,
			Player1Ready:     res.Player1Ready,
			Player2Ready:     res.Player2Ready,
		})
	} else {
		_ = player.SafeWriteJSON(simpleMessage{Type: "waiting_for_opponent"})
	}
	room.notifyState()

	go g.readLoop(player)
}

// identify resolves the connecting user from the token query param. Invalid
// or missing tokens fall back to an anonymous identity; casual play does not
// require an account.
func (g *Gateway) identify(r *http.Request) (auth.Identity, bool) {
	if tokenStr := r.URL.Query().Get("token"); tokenStr != "" {
		if id, err := auth.ParseToken(g.secret, tokenStr); err == nil {
			return id, true
		}
		log.Printf("[Gateway] Invalid token, treating connection as anonymous")
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		username = "Anonymous"
	}
	return auth.Identity{ID: uuid.NewString(), Username: username}, false
}

// resolveRoomID picks the room for a new connection: an explicit valid id
// from the URL, else the identity's waiting session, else a fresh id.
func (g *Gateway) resolveRoomID(r *http.Request, identity auth.Identity, authed bool) string {
	if raw := mux.Vars(r)["roomId"]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id.String()
		}
		log.Printf("[Gateway] Invalid room id %q, generating a new one", raw)
	}

	if authed && g.sessions != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		roomID, err := g.sessions.FindOrCreateWaitingSession(ctx, identity.ID, identity.Username)
		if err == nil && roomID != "" {
			log.Printf("[Gateway] Resolved waiting session %s for %s", roomID, identity.Username)
			return roomID
		}
		if err != nil {
			log.Printf("[Gateway] Session lookup failed for %s: %v", identity.Username, err)
		}
	}

	return uuid.NewString()
}

// readLoop consumes inbound messages for one connection and routes them
// into the room the player was admitted to. Unknown types and malformed
// payloads are logged and skipped; the connection stays open.
func (g *Gateway) readLoop(p *Player) {
	room := p.Room
	defer func() {
		p.Conn.Close()
		room.HandleDisconnect(p)
	}()

	for {
		_, raw, err := p.Conn.ReadMessage()
		if err != nil {
			log.Printf("[Gateway] Room %s: read error for %s: %v", room.ID, p.Username, err)
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[Gateway] Room %s: malformed message from %s: %v", room.ID, p.Username, err)
			continue
		}

		switch msg.Type {
		case "player_ready":
			room.SetReady(p)
		case "paddle_move":
			room.SetPaddleMovement(p, msg.Direction, msg.Action)
		case "paddle_position":
			if msg.Position == nil {
				log.Printf("[Gateway] Room %s: paddle_position without position from %s", room.ID, p.Username)
				continue
			}
			room.SetPaddlePosition(p, *msg.Position)
		case "start_game":
			room.StartGameAs(p)
		case "leave_waiting_room":
			room.LeaveWaiting(p)
			return
		case "ping":
			_ = p.SafeWriteJSON(simpleMessage{Type: "pong"})
		default:
			log.Printf("[Gateway] Room %s: unknown message type %q from %s", room.ID, msg.Type, p.Username)
		}
	}
}
