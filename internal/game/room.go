package game

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"sync"
	"time"
)

// =============================================================================
// ROOM STATE MACHINE
// =============================================================================

// Delay before a finished room is torn down, so late events (tournament
// updates, trailing client messages) still find it.
const cleanupDelay = 3 * time.Second

// Admission failures map to distinct websocket close codes.
var (
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyInRoom = errors.New("player already in room")
)

// Outcome is the terminal result of a room, handed to the reporter exactly
// once per finished or abandoned game.
type Outcome struct {
	RoomID      string
	ScoreLeft   int
	ScoreRight  int
	Winner      string // "player1" | "player2"
	Abandoned   bool
	AbandonedBy string // side that disconnected, empty for natural wins
}

// OutcomeReporter persists match results and drives tournament bracket
// advancement. Called from its own goroutine, never under the room mutex.
type OutcomeReporter interface {
	RecordOutcome(ctx context.Context, o Outcome)
}

// SessionStore is the slice of the persistence layer the game engine needs
// for session lookup and lifecycle. Nil-safe: anonymous play works without
// a database.
type SessionStore interface {
	FindOrCreateWaitingSession(ctx context.Context, userID, username string) (string, error)
	ActivateSession(ctx context.Context, roomID, player1ID, player1Name, player2ID, player2Name string) error
	CancelWaitingSession(ctx context.Context, roomID string) error
}

// Room is one authoritative match instance: two paddle slots, ready flags
// and the simulation state. Every mutation, including physics ticks, runs
// under Mu, so admissions, removals and ticks are totally ordered.
type Room struct {
	ID string

	Mu sync.Mutex

	player1 *Player // left slot
	player2 *Player // right slot

	player1Ready bool
	player2Ready bool

	started  bool
	gameOver bool

	state           gameState
	moveLeft        int // -1 up, 0 idle, 1 down
	moveRight       int
	speedMultiplier float64
	freezeUntil     time.Time
	lastTick        time.Time

	registry *Registry
	reporter OutcomeReporter
	sessions SessionStore
}

func newRoom(id string, registry *Registry, sessions SessionStore, reporter OutcomeReporter) *Room {
	return &Room{
		ID:              id,
		state:           newGameState(),
		speedMultiplier: baseBallSpeed,
		registry:        registry,
		sessions:        sessions,
		reporter:        reporter,
	}
}

type admitResult struct {
	Side         string
	Full         bool
	Player1Name  string
	Player2Name  string
	Player1Ready bool
	Player2Ready bool
}

// Admit evaluates a connecting player in one atomic step: stale occupants
// are probed and evicted first, then the duplicate and capacity checks run,
// then the first free slot (left before right) is filled. No state is
// mutated on rejection.
func (r *Room) Admit(p *Player) (admitResult, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.player1 != nil && !r.player1.probeAlive() {
		log.Printf("[Admit] Room %s: evicting stale left occupant %s", r.ID, r.player1.Username)
		r.clearSlotLocked(r.player1)
	}
	if r.player2 != nil && !r.player2.probeAlive() {
		log.Printf("[Admit] Room %s: evicting stale right occupant %s", r.ID, r.player2.Username)
		r.clearSlotLocked(r.player2)
	}

	if p.Authed {
		if r.player1 != nil && r.player1.ID == p.ID {
			return admitResult{}, ErrAlreadyInRoom
		}
		if r.player2 != nil && r.player2.ID == p.ID {
			return admitResult{}, ErrAlreadyInRoom
		}
	}

	switch {
	case r.player1 == nil:
		r.player1 = p
		p.Side = SideLeft
	case r.player2 == nil:
		r.player2 = p
		p.Side = SideRight
	default:
		return admitResult{}, ErrRoomFull
	}
	p.Room = r

	log.Printf("[Admit] Room %s: player %s (%s) joined as %s", r.ID, p.ID, p.Username, p.Side)

	res := admitResult{
		Side:         p.Side,
		Full:         r.player1 != nil && r.player2 != nil,
		Player1Ready: r.player1Ready,
		Player2Ready: r.player2Ready,
	}
	res.Player1Name, res.Player2Name = r.playerNamesLocked()
	return res, nil
}

// clearSlotLocked vacates p's slot and resets its ready flag.
func (r *Room) clearSlotLocked(p *Player) {
	if r.player1 == p {
		r.player1 = nil
		r.player1Ready = false
	} else if r.player2 == p {
		r.player2 = nil
		r.player2Ready = false
	}
}

func (r *Room) playerNamesLocked() (p1, p2 string) {
	p1, p2 = "Player 1", "Player 2"
	if r.player1 != nil {
		p1 = r.player1.Username
	}
	if r.player2 != nil {
		p2 = r.player2.Username
	}
	return p1, p2
}

// SetReady marks the sender's side ready. When both occupied slots are
// ready the room is claimed as started inside the same critical section
// that detected it, so a racing second ready cannot re-broadcast the start
// events.
func (r *Room) SetReady(p *Player) {
	r.Mu.Lock()
	if r.started {
		r.Mu.Unlock()
		return
	}
	switch p.Side {
	case SideLeft:
		r.player1Ready = true
	case SideRight:
		r.player2Ready = true
	}

	p1Name, p2Name := r.playerNamesLocked()
	ready := playersReadyMessage{
		Type:             "players_ready",
		PlayersConnected: r.occupancyLocked(),
		Player1:          p1Name,
		Player2:          p2Name,
		Player1Ready:     r.player1Ready,
		Player2Ready:     r.player2Ready,
	}
	bothReady := r.player1Ready && r.player2Ready && r.player1 != nil && r.player2 != nil
	var p1, p2 *Player
	if bothReady {
		r.beginLocked(time.Now())
		p1, p2 = r.player1, r.player2
	}
	r.Mu.Unlock()

	log.Printf("[SetReady] Room %s: %s ready (%s)", r.ID, p.Side, p.Username)
	r.broadcast(ready)

	if bothReady {
		r.broadcast(simpleMessage{Type: "all_players_ready"})
		r.broadcast(gameStartMessage{Type: "game_start", Player1Name: p1Name, Player2Name: p2Name})
		r.launch(p1, p2)
	}
}

// StartGameAs handles the explicit start_game command: left side only, both
// slots occupied, not already started. The claim happens under the same
// lock as the checks, so concurrent start_game commands race for one slot.
func (r *Room) StartGameAs(p *Player) {
	r.Mu.Lock()
	ok := p.Side == SideLeft && r.player1 != nil && r.player2 != nil && !r.started
	p1Name, p2Name := r.playerNamesLocked()
	var p1, p2 *Player
	if ok {
		r.beginLocked(time.Now())
		p1, p2 = r.player1, r.player2
	}
	r.Mu.Unlock()

	if !ok {
		log.Printf("[StartGameAs] Room %s: start_game from %s rejected", r.ID, p.Side)
		return
	}

	r.broadcast(gameStartMessage{Type: "game_start", Player1Name: p1Name, Player2Name: p2Name})
	r.launch(p1, p2)
}

// Start transitions the room to Playing, resets the simulation and launches
// the physics loop as its own goroutine.
func (r *Room) Start() error {
	r.Mu.Lock()
	if r.started {
		r.Mu.Unlock()
		return errors.New("game already started")
	}
	if r.player1 == nil || r.player2 == nil {
		r.Mu.Unlock()
		return errors.New("both players must be present")
	}

	r.beginLocked(time.Now())
	p1, p2 := r.player1, r.player2
	r.Mu.Unlock()

	r.launch(p1, p2)
	return nil
}

// beginLocked claims the Playing state and resets the simulation. The claim
// and the decision to start must share one critical section.
func (r *Room) beginLocked(now time.Time) {
	r.state = newGameState()
	r.speedMultiplier = baseBallSpeed
	r.moveLeft, r.moveRight = 0, 0
	r.started = true
	r.gameOver = false
	r.lastTick = now
	r.softResetLocked(rand.IntN(2) == 0, now)
}

// launch runs the side effects of a claimed start: session activation and
// the physics loop goroutine.
func (r *Room) launch(p1, p2 *Player) {
	log.Printf("[Start] Room %s: game started (%s vs %s)", r.ID, p1.Username, p2.Username)

	if r.sessions != nil && (p1.Authed || p2.Authed) {
		go func() {
			err := r.sessions.ActivateSession(context.Background(), r.ID, p1.ID, p1.Username, p2.ID, p2.Username)
			if err != nil {
				log.Printf("[Start] Room %s: failed to activate session: %v", r.ID, err)
			}
		}()
	}

	go r.runLoop()
}

// HandleDisconnect clears the player's slot. A disconnect while the game is
// running is a forfeit: 3-0 to the remaining side, flagged as abandoned.
func (r *Room) HandleDisconnect(p *Player) {
	r.Mu.Lock()
	if r.player1 != p && r.player2 != p {
		r.Mu.Unlock()
		return
	}

	if r.started && !r.gameOver {
		winnerSide := SideRight
		if p.Side == SideRight {
			winnerSide = SideLeft
		}
		if winnerSide == SideLeft {
			r.state.ScoreLeft, r.state.ScoreRight = forfeitScore, 0
		} else {
			r.state.ScoreLeft, r.state.ScoreRight = 0, forfeitScore
		}
		r.started = false
		r.gameOver = true

		out := Outcome{
			RoomID:      r.ID,
			ScoreLeft:   r.state.ScoreLeft,
			ScoreRight:  r.state.ScoreRight,
			Winner:      roleFor(winnerSide),
			Abandoned:   true,
			AbandonedBy: p.Side,
		}
		r.clearSlotLocked(p)
		empty := r.occupancyLocked() == 0
		r.Mu.Unlock()

		log.Printf("[Disconnect] Room %s: %s abandoned mid-game, forfeit %d-%d",
			r.ID, p.Side, out.ScoreLeft, out.ScoreRight)

		r.broadcast(gameAbandonedMessage{
			Type:         "game_abandoned",
			Winner:       out.Winner,
			Player1Score: out.ScoreLeft,
			Player2Score: out.ScoreRight,
			AbandonedBy:  out.AbandonedBy,
			Message:      "Your opponent left the game. The win is yours.",
		})
		r.report(out)
		if empty {
			r.registry.Remove(r.ID)
		}
		return
	}

	r.clearSlotLocked(p)
	empty := r.occupancyLocked() == 0
	r.Mu.Unlock()

	log.Printf("[Disconnect] Room %s: %s (%s) left", r.ID, p.Username, p.Side)
	if empty {
		r.registry.Remove(r.ID)
	}
}

// LeaveWaiting handles a voluntary pre-game leave: the slot is vacated and
// any waiting session row is cancelled so the identity is not pulled back
// into this room on reconnect.
func (r *Room) LeaveWaiting(p *Player) {
	r.Mu.Lock()
	if r.started {
		r.Mu.Unlock()
		return
	}
	r.clearSlotLocked(p)
	empty := r.occupancyLocked() == 0
	r.Mu.Unlock()

	log.Printf("[LeaveWaiting] Room %s: %s left the waiting room", r.ID, p.Username)

	if r.sessions != nil && p.Authed {
		go func() {
			if err := r.sessions.CancelWaitingSession(context.Background(), r.ID); err != nil {
				log.Printf("[LeaveWaiting] Room %s: failed to cancel session: %v", r.ID, err)
			}
		}()
	}
	if empty {
		r.registry.Remove(r.ID)
	}
}

// SetPaddleMovement applies a paddle_move command. Ignored before start.
func (r *Room) SetPaddleMovement(p *Player, direction, action string) {
	movement := 0
	switch direction {
	case "up":
		movement = -1
	case "down":
		movement = 1
	default:
		log.Printf("[PaddleMove] Room %s: invalid direction %q", r.ID, direction)
		return
	}
	if action == "stop" {
		movement = 0
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()
	if !r.started {
		return
	}
	switch p.Side {
	case SideLeft:
		r.moveLeft = movement
	case SideRight:
		r.moveRight = movement
	}
}

// SetPaddlePosition applies a client-authoritative paddle position, clamped
// to the playfield. The resulting snapshot goes only to the opponent for
// latency; a failed direct write falls back to a full broadcast.
func (r *Room) SetPaddlePosition(p *Player, position float64) {
	r.Mu.Lock()
	if !r.started {
		r.Mu.Unlock()
		return
	}

	position = clamp(position, 0, 1-paddleHeight)
	var opponent *Player
	switch p.Side {
	case SideLeft:
		r.state.PaddleLeft = position
		opponent = r.player2
	case SideRight:
		r.state.PaddleRight = position
		opponent = r.player1
	}
	update := r.stateMessageLocked()
	r.Mu.Unlock()

	if opponent == nil {
		return
	}
	if err := opponent.SafeWriteJSON(update); err != nil {
		log.Printf("[PaddlePosition] Room %s: direct update to %s failed: %v, falling back to broadcast",
			r.ID, opponent.Username, err)
		r.broadcast(update)
	}
}

// checkGameOverLocked ends the game once either side reaches the winning
// score. Scores are left untouched afterwards; the recorded result stands.
func (r *Room) checkGameOverLocked() (over bool, winner string) {
	if r.state.ScoreLeft >= winningScore {
		r.started = false
		r.gameOver = true
		return true, "player1"
	}
	if r.state.ScoreRight >= winningScore {
		r.started = false
		r.gameOver = true
		return true, "player2"
	}
	return false, ""
}

func (r *Room) occupancyLocked() int {
	n := 0
	if r.player1 != nil {
		n++
	}
	if r.player2 != nil {
		n++
	}
	return n
}

// report hands the outcome to the reporter on its own goroutine so DB and
// broker latency never block the caller.
func (r *Room) report(out Outcome) {
	if r.reporter == nil {
		return
	}
	go r.reporter.RecordOutcome(context.Background(), out)
}

// scheduleCleanup removes the room after the grace delay. No-op if the room
// was already removed.
func (r *Room) scheduleCleanup() {
	time.AfterFunc(cleanupDelay, func() {
		if r.registry.Exists(r.ID) {
			log.Printf("[Cleanup] Room %s: removing after %s grace period", r.ID, cleanupDelay)
			r.registry.Remove(r.ID)
		}
	})
}

func roleFor(side string) string {
	if side == SideLeft {
		return "player1"
	}
	return "player2"
}

// =============================================================================
// BROADCASTING
// =============================================================================

// broadcast snapshots the occupants under the lock, then writes outside it
// so a slow recipient cannot stall a tick or another mutation.
func (r *Room) broadcast(msg any) {
	r.Mu.Lock()
	players := make([]*Player, 0, 2)
	if r.player1 != nil {
		players = append(players, r.player1)
	}
	if r.player2 != nil {
		players = append(players, r.player2)
	}
	r.Mu.Unlock()

	for _, p := range players {
		if err := p.SafeWriteJSON(msg); err != nil {
			log.Printf("[Broadcast] Room %s: write to %s (%s) failed: %v", r.ID, p.Username, p.Side, err)
		}
	}
}

// notifyState pushes the current canvas-scaled snapshot to the whole room.
func (r *Room) notifyState() {
	r.Mu.Lock()
	update := r.stateMessageLocked()
	r.Mu.Unlock()
	r.broadcast(update)
}
