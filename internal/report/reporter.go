package report

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mttgvnrd/Transcendence/internal/game"
	"github.com/mttgvnrd/Transcendence/internal/store"
)

// =============================================================================
// OUTCOME REPORTER
// =============================================================================

const reportTimeout = 10 * time.Second

// Persistence is the slice of the store the reporter drives. An interface
// so tests can record calls without a database.
type Persistence interface {
	Session(ctx context.Context, roomID string) (store.SessionInfo, error)
	SaveMatch(ctx context.Context, m store.MatchRecord) error
	FinishSession(ctx context.Context, roomID string) error
	ResolveOpenTournamentMatch(ctx context.Context, nickname1, nickname2 string) (*store.TournamentMatch, error)
	RecordTournamentResult(ctx context.Context, m *store.TournamentMatch, winnerNickname string, winnerScore, loserScore int) error
	AdvanceBracket(ctx context.Context, tournamentID int64, round int) error
}

// Reporter takes terminal room outcomes and fans them out: match history
// rows, tournament bracket advancement and a broker event. Store and writer
// are both optional; with neither, outcomes are only logged.
type Reporter struct {
	Store  Persistence
	Writer *kafka.Writer
}

// NewReporter builds a reporter publishing to the given broker. An empty
// broker address disables publishing.
func NewReporter(st Persistence, brokerAddr string) *Reporter {
	r := &Reporter{Store: st}
	if brokerAddr != "" {
		r.Writer = &kafka.Writer{
			Addr:     kafka.TCP(brokerAddr),
			Topic:    "match-results",
			Balancer: &kafka.LeastBytes{},
		}
	}
	return r
}

func (r *Reporter) Close() {
	if r.Writer != nil {
		if err := r.Writer.Close(); err != nil {
			log.Printf("[Reporter] Failed to close kafka writer: %v", err)
		}
	}
}

// RecordOutcome persists one finished or abandoned game. Every failure is
// logged and swallowed: the game is already over and nothing upstream can
// act on a persistence error.
func (r *Reporter) RecordOutcome(ctx context.Context, o game.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	log.Printf("[Reporter] Room %s: %s wins %d-%d (abandoned=%v)",
		o.RoomID, o.Winner, o.ScoreLeft, o.ScoreRight, o.Abandoned)

	isTournament := false
	if r.Store != nil {
		isTournament = r.persist(ctx, o)
	}
	r.publish(ctx, o, isTournament)
}

func (r *Reporter) persist(ctx context.Context, o game.Outcome) (isTournament bool) {
	session, err := r.Store.Session(ctx, o.RoomID)
	if errors.Is(err, store.ErrSessionNotFound) {
		// Fully anonymous game; nothing to record.
		return false
	}
	if err != nil {
		log.Printf("[Reporter] Room %s: session lookup failed: %v", o.RoomID, err)
		return false
	}
	isTournament = session.SessionType == "tournament"

	winnerID := session.Player1ID
	if o.Winner == "player2" {
		winnerID = session.Player2ID
	}

	if err := r.Store.SaveMatch(ctx, store.MatchRecord{
		RoomID:       o.RoomID,
		Player1ID:    session.Player1ID,
		Player2ID:    session.Player2ID,
		Player1Score: o.ScoreLeft,
		Player2Score: o.ScoreRight,
		WinnerID:     winnerID,
		Abandoned:    o.Abandoned,
		IsTournament: isTournament,
	}); err != nil {
		log.Printf("[Reporter] Room %s: failed to save match: %v", o.RoomID, err)
	}

	if isTournament {
		r.advanceTournament(ctx, o, session)
	}

	if err := r.Store.FinishSession(ctx, o.RoomID); err != nil {
		log.Printf("[Reporter] Room %s: failed to finish session: %v", o.RoomID, err)
	}
	return isTournament
}

// advanceTournament records the bracket result and tries to open the next
// round. Bracket matches are keyed by nickname pair; an unresolved pair
// means the session was mislabelled and is logged, not fatal.
func (r *Reporter) advanceTournament(ctx context.Context, o game.Outcome, session store.SessionInfo) {
	match, err := r.Store.ResolveOpenTournamentMatch(ctx, session.Player1Username, session.Player2Username)
	if err != nil {
		log.Printf("[Reporter] Room %s: tournament match lookup failed: %v", o.RoomID, err)
		return
	}
	if match == nil {
		log.Printf("[Reporter] Room %s: no open bracket match for %s vs %s",
			o.RoomID, session.Player1Username, session.Player2Username)
		return
	}

	winnerNickname := session.Player1Username
	winnerScore, loserScore := o.ScoreLeft, o.ScoreRight
	if o.Winner == "player2" {
		winnerNickname = session.Player2Username
		winnerScore, loserScore = o.ScoreRight, o.ScoreLeft
	}

	if err := r.Store.RecordTournamentResult(ctx, match, winnerNickname, winnerScore, loserScore); err != nil {
		log.Printf("[Reporter] Room %s: failed to record tournament result: %v", o.RoomID, err)
		return
	}
	if err := r.Store.AdvanceBracket(ctx, match.TournamentID, match.Round); err != nil {
		log.Printf("[Reporter] Room %s: failed to advance bracket: %v", o.RoomID, err)
	}
}

type matchEvent struct {
	RoomID       string    `json:"room_id"`
	Winner       string    `json:"winner"`
	Player1Score int       `json:"player1_score"`
	Player2Score int       `json:"player2_score"`
	Abandoned    bool      `json:"abandoned"`
	Tournament   bool      `json:"tournament"`
	FinishedAt   time.Time `json:"finished_at"`
}

func (r *Reporter) publish(ctx context.Context, o game.Outcome, isTournament bool) {
	if r.Writer == nil {
		return
	}

	payload, err := json.Marshal(matchEvent{
		RoomID:       o.RoomID,
		Winner:       o.Winner,
		Player1Score: o.ScoreLeft,
		Player2Score: o.ScoreRight,
		Abandoned:    o.Abandoned,
		Tournament:   isTournament,
		FinishedAt:   time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[Reporter] Room %s: failed to marshal event: %v", o.RoomID, err)
		return
	}

	if err := r.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.RoomID),
		Value: payload,
	}); err != nil {
		log.Printf("[Reporter] Room %s: failed to publish match event: %v", o.RoomID, err)
	}
}
