package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =============================================================================
// POSTGRES STORE
// =============================================================================

// Store is the pgx-backed persistence layer: users, game sessions, match
// history and tournament brackets all live behind it.
type Store struct {
	pool *pgxpool.Pool
}

var ErrSessionNotFound = errors.New("game session not found")

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool. Used by tests that manage the pool
// lifecycle themselves.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	display_name TEXT,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS game_sessions (
	room_id UUID PRIMARY KEY,
	player1_id UUID,
	player2_id UUID,
	player1_username TEXT,
	player2_username TEXT,
	status TEXT NOT NULL DEFAULT 'waiting',
	session_type TEXT NOT NULL DEFAULT 'casual',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_game_sessions_waiting
	ON game_sessions(status, session_type, created_at);

CREATE TABLE IF NOT EXISTS match_history (
	id BIGSERIAL PRIMARY KEY,
	user_id UUID NOT NULL,
	opponent_id UUID,
	winner_id UUID,
	score TEXT NOT NULL,
	room_id UUID,
	abandoned BOOLEAN NOT NULL DEFAULT FALSE,
	is_tournament BOOLEAN NOT NULL DEFAULT FALSE,
	match_date TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_match_history_user ON match_history(user_id, match_date);

CREATE TABLE IF NOT EXISTS tournaments (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'registration_open',
	max_participants INTEGER NOT NULL DEFAULT 4,
	winner_nickname TEXT,
	start_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	end_date TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tournament_participants (
	id BIGSERIAL PRIMARY KEY,
	tournament_id BIGINT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
	nickname TEXT NOT NULL,
	UNIQUE (tournament_id, nickname)
);

CREATE TABLE IF NOT EXISTS tournament_matches (
	id BIGSERIAL PRIMARY KEY,
	tournament_id BIGINT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
	round INTEGER NOT NULL DEFAULT 1,
	player1_id BIGINT NOT NULL REFERENCES tournament_participants(id) ON DELETE CASCADE,
	player2_id BIGINT NOT NULL REFERENCES tournament_participants(id) ON DELETE CASCADE,
	score_player1 INTEGER NOT NULL DEFAULT 0,
	score_player2 INTEGER NOT NULL DEFAULT 0,
	winner_id BIGINT REFERENCES tournament_participants(id)
);

CREATE INDEX IF NOT EXISTS idx_tournament_matches_round
	ON tournament_matches(tournament_id, round);
`

// EnsureSchema creates the tables if they do not exist. Session player
// columns carry no foreign key on purpose: anonymous players get ephemeral
// ids that never appear in users.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// =============================================================================
// GAME SESSIONS
// =============================================================================

// FindOrCreateWaitingSession resolves the room an authenticated player
// without an explicit room id should land in. In order: a waiting session
// the player already belongs to, an open casual session with a free second
// slot, or a brand new waiting session.
func (s *Store) FindOrCreateWaitingSession(ctx context.Context, userID, username string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var roomID string
	err = tx.QueryRow(ctx, `
		SELECT room_id FROM game_sessions
		WHERE status = 'waiting' AND (player1_id = $1 OR player2_id = $1)
		ORDER BY created_at
		LIMIT 1`, userID).Scan(&roomID)
	if err == nil {
		return roomID, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("lookup own waiting session: %w", err)
	}

	// SKIP LOCKED so two players matchmaking at once cannot claim the same
	// open slot.
	err = tx.QueryRow(ctx, `
		SELECT room_id FROM game_sessions
		WHERE status = 'waiting' AND session_type = 'casual'
		  AND player2_id IS NULL AND player1_id <> $1
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, userID).Scan(&roomID)
	if err == nil {
		if _, err := tx.Exec(ctx, `
			UPDATE game_sessions SET player2_id = $1, player2_username = $2
			WHERE room_id = $3`, userID, username, roomID); err != nil {
			return "", fmt.Errorf("claim open session: %w", err)
		}
		log.Printf("[Store] %s joined open session %s", username, roomID)
		return roomID, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("lookup open session: %w", err)
	}

	roomID = uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO game_sessions (room_id, player1_id, player1_username, status, session_type)
		VALUES ($1, $2, $3, 'waiting', 'casual')`, roomID, userID, username); err != nil {
		return "", fmt.Errorf("create waiting session: %w", err)
	}
	log.Printf("[Store] Created waiting session %s for %s", roomID, username)
	return roomID, tx.Commit(ctx)
}

// ActivateSession marks the session active once both players are in the
// room and the game has started. Both seat columns are overwritten from the
// live slot assignment: the session creator may have left pre-game and the
// seats decide winner attribution. Upserts so a game played in a room that
// never went through matchmaking still gets a row.
func (s *Store) ActivateSession(ctx context.Context, roomID, player1ID, player1Name, player2ID, player2Name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game_sessions (room_id, player1_id, player2_id, player1_username, player2_username, status)
		VALUES ($1, $2, $3, $4, $5, 'active')
		ON CONFLICT (room_id) DO UPDATE SET
			player1_id = EXCLUDED.player1_id,
			player2_id = EXCLUDED.player2_id,
			player1_username = EXCLUDED.player1_username,
			player2_username = EXCLUDED.player2_username,
			status = 'active'`, roomID, player1ID, player2ID, player1Name, player2Name)
	if err != nil {
		return fmt.Errorf("activate session %s: %w", roomID, err)
	}
	return nil
}

// CancelWaitingSession drops a session that never started. Active and
// finished sessions are left alone.
func (s *Store) CancelWaitingSession(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE game_sessions SET status = 'cancelled'
		WHERE room_id = $1 AND status = 'waiting'`, roomID)
	if err != nil {
		return fmt.Errorf("cancel session %s: %w", roomID, err)
	}
	return nil
}

// FinishSession marks a session finished after its outcome is recorded.
func (s *Store) FinishSession(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE game_sessions SET status = 'finished' WHERE room_id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", roomID, err)
	}
	return nil
}

// SessionInfo is the session row slice the outcome reporter needs.
type SessionInfo struct {
	RoomID          string
	Player1ID       string
	Player2ID       string
	Player1Username string
	Player2Username string
	SessionType     string // casual | tournament
}

// Session loads the session row for a room. Returns ErrSessionNotFound when
// the room never touched the database (fully anonymous play).
func (s *Store) Session(ctx context.Context, roomID string) (SessionInfo, error) {
	var info SessionInfo
	var p1ID, p2ID, p1Name, p2Name *string
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, player1_id, player2_id, player1_username, player2_username, session_type
		FROM game_sessions WHERE room_id = $1`, roomID).
		Scan(&info.RoomID, &p1ID, &p2ID, &p1Name, &p2Name, &info.SessionType)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionInfo{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionInfo{}, fmt.Errorf("load session %s: %w", roomID, err)
	}
	if p1ID != nil {
		info.Player1ID = *p1ID
	}
	if p2ID != nil {
		info.Player2ID = *p2ID
	}
	if p1Name != nil {
		info.Player1Username = *p1Name
	}
	if p2Name != nil {
		info.Player2Username = *p2Name
	}
	return info, nil
}

// =============================================================================
// MATCH HISTORY
// =============================================================================

// MatchRecord is one finished game from the neutral point of view.
type MatchRecord struct {
	RoomID       string
	Player1ID    string
	Player2ID    string
	Player1Score int
	Player2Score int
	WinnerID     string
	Abandoned    bool
	IsTournament bool
}

// SaveMatch writes one history row per player and bumps the win/loss
// counters. Counter updates silently skip ids with no users row, so
// anonymous opponents cost nothing.
func (s *Store) SaveMatch(ctx context.Context, m MatchRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := []struct {
		userID, opponentID string
		own, opp           int
	}{
		{m.Player1ID, m.Player2ID, m.Player1Score, m.Player2Score},
		{m.Player2ID, m.Player1ID, m.Player2Score, m.Player1Score},
	}
	for _, row := range rows {
		if row.userID == "" {
			continue
		}
		score := fmt.Sprintf("%d-%d", row.own, row.opp)
		if _, err := tx.Exec(ctx, `
			INSERT INTO match_history (user_id, opponent_id, winner_id, score, room_id, abandoned, is_tournament)
			VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, $5, $6, $7)`,
			row.userID, row.opponentID, m.WinnerID, score, m.RoomID, m.Abandoned, m.IsTournament); err != nil {
			return fmt.Errorf("insert match history for %s: %w", row.userID, err)
		}

		column := "losses"
		if row.userID == m.WinnerID {
			column = "wins"
		}
		if _, err := tx.Exec(ctx,
			`UPDATE users SET `+column+` = `+column+` + 1 WHERE id = $1`, row.userID); err != nil {
			return fmt.Errorf("update %s for %s: %w", column, row.userID, err)
		}
	}
	return tx.Commit(ctx)
}

// MatchSummary is one match_history row from a single player's perspective.
type MatchSummary struct {
	OpponentID   string
	WinnerID     string
	Score        string
	Abandoned    bool
	IsTournament bool
}

// RecentMatches returns the player's newest matches, most recent first.
func (s *Store) RecentMatches(ctx context.Context, userID string, limit int) ([]MatchSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(opponent_id::text, ''), COALESCE(winner_id::text, ''), score, abandoned, is_tournament
		FROM match_history
		WHERE user_id = $1
		ORDER BY match_date DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load matches for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []MatchSummary
	for rows.Next() {
		var m MatchSummary
		if err := rows.Scan(&m.OpponentID, &m.WinnerID, &m.Score, &m.Abandoned, &m.IsTournament); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// USERS
// =============================================================================

// UpsertUser records an authenticated identity so counters and display
// names have a row to land on.
func (s *Store) UpsertUser(ctx context.Context, id, username string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`, id, username)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", username, err)
	}
	return nil
}

// DisplayName resolves the user's public name, falling back to the
// username when no display name is set.
func (s *Store) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(NULLIF(display_name, ''), username)
		FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load display name for %s: %w", userID, err)
	}
	return name, nil
}
