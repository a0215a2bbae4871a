package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
)

// =============================================================================
// TOURNAMENT BRACKETS
// =============================================================================

// TournamentMatch is one bracket slot with both participants resolved.
type TournamentMatch struct {
	ID              int64
	TournamentID    int64
	Round           int
	Player1ID       int64
	Player2ID       int64
	Player1Nickname string
	Player2Nickname string
}

// ResolveOpenTournamentMatch finds the undecided bracket match between the
// two nicknames in any in-progress tournament, in either seat order. A nil
// match with a nil error means the game was not a tournament game.
func (s *Store) ResolveOpenTournamentMatch(ctx context.Context, nickname1, nickname2 string) (*TournamentMatch, error) {
	var m TournamentMatch
	err := s.pool.QueryRow(ctx, `
		SELECT m.id, m.tournament_id, m.round, m.player1_id, m.player2_id, p1.nickname, p2.nickname
		FROM tournament_matches m
		JOIN tournament_participants p1 ON p1.id = m.player1_id
		JOIN tournament_participants p2 ON p2.id = m.player2_id
		JOIN tournaments t ON t.id = m.tournament_id
		WHERE m.winner_id IS NULL
		  AND t.status = 'in_progress'
		  AND ((p1.nickname = $1 AND p2.nickname = $2) OR (p1.nickname = $2 AND p2.nickname = $1))
		ORDER BY m.round, m.id
		LIMIT 1`, nickname1, nickname2).
		Scan(&m.ID, &m.TournamentID, &m.Round, &m.Player1ID, &m.Player2ID,
			&m.Player1Nickname, &m.Player2Nickname)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tournament match %s vs %s: %w", nickname1, nickname2, err)
	}
	return &m, nil
}

// RecordTournamentResult writes the final score onto the bracket match,
// re-orienting the scores when the winner sat in seat two.
func (s *Store) RecordTournamentResult(ctx context.Context, m *TournamentMatch, winnerNickname string, winnerScore, loserScore int) error {
	winnerID := m.Player1ID
	score1, score2 := winnerScore, loserScore
	if winnerNickname == m.Player2Nickname {
		winnerID = m.Player2ID
		score1, score2 = loserScore, winnerScore
	} else if winnerNickname != m.Player1Nickname {
		return fmt.Errorf("winner %q is not a participant of match %d", winnerNickname, m.ID)
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE tournament_matches
		SET score_player1 = $1, score_player2 = $2, winner_id = $3
		WHERE id = $4 AND winner_id IS NULL`, score1, score2, winnerID, m.ID)
	if err != nil {
		return fmt.Errorf("record result for match %d: %w", m.ID, err)
	}
	return nil
}

// AdvanceBracket inspects the given round and, when every match in it has a
// winner, creates the next round by pairing winners in bracket order. A
// single remaining winner completes the tournament instead. Safe to call
// after every recorded result; incomplete rounds and already-created next
// rounds are no-ops.
func (s *Store) AdvanceBracket(ctx context.Context, tournamentID int64, round int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var nextExists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tournament_matches
			WHERE tournament_id = $1 AND round = $2
		)`, tournamentID, round+1).Scan(&nextExists); err != nil {
		return fmt.Errorf("check next round: %w", err)
	}
	if nextExists {
		return tx.Commit(ctx)
	}

	rows, err := tx.Query(ctx, `
		SELECT winner_id FROM tournament_matches
		WHERE tournament_id = $1 AND round = $2
		ORDER BY id
		FOR UPDATE`, tournamentID, round)
	if err != nil {
		return fmt.Errorf("load round %d: %w", round, err)
	}
	var winners []int64
	complete := true
	for rows.Next() {
		var winnerID *int64
		if err := rows.Scan(&winnerID); err != nil {
			rows.Close()
			return fmt.Errorf("scan winner: %w", err)
		}
		if winnerID == nil {
			complete = false
			continue
		}
		winners = append(winners, *winnerID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate round %d: %w", round, err)
	}
	if !complete || len(winners) == 0 {
		return tx.Commit(ctx)
	}

	if len(winners) == 1 {
		if _, err := tx.Exec(ctx, `
			UPDATE tournaments
			SET status = 'completed',
			    end_date = now(),
			    winner_nickname = (SELECT nickname FROM tournament_participants WHERE id = $2)
			WHERE id = $1`, tournamentID, winners[0]); err != nil {
			return fmt.Errorf("complete tournament %d: %w", tournamentID, err)
		}
		log.Printf("[Tournament] Tournament %d completed", tournamentID)
		return tx.Commit(ctx)
	}

	for _, pair := range nextRoundPairs(winners) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO tournament_matches (tournament_id, round, player1_id, player2_id)
			VALUES ($1, $2, $3, $4)`, tournamentID, round+1, pair[0], pair[1]); err != nil {
			return fmt.Errorf("create round %d match: %w", round+1, err)
		}
	}
	log.Printf("[Tournament] Tournament %d: round %d created with %d matches",
		tournamentID, round+1, len(winners)/2)
	return tx.Commit(ctx)
}
