package game

import (
	"fmt"
	"log"
	"time"
)

// =============================================================================
// PHYSICS LOOP
// =============================================================================

const (
	maxTickFailures = 5
	tickRetryDelay  = 100 * time.Millisecond
)

// runLoop drives the simulation at a fixed rate for the lifetime of a single
// game. It self-terminates when the room leaves the playing state; it is
// never cancelled mid-tick from outside.
func (r *Room) runLoop() {
	log.Printf("[Loop] Room %s: physics loop started", r.ID)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	failures := 0
	for now := range ticker.C {
		cont, err := r.tick(now)
		if err != nil {
			failures++
			log.Printf("[Loop] Room %s: tick error #%d: %v", r.ID, failures, err)
			if failures >= maxTickFailures {
				r.Mu.Lock()
				r.started = false
				r.Mu.Unlock()
				log.Printf("[Loop] Room %s: FATAL: %d consecutive tick failures, aborting loop", r.ID, failures)
				return
			}
			time.Sleep(tickRetryDelay)
			continue
		}
		failures = 0
		if !cont {
			break
		}
	}
	log.Printf("[Loop] Room %s: physics loop terminated", r.ID)
}

// tick advances the simulation one step under the room mutex and broadcasts
// the resulting snapshot outside it. Returns cont=false when the loop should
// stop. A panic inside the step is converted to an error so a single bad
// tick cannot take down the process.
func (r *Room) tick(now time.Time) (cont bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tick panic: %v", rec)
		}
	}()

	r.Mu.Lock()
	if !r.started {
		r.Mu.Unlock()
		return false, nil
	}
	if r.player1 == nil && r.player2 == nil {
		r.started = false
		r.Mu.Unlock()
		return false, nil
	}

	dt := now.Sub(r.lastTick)
	r.lastTick = now

	// During the post-score freeze the ball and paddles hold still; clients
	// keep receiving snapshots so the pause is visible.
	if now.After(r.freezeUntil) {
		r.updatePaddlesLocked(dt)

		scored, scoredLeft := r.updateBallLocked()
		if scored {
			r.softResetLocked(scoredLeft, now)

			if over, winner := r.checkGameOverLocked(); over {
				out := Outcome{
					RoomID:     r.ID,
					ScoreLeft:  r.state.ScoreLeft,
					ScoreRight: r.state.ScoreRight,
					Winner:     winner,
				}
				end := gameEndMessage{
					Type:         "game_end",
					Winner:       winner,
					Player1Score: out.ScoreLeft,
					Player2Score: out.ScoreRight,
				}
				r.Mu.Unlock()

				log.Printf("[Loop] Room %s: game over, %s wins %d-%d",
					r.ID, winner, out.ScoreLeft, out.ScoreRight)
				r.broadcast(end)
				r.report(out)
				r.scheduleCleanup()
				return false, nil
			}
		}
	}

	update := r.stateMessageLocked()
	r.Mu.Unlock()

	r.broadcast(update)
	return true, nil
}
