package game

import (
	"math"
	"math/rand/v2"
	"time"
)

// =============================================================================
// SIMULATION CONSTANTS
// =============================================================================

// All positions are normalized to a [0,1]x[0,1] playfield and scaled to the
// canvas space only at broadcast time.
const (
	paddleHeight = 0.2
	ballRadius   = 0.02

	// Fixed horizontal lines the paddles sit on.
	paddleLineLeft  = 0.02
	paddleLineRight = 0.98

	// Paddle travel per 1/60s at full input, scaled by measured dt.
	paddleSpeed = 0.012

	// Ball speed magnitude: starts at base, grows geometrically per paddle
	// hit until the cap.
	baseBallSpeed = 0.005
	maxBallSpeed  = 0.0095
	speedGrowth   = 1.10

	tickInterval   = time.Second / 120
	softResetPause = 800 * time.Millisecond

	winningScore = 5
	forfeitScore = 3
)

type vec2 struct {
	X float64
	Y float64
}

// gameState is the authoritative simulation state. Mutated only under the
// owning Room's mutex.
type gameState struct {
	BallPos     vec2
	BallVel     vec2
	PaddleLeft  float64
	PaddleRight float64
	ScoreLeft   int
	ScoreRight  int
}

func newGameState() gameState {
	return gameState{
		BallPos:     vec2{X: 0.5, Y: 0.5},
		BallVel:     vec2{X: baseBallSpeed, Y: baseBallSpeed},
		PaddleLeft:  0.5,
		PaddleRight: 0.5,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// updatePaddlesLocked advances both paddles by their current movement input.
// dt is measured, not assumed, so scheduling jitter does not change travel
// speed.
func (r *Room) updatePaddlesLocked(dt time.Duration) {
	amount := paddleSpeed * dt.Seconds() * 60

	if r.moveLeft != 0 {
		pos := r.state.PaddleLeft + float64(r.moveLeft)*amount
		r.state.PaddleLeft = clamp(pos, 0, 1-paddleHeight)
	}
	if r.moveRight != 0 {
		pos := r.state.PaddleRight + float64(r.moveRight)*amount
		r.state.PaddleRight = clamp(pos, 0, 1-paddleHeight)
	}
}

// updateBallLocked advances the ball one step and resolves wall and paddle
// collisions. When the ball crosses a side boundary the opposing score is
// incremented and (true, side) is returned without committing the
// out-of-bounds position; the caller performs the soft reset.
func (r *Room) updateBallLocked() (scored, scoredLeft bool) {
	st := &r.state

	x := st.BallPos.X + st.BallVel.X
	y := st.BallPos.Y + st.BallVel.Y
	vx := st.BallVel.X
	vy := st.BallVel.Y

	if x+ballRadius < 0 {
		st.ScoreRight++
		return true, false
	}
	if x-ballRadius > 1 {
		st.ScoreLeft++
		return true, true
	}

	// Top/bottom walls reflect the vertical velocity and pin the ball inside
	// the field.
	if y <= ballRadius {
		y = ballRadius
		vy = math.Abs(vy)
	} else if y >= 1-ballRadius {
		y = 1 - ballRadius
		vy = -math.Abs(vy)
	}

	if vx < 0 {
		// Heading left: test against the left paddle line.
		py := st.PaddleLeft
		if x-ballRadius <= paddleLineLeft && x >= paddleLineLeft-ballRadius {
			if py <= y && y <= py+paddleHeight {
				vx, vy = r.reboundLocked(py, y, 1)
			}
		}
	} else if vx > 0 {
		py := st.PaddleRight
		if x+ballRadius >= paddleLineRight && x <= paddleLineRight+ballRadius {
			if py <= y && y <= py+paddleHeight {
				vx, vy = r.reboundLocked(py, y, -1)
			}
		}
	}

	st.BallPos = vec2{X: x, Y: y}
	st.BallVel = vec2{X: vx, Y: vy}
	return false, false
}

// reboundLocked recomputes ball velocity after a paddle hit. Impact close to
// the paddle center leaves the ball nearly horizontal; edge hits deflect up
// to 30%. dir is +1 off the left paddle, -1 off the right. Each hit grows
// the speed multiplier geometrically up to the cap.
func (r *Room) reboundLocked(paddleY, ballY, dir float64) (vx, vy float64) {
	if r.speedMultiplier < maxBallSpeed {
		r.speedMultiplier *= speedGrowth
	}

	center := paddleY + paddleHeight/2
	offset := math.Abs(center-ballY) / (paddleHeight / 2)

	vx = clamp(1-0.3*offset, 0.7, 1) * r.speedMultiplier * dir

	if ballY < center {
		vy = -r.speedMultiplier
	} else {
		vy = r.speedMultiplier
	}
	return vx, vy
}

// softResetLocked recenters the ball after a point: speed back to base,
// horizontal direction toward the side that was scored against, random
// vertical sign, and a short freeze before play resumes.
func (r *Room) softResetLocked(scoredLeft bool, now time.Time) {
	r.speedMultiplier = baseBallSpeed

	dir := -1.0
	if scoredLeft {
		dir = 1.0
	}
	ySign := 1.0
	if rand.IntN(2) == 0 {
		ySign = -1.0
	}

	r.state.BallPos = vec2{X: 0.5, Y: 0.5}
	r.state.BallVel = vec2{X: dir * baseBallSpeed, Y: ySign * baseBallSpeed}
	r.freezeUntil = now.Add(softResetPause)
}

// stateMessageLocked snapshots the simulation into the canvas-scaled wire
// format.
func (r *Room) stateMessageLocked() gameUpdateMessage {
	return gameUpdateMessage{
		Type:         "game_update",
		BallX:        r.state.BallPos.X * canvasScaleX,
		BallY:        r.state.BallPos.Y * canvasScaleY,
		Paddle1Y:     r.state.PaddleLeft * canvasScaleY,
		Paddle2Y:     r.state.PaddleRight * canvasScaleY,
		Player1Score: r.state.ScoreLeft,
		Player2Score: r.state.ScoreRight,
	}
}
