package game

// =============================================================================
// WIRE MESSAGES
// =============================================================================

// inboundMessage is the flat client->room envelope. Fields beyond Type are
// only meaningful for specific message types.
type inboundMessage struct {
	Type      string   `json:"type"`
	Direction string   `json:"direction,omitempty"` // paddle_move: up|down
	Action    string   `json:"action,omitempty"`    // paddle_move: start|stop
	Position  *float64 `json:"position,omitempty"`  // paddle_position
}

type assignRoleMessage struct {
	Type         string `json:"type"` // "assign_role"
	Role         string `json:"role"`
	CanStartGame bool   `json:"can_start_game"`
}

// simpleMessage covers waiting_for_opponent, all_players_ready and pong.
type simpleMessage struct {
	Type string `json:"type"`
}

type playersReadyMessage struct {
	Type             string `json:"type"` // "players_ready"
	PlayersConnected int    `json:"playersConnected"`
	Player1          string `json:"player1"`
	Player2          string `json:"player2"`
	Player1Ready     bool   `json:"player1_ready"`
	Player2Ready     bool   `json:"player2_ready"`
}

type gameStartMessage struct {
	Type        string `json:"type"` // "game_start"
	Player1Name string `json:"player1_name"`
	Player2Name string `json:"player2_name"`
}

// gameUpdateMessage carries the state snapshot scaled from the normalized
// [0,1] playfield to the fixed 1000x500 canvas space clients render.
type gameUpdateMessage struct {
	Type         string  `json:"type"` // "game_update"
	BallX        float64 `json:"ballX"`
	BallY        float64 `json:"ballY"`
	Paddle1Y     float64 `json:"paddle1Y"`
	Paddle2Y     float64 `json:"paddle2Y"`
	Player1Score int     `json:"player1Score"`
	Player2Score int     `json:"player2Score"`
}

type gameEndMessage struct {
	Type         string `json:"type"` // "game_end"
	Winner       string `json:"winner"`
	Player1Score int    `json:"player1_score"`
	Player2Score int    `json:"player2_score"`
}

type gameAbandonedMessage struct {
	Type         string `json:"type"` // "game_abandoned"
	Winner       string `json:"winner"`
	Player1Score int    `json:"player1_score"`
	Player2Score int    `json:"player2_score"`
	AbandonedBy  string `json:"abandoned_by"`
	Message      string `json:"message"`
}

const (
	canvasScaleX = 1000.0
	canvasScaleY = 500.0
)
