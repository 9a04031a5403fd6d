package chessdto

import "time"

type GameOverStatus struct {
	IsGameOver    bool `json:"is_gameover"`
	IsInCheck     bool `json:"is_in_check"`
	IsInCheckmate bool `json:"is_in_checkmate"`
	IsInStalemate bool `json:"is_in_stalemate"`
	IsInDraw      bool `json:"is_in_draw"`
}

// GameState is the full state broadcast to a room after every change.
type GameState struct {
	SessionID      string         `json:"session_id"`
	Version        int            `json:"version"`
	FEN            string         `json:"fen"`
	Turn           string         `json:"turn"`
	PlayerForWhite string         `json:"player_for_white"`
	PlayerForBlack string         `json:"player_for_black"`
	Status         string         `json:"status"`
	Method         string         `json:"method,omitempty"`
	Winner         string         `json:"winner,omitempty"`
	GameOverStatus GameOverStatus `json:"game_over_status"`
	MoveHistory    []string       `json:"move_history"`
	MoveHistorySAN []string       `json:"move_history_san"`
	LegalMoves     []string       `json:"legal_moves"`
	Opponent       string         `json:"opponent,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Players struct {
	PlayerForWhite string `json:"player_for_white"`
	PlayerForBlack string `json:"player_for_black"`
}
