package gateway

import (
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

// NewGameState converts a session snapshot to its wire form.
func NewGameState(snap session.Snapshot) chessdto.GameState {
	st := chessdto.GameState{
		SessionID:      snap.ID,
		Version:        snap.Version,
		FEN:            snap.FEN,
		Turn:           snap.Turn.String(),
		PlayerForWhite: string(snap.White),
		PlayerForBlack: string(snap.Black),
		Status:         snap.Status.String(),
		Method:         snap.Method,
		GameOverStatus: chessdto.GameOverStatus{
			IsGameOver:    snap.Status.Terminal(),
			IsInCheck:     snap.InCheck,
			IsInCheckmate: snap.Status == session.Checkmate,
			IsInStalemate: snap.Status == session.Stalemate,
			IsInDraw:      snap.Status == session.Draw,
		},
		MoveHistory:    orEmpty(snap.MovesUCI),
		MoveHistorySAN: orEmpty(snap.MovesSAN),
		LegalMoves:     orEmpty(snap.LegalMoves),
		UpdatedAt:      snap.UpdatedAt,
	}
	if c, ok := snap.Winner(); ok {
		st.Winner = c.String()
	}
	if snap.Opponent != nil {
		st.Opponent = string(snap.Opponent.Identity)
	}
	return st
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
