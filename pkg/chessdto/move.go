package chessdto

// MoveRequest is the stateless engine move request. Absent fields take the
// service defaults.
type MoveRequest struct {
	FEN        string   `json:"fen"`
	Difficulty *int     `json:"difficulty,omitempty"`
	TimeLimit  *float64 `json:"timeLimit,omitempty"`
	DepthLimit *int     `json:"depthLimit,omitempty"`
}

// MoveResponse carries a null move when the input position was already over.
type MoveResponse struct {
	Move        *string `json:"move"`
	FENAfter    string  `json:"fenAfter"`
	IsGameOver  bool    `json:"isGameOver"`
	IsCheck     bool    `json:"isCheck"`
	IsCheckmate bool    `json:"isCheckmate"`
}
