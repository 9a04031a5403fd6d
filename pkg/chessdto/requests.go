package chessdto

// CreateSessionRequest seats an engine opponent when Opponent is "engine".
type CreateSessionRequest struct {
	Opponent   string   `json:"opponent,omitempty"`
	Color      string   `json:"color,omitempty"`
	Difficulty *int     `json:"difficulty,omitempty"`
	TimeLimit  *float64 `json:"timeLimit,omitempty"`
	DepthLimit *int     `json:"depthLimit,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type JoinSessionResponse struct {
	SessionID string `json:"session_id"`
	Color     string `json:"color"`
	Rejoined  bool   `json:"rejoined"`
}
