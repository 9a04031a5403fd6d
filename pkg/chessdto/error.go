package chessdto

// Stable error codes carried on the wire.
const (
	CodeBadRequest        = "bad_request"
	CodeInvalidFEN        = "invalid_fen"
	CodeInvalidMove       = "invalid_move"
	CodeIllegalMove       = "illegal_move"
	CodeNotYourTurn       = "not_your_turn"
	CodeGameOver          = "game_over"
	CodeSessionFull       = "session_full"
	CodeNotAParticipant   = "not_a_participant"
	CodeSessionNotFound   = "session_not_found"
	CodeSessionElsewhere  = "session_elsewhere"
	CodeUnauthorized      = "unauthorized"
	CodeEngineUnavailable = "engine_unavailable"
	CodeEngineCrashed     = "engine_crashed"
	CodeEngineTimeout     = "engine_timeout"
	CodeEngineNoMove      = "engine_no_move"
	CodeEngineError       = "engine_error"
	CodeInternal          = "internal"
)

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess service error"
}
