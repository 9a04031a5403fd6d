package chessdto

// Realtime message types.
const (
	TypeJoinRoom   = "join_room"
	TypeLeaveRoom  = "leave_room"
	TypeSubmitMove = "submit_move"
	TypeSendMove   = "send_move" // legacy alias of submit_move
	TypeGameState  = "game_state"
	TypeRoomClosed = "room_closed"
	TypeError      = "error"
)

// ClientMessage is any inbound realtime frame.
type ClientMessage struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MoveFrom  string `json:"move_from,omitempty"`
	MoveTo    string `json:"move_to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

// ServerMessage is any outbound realtime frame.
type ServerMessage struct {
	Type      string     `json:"type"`
	RoomID    string     `json:"roomId,omitempty"`
	GameState *GameState `json:"gameState,omitempty"`
	Message   string     `json:"message,omitempty"`
	Code      string     `json:"code,omitempty"`
}
