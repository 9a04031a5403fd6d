package session

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/park285/cheese-chess-server/internal/rules"
)

var (
	ErrNotAParticipant  = errors.New("not a participant in this session")
	ErrGameOver         = errors.New("game is over")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrSessionFull      = errors.New("session is full")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidIdentity  = errors.New("empty player identity")
	ErrReservedIdentity = errors.New("player identity is reserved")
	ErrIllegalMove      = rules.ErrIllegalMove
)

// Identity is a verified player identity supplied by the authenticator.
type Identity string

// enginePrefix marks identities seated for automated opponents. Authenticators
// refuse to hand it out.
const enginePrefix = "engine:"

// NewEngineIdentity returns a fresh identity for an automated opponent.
func NewEngineIdentity() Identity { return Identity(enginePrefix + uuid.NewString()) }

// IsEngine reports whether id is in the automated-opponent namespace.
func (id Identity) IsEngine() bool { return strings.HasPrefix(string(id), enginePrefix) }

// Normalize trims surrounding whitespace. Sessions compare normalized
// identities only.
func (id Identity) Normalize() Identity { return Identity(strings.TrimSpace(string(id))) }

// Status is the closed set of session states. Everything but InProgress is
// terminal.
type Status int

const (
	InProgress Status = iota
	Checkmate
	Stalemate
	Draw
	Abandoned
)

func (s Status) String() string {
	switch s {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case Draw:
		return "draw"
	case Abandoned:
		return "abandoned"
	default:
		return "in_progress"
	}
}

func (s Status) Terminal() bool {
	return s != InProgress
}

// ParseStatus is the inverse of String; unknown input maps to InProgress.
func ParseStatus(s string) Status {
	switch s {
	case "checkmate":
		return Checkmate
	case "stalemate":
		return Stalemate
	case "draw":
		return Draw
	case "abandoned":
		return Abandoned
	default:
		return InProgress
	}
}

func statusFromRules(s rules.Status) Status {
	switch s {
	case rules.Checkmate:
		return Checkmate
	case rules.Stalemate:
		return Stalemate
	case rules.Draw:
		return Draw
	default:
		return InProgress
	}
}

// Opponent describes an engine seated in one slot.
type Opponent struct {
	Identity   Identity      `json:"identity"`
	Color      string        `json:"color"`
	Difficulty int           `json:"difficulty"`
	TimeLimit  time.Duration `json:"time_limit"`
	DepthLimit int           `json:"depth_limit,omitempty"`
}

// Joined is the result of a successful join.
type Joined struct {
	Color    rules.Color
	Rejoined bool
}

// Snapshot is a consistent copy of session state taken under the session lock.
type Snapshot struct {
	ID         string
	Version    int
	Position   rules.Position
	FEN        string
	Turn       rules.Color
	White      Identity
	Black      Identity
	Status     Status
	Method     string
	InCheck    bool
	MovesUCI   []string
	MovesSAN   []string
	LegalMoves []string
	Opponent   *Opponent
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// EndedAt is set once Status is terminal.
	EndedAt time.Time
}

// Winner returns the winning colour for decisive results.
func (s Snapshot) Winner() (rules.Color, bool) {
	if s.Status != Checkmate {
		return rules.White, false
	}
	// the side to move is the one that was mated
	return s.Turn.Other(), true
}

// Record is the persisted form of a session.
type Record struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	White     string    `json:"white,omitempty"`
	Black     string    `json:"black,omitempty"`
	Moves     []string  `json:"moves"`
	FEN       string    `json:"fen"`
	Status    string    `json:"status"`
	Opponent  *Opponent `json:"opponent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record converts the snapshot to its persisted form.
func (s Snapshot) Record() Record {
	return Record{
		ID:        s.ID,
		Version:   s.Version,
		White:     string(s.White),
		Black:     string(s.Black),
		Moves:     append([]string(nil), s.MovesUCI...),
		FEN:       s.FEN,
		Status:    s.Status.String(),
		Opponent:  s.Opponent,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
