// Package rules adapts corentings/chess to the position/move vocabulary the
// session and engine layers speak.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrInvalidFEN  = errors.New("invalid position notation")
	ErrInvalidMove = errors.New("malformed move")
	ErrIllegalMove = errors.New("illegal move")
)

type Color int

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Status is the terminal-status report for a position.
type Status int

const (
	InProgress Status = iota
	Checkmate
	Stalemate
	Draw
)

func (s Status) String() string {
	switch s {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case Draw:
		return "draw"
	default:
		return "in_progress"
	}
}

// Move is origin, destination and optional promotion piece (q, r, b, n).
type Move struct {
	From      string
	To        string
	Promotion string
}

// UCI renders the move as <from><to>[promo].
func (m Move) UCI() string {
	return m.From + m.To + m.Promotion
}

func (m Move) String() string {
	return m.UCI()
}

// NewMove validates the parts of a move without reference to a position.
func NewMove(from, to, promotion string) (Move, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	promotion = strings.ToLower(strings.TrimSpace(promotion))
	if !validSquare(from) || !validSquare(to) {
		return Move{}, fmt.Errorf("%w: squares %q %q", ErrInvalidMove, from, to)
	}
	if from == to {
		return Move{}, fmt.Errorf("%w: origin equals destination", ErrInvalidMove)
	}
	switch promotion {
	case "", "q", "r", "b", "n":
	default:
		return Move{}, fmt.Errorf("%w: promotion %q", ErrInvalidMove, promotion)
	}
	return Move{From: from, To: to, Promotion: promotion}, nil
}

// ParseMove parses UCI long algebraic notation such as e2e4 or e7e8q.
func ParseMove(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrInvalidMove, s)
	}
	return NewMove(s[0:2], s[2:4], s[4:])
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// Position is an immutable game line: the current placement plus the moves
// that produced it, which repetition detection needs.
type Position struct {
	game *nchess.Game
}

func (p Position) FEN() string {
	if p.game == nil {
		return ""
	}
	return p.game.FEN()
}

func (p Position) Turn() Color {
	if p.game == nil || p.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// Board exposes the current placement for rendering.
func (p Position) Board() *nchess.Board {
	if p.game == nil {
		return nchess.NewGame().Position().Board()
	}
	return p.game.Position().Board()
}

// Report describes a position after it was reached.
type Report struct {
	FEN     string
	Turn    Color
	Status  Status
	Method  string
	InCheck bool
}

func (r Report) Terminal() bool {
	return r.Status != InProgress
}

// Engine implements the rules capability on top of corentings/chess.
type Engine struct{}

func New() Engine {
	return Engine{}
}

func (Engine) Initial() Position {
	return Position{game: nchess.NewGame()}
}

func (Engine) ParseFEN(fen string) (Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return Position{}, fmt.Errorf("%w: empty", ErrInvalidFEN)
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return Position{game: nchess.NewGame(opt)}, nil
}

// Apply validates mv against pos and returns the resulting position. pos is
// left untouched whether or not the move is accepted.
func (e Engine) Apply(pos Position, mv Move) (Position, Report, error) {
	if pos.game == nil {
		pos = e.Initial()
	}
	next := pos.game.Clone()
	decoded, err := nchess.UCINotation{}.Decode(next.Position(), mv.UCI())
	if err != nil {
		return pos, Report{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, mv.UCI(), err)
	}
	if !isLegal(next, decoded) {
		return pos, Report{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv.UCI())
	}
	if err := next.Move(decoded, nil); err != nil {
		return pos, Report{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, mv.UCI(), err)
	}
	out := Position{game: next}
	return out, e.Inspect(out), nil
}

func (Engine) Inspect(pos Position) Report {
	if pos.game == nil {
		pos = Position{game: nchess.NewGame()}
	}
	g := pos.game
	r := Report{
		FEN:     g.FEN(),
		Turn:    pos.Turn(),
		InCheck: inCheck(g.Position()),
	}

	if len(g.ValidMoves()) == 0 {
		if r.InCheck {
			r.Status, r.Method = Checkmate, "checkmate"
		} else {
			r.Status, r.Method = Stalemate, "stalemate"
		}
		return r
	}
	if g.Outcome() != nchess.NoOutcome {
		switch g.Method() {
		case nchess.Checkmate:
			r.Status = Checkmate
		case nchess.Stalemate:
			r.Status = Stalemate
		default:
			r.Status = Draw
		}
		r.Method = strings.ToLower(g.Method().String())
	}
	return r
}

func (Engine) LegalMoves(pos Position) []Move {
	if pos.game == nil {
		return nil
	}
	valid := pos.game.ValidMoves()
	out := make([]Move, 0, len(valid))
	for _, mv := range valid {
		out = append(out, Move{
			From:      mv.S1().String(),
			To:        mv.S2().String(),
			Promotion: promotionLetter(mv.Promo()),
		})
	}
	return out
}

// History returns the moves that produced pos in UCI and SAN notation.
func (Engine) History(pos Position) (uci []string, san []string) {
	if pos.game == nil {
		return nil, nil
	}
	moves := pos.game.Moves()
	positions := pos.game.Positions()
	uci = make([]string, 0, len(moves))
	san = make([]string, 0, len(moves))
	for i, mv := range moves {
		if i >= len(positions) {
			break
		}
		uci = append(uci, nchess.UCINotation{}.Encode(positions[i], mv))
		san = append(san, nchess.AlgebraicNotation{}.Encode(positions[i], mv))
	}
	return uci, san
}

// Game exposes a copy of the underlying game, for PGN export.
func (p Position) Game() *nchess.Game {
	if p.game == nil {
		return nchess.NewGame()
	}
	return p.game.Clone()
}

func isLegal(g *nchess.Game, mv *nchess.Move) bool {
	for _, valid := range g.ValidMoves() {
		if valid.S1() == mv.S1() && valid.S2() == mv.S2() && valid.Promo() == mv.Promo() {
			return true
		}
	}
	return false
}

func promotionLetter(pt nchess.PieceType) string {
	switch pt {
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	default:
		return ""
	}
}
