// Package openingbook serves early automated-opponent moves from a polyglot
// book and names openings by ECO code.
package openingbook

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"

	"github.com/park285/cheese-chess-server/internal/chess"
	"github.com/park285/cheese-chess-server/internal/rules"
)

const DefaultMaxPly = 12

type Result struct {
	Move   rules.Move
	Weight uint16
}

// Book is a loaded polyglot book. A nil *Book never has a move.
type Book struct {
	poly   *chesslib.PolyglotBook
	maxPly int
	rules  rules.Engine
}

// Load reads a polyglot .bin file.
func Load(path string, maxPly int) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer f.Close()
	b, err := Read(f, maxPly)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", path, err)
	}
	return b, nil
}

func Read(r io.Reader, maxPly int) (*Book, error) {
	poly, err := chesslib.LoadFromReader(r)
	if err != nil {
		return nil, err
	}
	if maxPly <= 0 {
		maxPly = DefaultMaxPly
	}
	return &Book{poly: poly, maxPly: maxPly, rules: rules.New()}, nil
}

// Lookup returns the heaviest legal book move for pos, if pos is still within
// the book's ply window.
func (b *Book) Lookup(pos rules.Position) (Result, bool) {
	if b == nil || b.poly == nil {
		return Result{}, false
	}
	fen := pos.FEN()
	if ply(fen) >= b.maxPly {
		return Result{}, false
	}

	hashStr, err := chesslib.NewZobristHasher().HashPosition(fen)
	if err != nil {
		return Result{}, false
	}
	entries := b.poly.FindMoves(chesslib.ZobristHashToUint64(hashStr))

	var best Result
	found := false
	for _, entry := range entries {
		decoded := chesslib.DecodeMove(entry.Move).ToMove()
		mv, err := rules.ParseMove(decoded.String())
		if err != nil {
			continue
		}
		if _, _, err := b.rules.Apply(pos, mv); err != nil {
			continue
		}
		if !found || entry.Weight > best.Weight {
			best = Result{Move: mv, Weight: entry.Weight}
			found = true
		}
	}
	return best, found
}

// ply is the number of half-moves played before fen, from its move counters.
func ply(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 0
	}
	full, err := strconv.Atoi(fields[5])
	if err != nil || full < 1 {
		return 0
	}
	n := (full - 1) * 2
	if fields[1] == "b" {
		n++
	}
	return n
}

// Computer is anything that can produce an engine move.
type Computer interface {
	Compute(ctx context.Context, req chess.Request) (rules.Move, error)
}

// Mover answers from the book while it can and defers to next otherwise.
type Mover struct {
	book  *Book
	next  Computer
	rules rules.Engine
}

func NewMover(book *Book, next Computer) *Mover {
	return &Mover{book: book, next: next, rules: rules.New()}
}

func (m *Mover) Compute(ctx context.Context, req chess.Request) (rules.Move, error) {
	if m.book != nil {
		if pos, err := m.rules.ParseFEN(req.FEN); err == nil {
			if res, ok := m.book.Lookup(pos); ok {
				return res.Move, nil
			}
		}
	}
	if m.next == nil {
		return rules.Move{}, chess.ErrEngineUnavailable
	}
	return m.next.Compute(ctx, req)
}

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// Classify names the opening reached by a UCI move list.
func Classify(movesUCI []string) (code, title string, ok bool) {
	if len(movesUCI) == 0 {
		return "", "", false
	}
	game := chesslib.NewGame()
	for _, mv := range movesUCI {
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			break
		}
	}
	if len(game.Moves()) == 0 {
		return "", "", false
	}

	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	eco := ecoBook.Find(game.Moves())
	if eco == nil {
		return "", "", false
	}
	return eco.Code(), eco.Title(), true
}
