package rules

import (
	"errors"
	"strings"
	"testing"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func mustMove(t *testing.T, s string) Move {
	t.Helper()
	mv, err := ParseMove(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return mv
}

func play(t *testing.T, e Engine, moves ...string) (Position, Report) {
	t.Helper()
	pos := e.Initial()
	var rep Report
	for _, s := range moves {
		var err error
		pos, rep, err = e.Apply(pos, mustMove(t, s))
		if err != nil {
			t.Fatalf("apply %s: %v", s, err)
		}
	}
	return pos, rep
}

func TestInitialPosition(t *testing.T) {
	e := New()
	pos := e.Initial()
	if pos.FEN() != startFEN {
		t.Fatalf("unexpected initial fen %s", pos.FEN())
	}
	rep := e.Inspect(pos)
	if rep.Turn != White || rep.Status != InProgress || rep.InCheck {
		t.Fatalf("unexpected initial report %+v", rep)
	}
	if n := len(e.LegalMoves(pos)); n != 20 {
		t.Fatalf("expected 20 legal moves, got %d", n)
	}
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	e := New()
	pos := e.Initial()
	next, rep, err := e.Apply(pos, mustMove(t, "e2e4"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if pos.FEN() != startFEN {
		t.Fatalf("input position mutated: %s", pos.FEN())
	}
	if rep.Turn != Black || next.Turn() != Black {
		t.Fatalf("expected black to move, got %v", rep.Turn)
	}
	if !strings.HasPrefix(next.FEN(), "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("unexpected fen after e2e4: %s", next.FEN())
	}
}

func TestApplyRejectsIllegalMove(t *testing.T) {
	e := New()
	pos := e.Initial()
	_, _, err := e.Apply(pos, mustMove(t, "e2e5"))
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	_, _, err = e.Apply(pos, mustMove(t, "e7e5"))
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("moving the wrong colour must be illegal, got %v", err)
	}
}

func TestFoolsMateIsCheckmate(t *testing.T) {
	e := New()
	pos, rep := play(t, e, "f2f3", "e7e6", "g2g4", "d8h4")
	if rep.Status != Checkmate || !rep.InCheck || !rep.Terminal() {
		t.Fatalf("expected checkmate, got %+v", rep)
	}
	if len(e.LegalMoves(pos)) != 0 {
		t.Fatalf("mated side must have no legal moves")
	}
}

func TestParseFENReportsTerminalPositions(t *testing.T) {
	e := New()
	cases := []struct {
		name   string
		fen    string
		status Status
		check  bool
	}{
		{"checkmate", "rnb1kbnr/pppp1ppp/4p3/8/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3", Checkmate, true},
		{"stalemate", "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1", Stalemate, false},
		{"check", "rnbqkbnr/ppp2ppp/3p4/1B2p3/4P3/8/PPPP1PPP/RNBQK1NR b KQkq - 1 3", InProgress, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos, err := e.ParseFEN(tc.fen)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			rep := e.Inspect(pos)
			if rep.Status != tc.status || rep.InCheck != tc.check {
				t.Fatalf("expected %v check=%v, got %+v", tc.status, tc.check, rep)
			}
		})
	}
}

func TestParseFENRejectsGarbage(t *testing.T) {
	e := New()
	for _, fen := range []string{"", "   ", "not a fen", "rnbqkbnr/pppppppp/8/8 w KQkq - 0 1"} {
		if _, err := e.ParseFEN(fen); !errors.Is(err, ErrInvalidFEN) {
			t.Fatalf("fen %q: expected ErrInvalidFEN, got %v", fen, err)
		}
	}
}

func TestCaptureToBareKingsIsDraw(t *testing.T) {
	e := New()
	pos, err := e.ParseFEN("8/8/4k3/8/8/4K3/5r2/8 w - - 0 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, rep, err := e.Apply(pos, mustMove(t, "e3f2"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rep.Status != Draw {
		t.Fatalf("expected draw by insufficient material, got %+v", rep)
	}
}

func TestPromotionRequiresPiece(t *testing.T) {
	e := New()
	pos, err := e.ParseFEN("8/P7/8/8/8/8/8/k6K w - - 0 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, _, err := e.Apply(pos, mustMove(t, "a7a8")); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected promotion without piece to be illegal, got %v", err)
	}
	next, _, err := e.Apply(pos, mustMove(t, "a7a8q"))
	if err != nil {
		t.Fatalf("apply promotion: %v", err)
	}
	if !strings.HasPrefix(next.FEN(), "Q7/") {
		t.Fatalf("expected queen on a8, got %s", next.FEN())
	}
}

func TestHistoryNotations(t *testing.T) {
	e := New()
	pos, _ := play(t, e, "e2e4", "e7e5", "g1f3")
	uci, san := e.History(pos)
	if strings.Join(uci, " ") != "e2e4 e7e5 g1f3" {
		t.Fatalf("unexpected uci history %v", uci)
	}
	if strings.Join(san, " ") != "e4 e5 Nf3" {
		t.Fatalf("unexpected san history %v", san)
	}
}

func TestMoveParsing(t *testing.T) {
	mv, err := NewMove("E7", "e8", "Q")
	if err != nil {
		t.Fatalf("new move: %v", err)
	}
	if mv.UCI() != "e7e8q" {
		t.Fatalf("unexpected uci %s", mv.UCI())
	}
	if mv != mustMove(t, "e7e8q") {
		t.Fatalf("moves must compare structurally")
	}
	for _, bad := range []string{"", "e2", "e2e9", "i2e4", "e2e4k", "e2e2"} {
		if _, err := ParseMove(bad); !errors.Is(err, ErrInvalidMove) {
			t.Fatalf("%q: expected ErrInvalidMove, got %v", bad, err)
		}
	}
}
