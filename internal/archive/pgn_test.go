package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
)

func foolsMate() session.Snapshot {
	ended := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return session.Snapshot{
		ID:        "g1",
		White:     "alice",
		Black:     "bob",
		Status:    session.Checkmate,
		Turn:      rules.White,
		MovesUCI:  []string{"f2f3", "e7e5", "g2g4", "d8h4"},
		MovesSAN:  []string{"f3", "e5", "g4", "Qh4#"},
		CreatedAt: ended.Add(-time.Minute),
		UpdatedAt: ended,
		EndedAt:   ended,
	}
}

func TestResultToken(t *testing.T) {
	snap := foolsMate()
	if got := ResultToken(snap); got != "0-1" {
		t.Fatalf("black mates: got %q", got)
	}
	snap.Turn = rules.Black
	if got := ResultToken(snap); got != "1-0" {
		t.Fatalf("white mates: got %q", got)
	}
	snap.Status = session.Stalemate
	if got := ResultToken(snap); got != "1/2-1/2" {
		t.Fatalf("stalemate: got %q", got)
	}
	snap.Status = session.Abandoned
	if got := ResultToken(snap); got != "*" {
		t.Fatalf("abandoned: got %q", got)
	}
}

func TestBuildPGN(t *testing.T) {
	pgn := BuildPGN(foolsMate())

	for _, want := range []string{
		"[Date \"2026.03.14\"]",
		"[White \"alice\"]",
		"[Black \"bob\"]",
		"[Result \"0-1\"]",
		"[Termination \"checkmate\"]",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("missing header %s in:\n%s", want, pgn)
		}
	}
	if !strings.HasSuffix(pgn, "1. f3 e5 2. g4 Qh4# 0-1") {
		t.Fatalf("unexpected movetext:\n%s", pgn)
	}
}

func TestBuildPGNOddMovesAndSanitize(t *testing.T) {
	snap := session.Snapshot{
		White:    `evil"name\`,
		Status:   session.Abandoned,
		MovesSAN: []string{"e4"},
		EndedAt:  time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	pgn := BuildPGN(snap)
	if !strings.Contains(pgn, "[White \"evil'name\"]") {
		t.Fatalf("white not sanitized:\n%s", pgn)
	}
	if !strings.Contains(pgn, "[Black \"?\"]") {
		t.Fatalf("empty black should be ?:\n%s", pgn)
	}
	if !strings.Contains(pgn, "[Termination \"abandoned\"]") {
		t.Fatalf("missing termination:\n%s", pgn)
	}
	if !strings.HasSuffix(pgn, "1. e4 *") {
		t.Fatalf("unexpected movetext:\n%s", pgn)
	}
}

func TestArchiveIgnoresNilRepository(t *testing.T) {
	var r *Repository
	if err := r.Archive(context.Background(), foolsMate()); err != nil {
		t.Fatalf("nil repository: %v", err)
	}
}

func TestBuildPGNNamesOpening(t *testing.T) {
	snap := session.Snapshot{
		White:    "alice",
		Black:    "bob",
		Status:   session.Abandoned,
		MovesUCI: []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5"},
		MovesSAN: []string{"e4", "e5", "Nf3", "Nc6", "Bb5"},
		EndedAt:  time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	pgn := BuildPGN(snap)
	if !strings.Contains(pgn, "[ECO \"C6") {
		t.Fatalf("missing ECO header:\n%s", pgn)
	}
	if !strings.Contains(pgn, "Ruy Lopez") {
		t.Fatalf("missing opening name:\n%s", pgn)
	}
}
