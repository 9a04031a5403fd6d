package uci_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-chess-server/internal/chess/uci"
	"github.com/park285/cheese-chess-server/internal/chess/uci/ucitest"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestStartMissingBinary(t *testing.T) {
	_, err := uci.Start(context.Background(), "/nonexistent/stockfish")
	if !errors.Is(err, uci.ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
}

func TestComputeReturnsBestMove(t *testing.T) {
	fake := ucitest.Write(t, ucitest.Engine{BestMove: "g1f3"})

	s, err := uci.Start(context.Background(), fake.Path)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	if s.Name() != "fakefish" {
		t.Fatalf("unexpected engine name %q", s.Name())
	}
	if !s.Supports("skill level") {
		t.Fatalf("expected Skill Level to be advertised")
	}

	move, err := s.Compute(context.Background(), uci.Search{FEN: startFEN, MoveTime: 100 * time.Millisecond, Depth: 4})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if move != "g1f3" {
		t.Fatalf("expected g1f3, got %s", move)
	}
	_ = s.Close()

	var sawGo bool
	for _, cmd := range fake.Commands(t) {
		if cmd == "go depth 4 movetime 100" {
			sawGo = true
		}
	}
	if !sawGo {
		t.Fatalf("expected combined depth and movetime limits, got %v", fake.Commands(t))
	}
}

func TestCloseLetsEngineQuit(t *testing.T) {
	fake := ucitest.Write(t, ucitest.Engine{})

	s, err := uci.Start(context.Background(), fake.Path)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cmds := fake.Commands(t)
	if len(cmds) == 0 || cmds[len(cmds)-1] != "quit" {
		t.Fatalf("engine should read quit before exiting, got %v", cmds)
	}
}

func TestSetOptionClampsAndRejectsUnknown(t *testing.T) {
	fake := ucitest.Write(t, ucitest.Engine{NoStrengthLimit: true})

	s, err := uci.Start(context.Background(), fake.Path)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	if err := s.SetOption("Skill Level", "35"); err != nil {
		t.Fatalf("set skill: %v", err)
	}
	if err := s.SetOption("UCI_Elo", "1500"); !errors.Is(err, uci.ErrUnsupportedOption) {
		t.Fatalf("expected ErrUnsupportedOption, got %v", err)
	}
	if err := s.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	_ = s.Close()

	var found bool
	for _, cmd := range fake.Commands(t) {
		if cmd == "setoption name Skill Level value 20" {
			found = true
		}
		if strings.Contains(cmd, "UCI_Elo") {
			t.Fatalf("unsupported option must not be sent: %q", cmd)
		}
	}
	if !found {
		t.Fatalf("expected clamped skill level, got %v", fake.Commands(t))
	}
}

func TestComputeReportsCrash(t *testing.T) {
	fake := ucitest.Write(t, ucitest.Engine{Mode: ucitest.Crash})

	s, err := uci.Start(context.Background(), fake.Path)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	_, err = s.Compute(context.Background(), uci.Search{FEN: startFEN, MoveTime: 50 * time.Millisecond})
	if !errors.Is(err, uci.ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
}

func TestComputeNoMove(t *testing.T) {
	fake := ucitest.Write(t, ucitest.Engine{Mode: ucitest.NoMove})

	s, err := uci.Start(context.Background(), fake.Path)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	_, err = s.Compute(context.Background(), uci.Search{FEN: startFEN, MoveTime: 50 * time.Millisecond})
	if !errors.Is(err, uci.ErrNoMove) {
		t.Fatalf("expected ErrNoMove, got %v", err)
	}
}

func TestComputeHonoursContextAndCloseReaps(t *testing.T) {
	fake := ucitest.Write(t, ucitest.Engine{Mode: ucitest.Hang})

	s, err := uci.Start(context.Background(), fake.Path)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = s.Compute(ctx, uci.Search{FEN: startFEN, MoveTime: 50 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("close did not reap hung engine")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("hung engine held caller for %v", elapsed)
	}
}

func TestLauncherCapsConcurrentProcesses(t *testing.T) {
	fake := ucitest.Write(t, ucitest.Engine{})

	l, err := uci.NewLauncher(uci.LauncherConfig{BinaryPath: fake.Path, MaxProcs: 1})
	if err != nil {
		t.Fatalf("new launcher: %v", err)
	}
	defer l.Close()

	first, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if l.InUse() != 1 {
		t.Fatalf("expected 1 live engine, got %d", l.InUse())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := l.Launch(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second launch to wait for a slot, got %v", err)
	}

	if err := l.Release(first); err != nil {
		t.Fatalf("release: %v", err)
	}
	second, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("launch after release: %v", err)
	}
	if second == first {
		t.Fatalf("launcher must not reuse engine processes")
	}
	_ = l.Release(second)
	if l.InUse() != 0 {
		t.Fatalf("expected no live engines, got %d", l.InUse())
	}
}
