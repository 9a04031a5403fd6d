package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/cheese-chess-server/internal/rules"
)

const (
	alice Identity = "alice"
	bob   Identity = "bob"
	carol Identity = "carol"
)

func mv(t *testing.T, s string) rules.Move {
	t.Helper()
	m, err := rules.ParseMove(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return m
}

func newSeated(t *testing.T) (*Registry, *Session) {
	t.Helper()
	reg := NewRegistry(rules.New())
	s, err := reg.Create(context.Background(), CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j, err := s.Join(alice); err != nil || j.Color != rules.White {
		t.Fatalf("alice join: %+v %v", j, err)
	}
	if j, err := s.Join(bob); err != nil || j.Color != rules.Black {
		t.Fatalf("bob join: %+v %v", j, err)
	}
	return reg, s
}

func TestJoinOrderRejoinAndFull(t *testing.T) {
	_, s := newSeated(t)

	j, err := s.Join(alice)
	if err != nil || j.Color != rules.White || !j.Rejoined {
		t.Fatalf("rejoin must return existing colour: %+v %v", j, err)
	}
	j, err = s.Join(bob)
	if err != nil || j.Color != rules.Black || !j.Rejoined {
		t.Fatalf("rejoin must return existing colour: %+v %v", j, err)
	}
	if _, err := s.Join(carol); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull, got %v", err)
	}
	snap := s.Snapshot()
	if snap.White != alice || snap.Black != bob {
		t.Fatalf("rejoin must not occupy a second slot: %+v", snap)
	}
	if _, err := s.Join("  "); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestFirstMoveFlipsTurn(t *testing.T) {
	_, s := newSeated(t)
	snap, err := s.ApplyMove(alice, mv(t, "e2e4"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if snap.Turn != rules.Black || snap.Status != InProgress {
		t.Fatalf("unexpected state %+v", snap)
	}
	if len(snap.MovesUCI) != 1 || snap.MovesUCI[0] != "e2e4" {
		t.Fatalf("unexpected history %v", snap.MovesUCI)
	}
}

func TestRejectionsLeaveStateUnchanged(t *testing.T) {
	_, s := newSeated(t)
	before := s.Snapshot()

	if _, err := s.ApplyMove(bob, mv(t, "e7e5")); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if _, err := s.ApplyMove(carol, mv(t, "e2e4")); !errors.Is(err, ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant, got %v", err)
	}
	if _, err := s.ApplyMove(alice, mv(t, "e2e5")); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}

	after := s.Snapshot()
	if after.FEN != before.FEN || after.Version != before.Version || len(after.MovesUCI) != 0 || after.Status != InProgress {
		t.Fatalf("rejected moves changed state: before=%+v after=%+v", before, after)
	}
}

func TestFoolsMateEndsGame(t *testing.T) {
	_, s := newSeated(t)
	seq := []struct {
		who Identity
		mv  string
	}{{alice, "f2f3"}, {bob, "e7e6"}, {alice, "g2g4"}, {bob, "d8h4"}}
	var snap Snapshot
	for _, step := range seq {
		var err error
		snap, err = s.ApplyMove(step.who, mv(t, step.mv))
		if err != nil {
			t.Fatalf("%s: %v", step.mv, err)
		}
	}
	if snap.Status != Checkmate || !snap.InCheck {
		t.Fatalf("expected checkmate, got %+v", snap)
	}
	if c, ok := snap.Winner(); !ok || c != rules.Black {
		t.Fatalf("expected black to win, got %v %v", c, ok)
	}
	if len(snap.LegalMoves) != 0 {
		t.Fatalf("finished game must list no legal moves")
	}
	for _, who := range []Identity{alice, bob} {
		if _, err := s.ApplyMove(who, mv(t, "a2a3")); !errors.Is(err, ErrGameOver) {
			t.Fatalf("%s: expected ErrGameOver, got %v", who, err)
		}
	}
}

func TestAbandonIsIdempotent(t *testing.T) {
	_, s := newSeated(t)
	snap, err := s.Abandon(bob)
	if err != nil || snap.Status != Abandoned {
		t.Fatalf("abandon: %+v %v", snap, err)
	}
	version := snap.Version
	snap, err = s.Abandon(alice)
	if err != nil || snap.Status != Abandoned || snap.Version != version {
		t.Fatalf("second abandon must be a no-op: %+v %v", snap, err)
	}
	if _, err := s.Abandon(carol); !errors.Is(err, ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant, got %v", err)
	}
	if _, err := s.ApplyMove(alice, mv(t, "e2e4")); !errors.Is(err, ErrGameOver) {
		t.Fatalf("expected ErrGameOver, got %v", err)
	}
}

func TestConcurrentSubmissionsAreSerialized(t *testing.T) {
	_, s := newSeated(t)

	candidates := []string{"e2e4", "d2d4", "g1f3", "c2c4", "b1c3", "e2e3", "d2d3", "a2a3"}
	var wg sync.WaitGroup
	var ok, notTurn int32
	for _, c := range candidates {
		wg.Add(1)
		go func(m rules.Move) {
			defer wg.Done()
			_, err := s.ApplyMove(alice, m)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrNotYourTurn):
				atomic.AddInt32(&notTurn, 1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(mv(t, c))
	}
	wg.Wait()

	if ok != 1 || notTurn != int32(len(candidates)-1) {
		t.Fatalf("expected exactly one winner, got ok=%d notYourTurn=%d", ok, notTurn)
	}
	if snap := s.Snapshot(); len(snap.MovesUCI) != 1 || snap.Turn != rules.Black {
		t.Fatalf("unexpected state after race: %+v", snap)
	}
}

func TestHistoryReplaysToPosition(t *testing.T) {
	engine := rules.New()
	rng := rand.New(rand.NewSource(7))
	for game := 0; game < 5; game++ {
		_, s := newSeated(t)
		for ply := 0; ply < 40; ply++ {
			snap := s.Snapshot()
			if snap.Status.Terminal() {
				break
			}
			who := alice
			if snap.Turn == rules.Black {
				who = bob
			}
			pick := snap.LegalMoves[rng.Intn(len(snap.LegalMoves))]
			if _, err := s.ApplyMove(who, mv(t, pick)); err != nil {
				t.Fatalf("apply legal move %s: %v", pick, err)
			}
		}

		snap := s.Snapshot()
		pos := engine.Initial()
		for _, raw := range snap.MovesUCI {
			var err error
			pos, _, err = engine.Apply(pos, mv(t, raw))
			if err != nil {
				t.Fatalf("replay %s: %v", raw, err)
			}
		}
		if pos.FEN() != snap.FEN {
			t.Fatalf("replay mismatch: %s vs %s", pos.FEN(), snap.FEN)
		}
		if pos.Turn() != snap.Turn {
			t.Fatalf("turn must follow position")
		}
	}
}

func TestEngineOpponentOccupiesSlot(t *testing.T) {
	reg := NewRegistry(rules.New())
	s, err := reg.Create(context.Background(), CreateOptions{Opponent: &Opponent{Identity: "engine", Color: "black", Difficulty: 3, TimeLimit: 100 * time.Millisecond}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j, err := s.Join(alice); err != nil || j.Color != rules.White {
		t.Fatalf("join: %+v %v", j, err)
	}
	if _, err := s.Join(bob); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull, got %v", err)
	}
	op := s.Opponent()
	if op == nil || op.Difficulty != 3 {
		t.Fatalf("unexpected opponent %+v", op)
	}
	if !op.Identity.IsEngine() || op.Identity == "engine" {
		t.Fatalf("engine must sit under a reserved identity, got %q", op.Identity)
	}
	if snap := s.Snapshot(); snap.Black != op.Identity {
		t.Fatalf("engine not seated in black: %+v", snap)
	}
	if _, err := s.Join(op.Identity); !errors.Is(err, ErrReservedIdentity) {
		t.Fatalf("expected ErrReservedIdentity, got %v", err)
	}
	if _, err := s.Join("engine"); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("plain \"engine\" is an ordinary identity, expected ErrSessionFull, got %v", err)
	}
}

func TestIdentitiesAreNormalized(t *testing.T) {
	reg := NewRegistry(rules.New())
	s, _ := reg.Create(context.Background(), CreateOptions{})
	if _, err := s.Join(" alice "); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, _ = s.Join(bob)
	if c, ok := s.ColorOf(" alice"); !ok || c != rules.White {
		t.Fatalf("color of padded identity: %v %v", c, ok)
	}
	if _, err := s.ApplyMove("alice ", mv(t, "e2e4")); err != nil {
		t.Fatalf("move with padded identity: %v", err)
	}
	if _, err := s.Abandon("\talice"); err != nil {
		t.Fatalf("abandon with padded identity: %v", err)
	}
}
