package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
)

func newTestLease(t *testing.T) (*SessionStore, *Lease, *miniredis.Miniredis) {
	t.Helper()
	s, mr := newTestStore(t)
	return s, NewLease(s.rdb), mr
}

func TestLeaseAcquireRenewRelease(t *testing.T) {
	_, l, mr := newTestLease(t)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "g1", "node-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if got, _ := mr.Get("chess:owner:g1"); got != "node-a" {
		t.Fatalf("lease key holds %q", got)
	}
	if ok, err := l.Acquire(ctx, "g1", "node-b", time.Minute); err != nil || ok {
		t.Fatalf("second owner must be refused: %v %v", ok, err)
	}

	mr.FastForward(30 * time.Second)
	if ok, err := l.Acquire(ctx, "g1", "node-a", time.Minute); err != nil || !ok {
		t.Fatalf("holder renew: %v %v", ok, err)
	}
	if ttl := mr.TTL("chess:owner:g1"); ttl != time.Minute {
		t.Fatalf("renew should reset ttl, got %v", ttl)
	}

	if err := l.Release(ctx, "g1", "node-b"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if !mr.Exists("chess:owner:g1") {
		t.Fatalf("release by a non-holder must not drop the lease")
	}
	if err := l.Release(ctx, "g1", "node-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := l.Acquire(ctx, "g1", "node-b", time.Minute); err != nil || !ok {
		t.Fatalf("released lease should be free: %v %v", ok, err)
	}
}

func TestLeaseExpires(t *testing.T) {
	_, l, mr := newTestLease(t)
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "g1", "node-a", time.Second); !ok {
		t.Fatalf("acquire failed")
	}
	mr.FastForward(2 * time.Second)
	if ok, err := l.Acquire(ctx, "g1", "node-b", time.Second); err != nil || !ok {
		t.Fatalf("expired lease should pass on: %v %v", ok, err)
	}
}

func TestOneSessionIsServedByOneRegistry(t *testing.T) {
	s, l, mr := newTestLease(t)
	ctx := context.Background()

	a := session.NewRegistry(rules.New(), session.WithStore(s), session.WithLease(l, 10*time.Second))
	b := session.NewRegistry(rules.New(), session.WithStore(s), session.WithLease(l, 10*time.Second))
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	live, err := a.Create(ctx, session.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _ = live.Join("alice")
	_, _ = live.Join("bob")

	if _, err := b.Get(ctx, live.ID()); !errors.Is(err, session.ErrOwnedElsewhere) {
		t.Fatalf("second registry must not rehydrate a leased session, got %v", err)
	}

	// a stalls past its lease; b takes over and a drops its copy on renew
	mr.FastForward(11 * time.Second)
	taken, err := b.Get(ctx, live.ID())
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if dropped := a.Renew(ctx); dropped != 1 {
		t.Fatalf("expected a to drop 1 session, dropped %d", dropped)
	}
	e4, _ := rules.ParseMove("e2e4")
	if _, err := live.ApplyMove("alice", e4); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("dropped copy must refuse moves, got %v", err)
	}
	if _, err := a.Get(ctx, live.ID()); !errors.Is(err, session.ErrOwnedElsewhere) {
		t.Fatalf("a must see the session as owned elsewhere, got %v", err)
	}
	if _, err := taken.ApplyMove("alice", e4); err != nil {
		t.Fatalf("owner move: %v", err)
	}

	b.Close()
	back, err := a.Get(ctx, live.ID())
	if err != nil {
		t.Fatalf("lease should be free after close: %v", err)
	}
	if got := back.Snapshot().MovesUCI; len(got) != 1 || got[0] != "e2e4" {
		t.Fatalf("unexpected history after handover: %v", got)
	}
}

func TestLeaseKeyPerSession(t *testing.T) {
	_, l, mr := newTestLease(t)
	for i := 0; i < 3; i++ {
		if ok, _ := l.Acquire(context.Background(), fmt.Sprintf("g%d", i), "node-a", time.Minute); !ok {
			t.Fatalf("acquire g%d failed", i)
		}
	}
	if keys := mr.Keys(); len(keys) != 3 {
		t.Fatalf("expected 3 lease keys, got %v", keys)
	}
}
