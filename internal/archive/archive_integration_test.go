//go:build integration

package archive_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/lib/pq"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/park285/cheese-chess-server/internal/archive"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
)

func setupRepo(t *testing.T) *archive.Repository {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open sql.DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := archive.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return archive.New(db)
}

func TestArchiveRoundTrip(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	ended := time.Now().UTC().Truncate(time.Millisecond)

	snap := session.Snapshot{
		ID:        "game-1",
		White:     "alice",
		Black:     "bob",
		Status:    session.Checkmate,
		Turn:      rules.White,
		FEN:       "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3",
		MovesUCI:  []string{"f2f3", "e7e5", "g2g4", "d8h4"},
		MovesSAN:  []string{"f3", "e5", "g4", "Qh4#"},
		CreatedAt: ended.Add(-90 * time.Second),
		UpdatedAt: ended,
		EndedAt:   ended,
	}
	if err := repo.Archive(ctx, snap); err != nil {
		t.Fatalf("archive: %v", err)
	}
	// upsert keeps a single row
	if err := repo.Archive(ctx, snap); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	got, err := repo.Get(ctx, "game-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != "0-1" || got.Status != "checkmate" {
		t.Fatalf("unexpected result %q status %q", got.Result, got.Status)
	}
	if len(got.MovesSAN) != 4 || got.MovesSAN[3] != "Qh4#" {
		t.Fatalf("unexpected moves %v", got.MovesSAN)
	}
	if got.Duration != 90_000 {
		t.Fatalf("duration = %d", got.Duration)
	}

	games, err := repo.ListByPlayer(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("want 1 game, got %d", len(games))
	}
}

func TestArchiveSkipsLiveGames(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.Archive(ctx, session.Snapshot{ID: "live", Status: session.InProgress}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := repo.Get(ctx, "live"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
