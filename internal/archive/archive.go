// Package archive stores finished games in Postgres.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/park285/cheese-chess-server/internal/chess/openingbook"
	"github.com/park285/cheese-chess-server/internal/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrNotFound = errors.New("archived game not found")

// Game is one archived row.
type Game struct {
	ID       string    `json:"id"`
	White    string    `json:"white"`
	Black    string    `json:"black"`
	Opponent string    `json:"opponent,omitempty"`
	Status   string    `json:"status"`
	Result   string    `json:"result"`
	Method   string    `json:"method,omitempty"`
	ECO      string    `json:"eco,omitempty"`
	Opening  string    `json:"opening,omitempty"`
	FinalFEN string    `json:"final_fen"`
	MovesUCI []string  `json:"moves_uci"`
	MovesSAN []string  `json:"moves_san"`
	PGN      string    `json:"pgn"`
	Started  time.Time `json:"started_at"`
	Ended    time.Time `json:"ended_at"`
	Duration int64     `json:"duration_ms"`
}

type Repository struct {
	db *sql.DB
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Repository{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Migrate(ctx context.Context) error {
	return Migrate(ctx, r.db)
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Archive upserts a finished session. Non-terminal snapshots are ignored.
func (r *Repository) Archive(ctx context.Context, snap session.Snapshot) error {
	if r == nil || r.db == nil || !snap.Status.Terminal() {
		return nil
	}

	movesUCI, err := json.Marshal(nonNil(snap.MovesUCI))
	if err != nil {
		return err
	}
	movesSAN, err := json.Marshal(nonNil(snap.MovesSAN))
	if err != nil {
		return err
	}
	ended := snap.EndedAt
	if ended.IsZero() {
		ended = snap.UpdatedAt
	}
	duration := ended.Sub(snap.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	opponent := ""
	if snap.Opponent != nil {
		opponent = string(snap.Opponent.Identity)
	}
	eco, openingName, _ := openingbook.Classify(snap.MovesUCI)

	const q = `INSERT INTO chess_games (
        game_id, white_id, black_id, opponent, status, result, method,
        final_fen, moves_uci, moves_san, pgn, started_at, ended_at, duration_ms,
        eco, opening
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
      ON CONFLICT (game_id) DO UPDATE SET
        white_id=EXCLUDED.white_id,
        black_id=EXCLUDED.black_id,
        opponent=EXCLUDED.opponent,
        status=EXCLUDED.status,
        result=EXCLUDED.result,
        method=EXCLUDED.method,
        final_fen=EXCLUDED.final_fen,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms,
        eco=EXCLUDED.eco,
        opening=EXCLUDED.opening`

	_, err = r.db.ExecContext(ctx, q,
		snap.ID, string(snap.White), string(snap.Black), opponent,
		snap.Status.String(), ResultToken(snap), snap.Method,
		snap.FEN, string(movesUCI), string(movesSAN), BuildPGN(snap),
		snap.CreatedAt.UTC(), ended.UTC(), duration,
		eco, openingName,
	)
	if err != nil {
		return fmt.Errorf("archive game %s: %w", snap.ID, err)
	}
	return nil
}

// Get loads an archived game by id.
func (r *Repository) Get(ctx context.Context, id string) (Game, error) {
	const q = `SELECT game_id, white_id, black_id, opponent, status, result, method,
        final_fen, moves_uci, moves_san, pgn, started_at, ended_at, duration_ms, eco, opening
      FROM chess_games WHERE game_id = $1`

	var (
		g      Game
		uciRaw []byte
		sanRaw []byte
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&g.ID, &g.White, &g.Black, &g.Opponent, &g.Status, &g.Result, &g.Method,
		&g.FinalFEN, &uciRaw, &sanRaw, &g.PGN, &g.Started, &g.Ended, &g.Duration, &g.ECO, &g.Opening,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, ErrNotFound
	}
	if err != nil {
		return Game{}, fmt.Errorf("load game %s: %w", id, err)
	}
	if err := json.Unmarshal(uciRaw, &g.MovesUCI); err != nil {
		return Game{}, fmt.Errorf("decode moves_uci: %w", err)
	}
	if err := json.Unmarshal(sanRaw, &g.MovesSAN); err != nil {
		return Game{}, fmt.Errorf("decode moves_san: %w", err)
	}
	return g, nil
}

// ListByPlayer returns the most recent games a player took part in.
func (r *Repository) ListByPlayer(ctx context.Context, player string, limit int) ([]Game, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const q = `SELECT game_id, white_id, black_id, opponent, status, result, method,
        final_fen, pgn, started_at, ended_at, duration_ms, eco, opening
      FROM chess_games WHERE white_id = $1 OR black_id = $1
      ORDER BY ended_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, q, player, limit)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []Game
	for rows.Next() {
		var g Game
		if err := rows.Scan(&g.ID, &g.White, &g.Black, &g.Opponent, &g.Status, &g.Result, &g.Method,
			&g.FinalFEN, &g.PGN, &g.Started, &g.Ended, &g.Duration, &g.ECO, &g.Opening); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
