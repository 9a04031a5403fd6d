package chess

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/chess/uci"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/rules"
)

const (
	DefaultTimeLimit     = 100 * time.Millisecond
	defaultDeadlineSlack = 2 * time.Second
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrEngineCrashed     = errors.New("engine crashed")
	ErrNoMoveProduced    = errors.New("engine produced no move")
	ErrEngineTimeout     = errors.New("engine timed out")
)

// EngineError is any other failure reported by the engine.
type EngineError struct {
	Detail string
	Err    error
}

func (e *EngineError) Error() string {
	return "engine error: " + e.Detail
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Rules is the subset of the rules engine the broker needs.
type Rules interface {
	ParseFEN(fen string) (rules.Position, error)
	Apply(pos rules.Position, mv rules.Move) (rules.Position, rules.Report, error)
	Inspect(pos rules.Position) rules.Report
}

type Request struct {
	FEN        string
	Difficulty int
	TimeLimit  time.Duration
	DepthLimit int
}

type Result struct {
	// Move is nil when the input position was already terminal.
	Move      *rules.Move
	FENAfter  string
	Status    rules.Status
	GameOver  bool
	Check     bool
	Checkmate bool
	Config    EngineConfig
	Elapsed   time.Duration
}

type BrokerConfig struct {
	// DeadlineSlack is added to the time limit to form the hard deadline.
	DeadlineSlack time.Duration
	Threads       int
	HashMB        int
}

// Broker runs one private engine process per computation and always
// releases it before returning.
type Broker struct {
	launcher *uci.Launcher
	rules    Rules
	cfg      BrokerConfig
	logger   *zap.Logger
}

func NewBroker(launcher *uci.Launcher, r Rules, cfg BrokerConfig, logger *zap.Logger) *Broker {
	if cfg.DeadlineSlack <= 0 {
		cfg.DeadlineSlack = defaultDeadlineSlack
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.HashMB <= 0 {
		cfg.HashMB = 16
	}
	if logger == nil {
		logger = obslog.L()
	}
	return &Broker{launcher: launcher, rules: r, cfg: cfg, logger: logger}
}

// Compute returns the engine's move for req.FEN. A terminal position yields
// ErrNoMoveProduced without starting an engine.
func (b *Broker) Compute(ctx context.Context, req Request) (rules.Move, error) {
	res, err := b.ComputeOrTerminal(ctx, req)
	if err != nil {
		return rules.Move{}, err
	}
	if res.Move == nil {
		return rules.Move{}, fmt.Errorf("%w: position is terminal", ErrNoMoveProduced)
	}
	return *res.Move, nil
}

// ComputeOrTerminal checks for a finished position first and only then
// starts an engine.
func (b *Broker) ComputeOrTerminal(ctx context.Context, req Request) (Result, error) {
	pos, err := b.rules.ParseFEN(req.FEN)
	if err != nil {
		return Result{}, err
	}
	if rep := b.rules.Inspect(pos); rep.Terminal() {
		return resultFromReport(nil, rep), nil
	}
	return b.compute(ctx, pos, req)
}

func (b *Broker) compute(parent context.Context, pos rules.Position, req Request) (Result, error) {
	start := time.Now()
	cfg := MapDifficulty(req.Difficulty)
	timeLimit := req.TimeLimit
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimit
	}
	depth := req.DepthLimit
	if depth < 0 {
		depth = 0
	}

	ctx, cancel := context.WithTimeout(parent, timeLimit+b.cfg.DeadlineSlack)
	defer cancel()

	session, err := b.launcher.Launch(ctx)
	if err != nil {
		return Result{}, b.fail(req, cfg, start, mapStartError(ctx, parent, err))
	}
	defer func() {
		if err := b.launcher.Release(session); err != nil {
			b.logger.Warn("engine_release_failed", zap.Error(err))
		}
	}()

	if err := b.configure(ctx, session, cfg); err != nil {
		return Result{}, b.fail(req, cfg, start, mapEngineError(ctx, parent, err))
	}

	best, err := session.Compute(ctx, uci.Search{FEN: pos.FEN(), MoveTime: timeLimit, Depth: depth})
	if err != nil {
		return Result{}, b.fail(req, cfg, start, mapEngineError(ctx, parent, err))
	}

	mv, err := rules.ParseMove(best)
	if err != nil {
		return Result{}, b.fail(req, cfg, start, &EngineError{Detail: "unparseable move " + strconv.Quote(best), Err: err})
	}
	_, rep, err := b.rules.Apply(pos, mv)
	if err != nil {
		return Result{}, b.fail(req, cfg, start, &EngineError{Detail: "engine proposed illegal move " + best, Err: err})
	}

	res := resultFromReport(&mv, rep)
	res.Config = cfg
	res.Elapsed = time.Since(start)
	b.logger.Info("engine_compute_ok",
		zap.String("move", mv.UCI()),
		zap.Int("difficulty", cfg.Difficulty),
		zap.Int("skill", cfg.SkillLevel),
		zap.Int("elo", cfg.TargetElo),
		zap.Duration("time_limit", timeLimit),
		zap.Int("depth_limit", depth),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// configure applies skill first, then tries the rating limiter. Options the
// engine does not advertise are skipped.
func (b *Broker) configure(ctx context.Context, session *uci.Session, cfg EngineConfig) error {
	opts := []struct{ name, value string }{
		{"Threads", strconv.Itoa(b.cfg.Threads)},
		{"Hash", strconv.Itoa(b.cfg.HashMB)},
		{"Skill Level", strconv.Itoa(cfg.SkillLevel)},
		{"UCI_LimitStrength", strconv.FormatBool(cfg.LimitStrength)},
		{"UCI_Elo", strconv.Itoa(cfg.TargetElo)},
	}
	for _, opt := range opts {
		err := session.SetOption(opt.name, opt.value)
		if err == nil {
			continue
		}
		if errors.Is(err, uci.ErrUnsupportedOption) {
			b.logger.Debug("engine_option_unsupported", zap.String("option", opt.name))
			continue
		}
		return err
	}
	return session.Ready(ctx)
}

func (b *Broker) fail(req Request, cfg EngineConfig, start time.Time, err error) error {
	b.logger.Warn("engine_compute_failed",
		zap.Int("difficulty", cfg.Difficulty),
		zap.Duration("time_limit", req.TimeLimit),
		zap.Int("depth_limit", req.DepthLimit),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return err
}

func resultFromReport(mv *rules.Move, rep rules.Report) Result {
	return Result{
		Move:      mv,
		FENAfter:  rep.FEN,
		Status:    rep.Status,
		GameOver:  rep.Terminal(),
		Check:     rep.InCheck,
		Checkmate: rep.Status == rules.Checkmate,
	}
}

func mapStartError(ctx, parent context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("engine start cancelled: %w", parent.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: waiting for engine start", ErrEngineTimeout)
	}
	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

func mapEngineError(ctx, parent context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("engine compute cancelled: %w", parent.Err())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: hard deadline exceeded", ErrEngineTimeout)
	case errors.Is(err, uci.ErrProcessExited):
		return fmt.Errorf("%w: %v", ErrEngineCrashed, err)
	case errors.Is(err, uci.ErrNoMove):
		return ErrNoMoveProduced
	case errors.Is(err, uci.ErrBinaryNotFound):
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	default:
		return &EngineError{Detail: err.Error(), Err: err}
	}
}
