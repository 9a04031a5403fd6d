// Package app wires configuration into a running chess server.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/archive"
	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/chess"
	"github.com/park285/cheese-chess-server/internal/chess/openingbook"
	"github.com/park285/cheese-chess-server/internal/chess/uci"
	"github.com/park285/cheese-chess-server/internal/config"
	"github.com/park285/cheese-chess-server/internal/engineclient"
	"github.com/park285/cheese-chess-server/internal/gateway"
	"github.com/park285/cheese-chess-server/internal/httpapi"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/render"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
)

type Deps struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Launcher *uci.Launcher
	Engine   *chess.Broker
	Remote   *engineclient.Client
	Book     *openingbook.Book
	Redis    *redis.Client
	Archive  *archive.Repository
	Registry *session.Registry
	Broker   gateway.Broker
	Hub      *gateway.Hub
	HTTP     *echo.Echo

	closeOnce sync.Once
	closeErr  error
}

// New builds every component named by cfg. Optional backends (Redis, Postgres,
// remote engine) are skipped when their URL is empty.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (_ *Deps, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	authn, err := auth.New(cfg.AuthMode, cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}
	rulesEngine := rules.New()

	// Engine
	if strings.TrimSpace(cfg.StockfishPath) != "" {
		d.Launcher, err = uci.NewLauncher(uci.LauncherConfig{BinaryPath: cfg.StockfishPath, MaxProcs: cfg.EngineMaxProcs})
		if err != nil {
			return nil, fmt.Errorf("init engine launcher: %w", err)
		}
		d.Engine = chess.NewBroker(d.Launcher, rulesEngine, chess.BrokerConfig{
			DeadlineSlack: cfg.EngineDeadlineGrace,
			Threads:       cfg.EngineThreads,
			HashMB:        cfg.EngineHashMB,
		}, logger.Named("engine"))
	}
	if strings.TrimSpace(cfg.EngineRemoteURL) != "" {
		d.Remote = engineclient.New(cfg.EngineRemoteURL)
	}
	if strings.TrimSpace(cfg.OpeningBookPath) != "" {
		d.Book, err = openingbook.Load(cfg.OpeningBookPath, cfg.OpeningMaxPly)
		if err != nil {
			return nil, fmt.Errorf("init opening book: %w", err)
		}
	}

	// Redis (snapshots, pub/sub)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		d.Redis, err = store.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
	}

	// Archive (optional)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		d.Archive, err = archive.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		if cfg.DatabaseMigrate {
			if err := d.Archive.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate archive: %w", err)
			}
		}
	}

	regOpts := []session.Option{
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithLogger(logger.Named("session")),
	}
	if d.Redis != nil {
		regOpts = append(regOpts,
			session.WithStore(store.NewSessionStore(d.Redis, cfg.SessionSnapshotTTL)),
			session.WithLease(store.NewLease(d.Redis), cfg.SessionLeaseTTL),
		)
	}
	if d.Archive != nil {
		regOpts = append(regOpts, session.WithArchiver(d.Archive))
	}
	d.Registry = session.NewRegistry(rulesEngine, regOpts...)

	switch cfg.Broker {
	case config.BrokerRedis:
		if d.Redis == nil {
			return nil, fmt.Errorf("BROKER=redis needs REDIS_URL")
		}
		d.Broker = gateway.NewRedisBroker(d.Redis)
	default:
		d.Broker = gateway.NewMemoryBroker(0)
	}

	hubOpts := []gateway.Option{
		gateway.WithCatalog(catalog),
		gateway.WithHubLogger(logger.Named("gateway")),
		gateway.WithCloseOnDisconnect(cfg.SessionCloseOnDisconnect),
	}
	mover := d.mover()
	if mover != nil {
		hubOpts = append(hubOpts, gateway.WithMoveComputer(mover))
	}
	d.Hub = gateway.NewHub(d.Registry, d.Broker, hubOpts...)

	apiCfg := httpapi.Config{
		Registry:       d.Registry,
		Auth:           authn,
		Renderer:       render.New(render.DefaultSquareSize),
		Catalog:        catalog,
		Realtime:       gateway.NewServer(d.Hub, authn, gateway.ServerConfig{OriginPatterns: cfg.AllowedOrigins}),
		EngineOpponent: mover != nil,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.Named("http"),
	}
	if d.Engine != nil {
		apiCfg.Engine = d.Engine
	}
	if d.Archive != nil {
		apiCfg.Games = d.Archive
	}
	d.HTTP = httpapi.New(apiCfg)

	logger.Info("app_ready",
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("local_engine", d.Engine != nil),
		zap.Bool("remote_engine", d.Remote != nil),
		zap.Bool("opening_book", d.Book != nil),
		zap.Bool("redis", d.Redis != nil),
		zap.Bool("archive", d.Archive != nil),
		zap.String("broker", cfg.Broker),
	)
	return d, nil
}

// mover picks the automated opponent's engine; the remote service wins when
// configured. A loaded opening book answers first.
func (d *Deps) mover() gateway.MoveComputer {
	var next openingbook.Computer
	switch {
	case d.Remote != nil:
		next = d.Remote
	case d.Engine != nil:
		next = d.Engine
	default:
		return nil
	}
	if d.Book != nil {
		return openingbook.NewMover(d.Book, next)
	}
	return next
}

// Run serves HTTP and sweeps idle sessions until ctx is cancelled.
func (d *Deps) Run(ctx context.Context) error {
	go d.Registry.Run(ctx, d.Config.SessionSweepInterval)
	return httpapi.Serve(ctx, d.HTTP, d.Config.HTTPAddr, d.Config.ShutdownTimeout)
}

// Close releases everything New acquired, in reverse order.
func (d *Deps) Close() error {
	d.closeOnce.Do(func() {
		var errs error
		// cancelling sessions first aborts in-flight engine replies
		if d.Registry != nil {
			d.Registry.Close()
		}
		if d.Hub != nil {
			d.Hub.Close()
		}
		if d.Broker != nil {
			if err := d.Broker.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close broker: %w", err))
			}
		}
		if d.Launcher != nil {
			if err := d.Launcher.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close engines: %w", err))
			}
		}
		if d.Archive != nil {
			if err := d.Archive.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close archive: %w", err))
			}
		}
		if d.Redis != nil {
			if err := d.Redis.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		d.closeErr = errs
	})
	return d.closeErr
}
