// Package httpapi serves the move service, the session lifecycle and the
// realtime endpoint over echo.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/archive"
	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/chess"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/render"
	"github.com/park285/cheese-chess-server/internal/session"
)

// MoveService answers one-shot move requests.
type MoveService interface {
	ComputeOrTerminal(ctx context.Context, req chess.Request) (chess.Result, error)
}

// GameArchive reads completed games.
type GameArchive interface {
	Get(ctx context.Context, id string) (archive.Game, error)
	ListByPlayer(ctx context.Context, player string, limit int) ([]archive.Game, error)
}

type Config struct {
	Engine   MoveService
	Registry *session.Registry
	Auth     auth.Authenticator
	Renderer *render.Renderer
	Catalog  *msgcat.Catalog
	// Games is optional; the /v1/games routes answer 404 without it.
	Games GameArchive
	// Realtime is mounted at /v1/ws when set.
	Realtime http.Handler
	// EngineOpponent enables sessions with an automated opponent.
	EngineOpponent bool
	AllowedOrigins []string
	Logger         *zap.Logger
}

type Handlers struct {
	engine         MoveService
	registry       *session.Registry
	renderer       *render.Renderer
	catalog        *msgcat.Catalog
	games          GameArchive
	engineOpponent bool
	logger         *zap.Logger
}

// New constructs the configured echo instance.
func New(cfg Config) *echo.Echo {
	logger := cfg.Logger
	if logger == nil {
		logger = obslog.L()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = render.New(render.DefaultSquareSize)
	}
	h := &Handlers{
		engine:         cfg.Engine,
		registry:       cfg.Registry,
		renderer:       renderer,
		catalog:        cfg.Catalog,
		games:          cfg.Games,
		engineOpponent: cfg.EngineOpponent,
		logger:         logger,
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = h.handleEchoError
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, auth.DefaultHeader},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Debug("http_request", fields...)
			return nil
		},
	}))

	e.GET("/healthz", h.handleHealthz)
	e.POST("/v1/engine/move", h.handleEngineMove)
	e.POST("/get_best_move", h.handleEngineMove)

	authed := requireIdentity(cfg.Auth, h)
	e.POST("/v1/sessions", h.handleCreateSession, authed)
	e.POST("/v1/sessions/:id/join", h.handleJoinSession, authed)
	e.GET("/v1/sessions/:id", h.handleGetSession)
	e.GET("/v1/sessions/:id/players", h.handleGetPlayers)
	e.POST("/v1/sessions/:id/abandon", h.handleAbandonSession, authed)
	e.DELETE("/v1/sessions/:id", h.handleCloseSession, authed)
	e.GET("/v1/sessions/:id/board.png", h.handleBoardImage)

	e.GET("/v1/games", h.handleListGames)
	e.GET("/v1/games/:id", h.handleGetGame)

	if cfg.Realtime != nil {
		e.GET("/v1/ws", echo.WrapHandler(cfg.Realtime))
	}
	return e
}

// Serve runs e on addr until ctx is cancelled, then shuts down within grace.
func Serve(ctx context.Context, e *echo.Echo, addr string, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (h *Handlers) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
