package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/chess"
	"github.com/park285/cheese-chess-server/internal/gateway"
	"github.com/park285/cheese-chess-server/internal/render"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

// opponentEngine selects an automated opponent on session create.
const opponentEngine = "engine"

func (h *Handlers) handleCreateSession(c echo.Context) error {
	var in chessdto.CreateSessionRequest
	if err := decodeJSON(c, &in, true); err != nil {
		return h.writeErr(c, err, nil)
	}
	opts, err := h.createOptions(in)
	if err != nil {
		return h.writeErr(c, err, nil)
	}
	sess, err := h.registry.Create(c.Request().Context(), opts)
	if err != nil {
		return h.writeErr(c, err, nil)
	}
	h.logger.Info("session_created_http",
		zap.String("session_id", sess.ID()),
		zap.String("by", string(identityOf(c))),
	)
	return c.JSON(http.StatusCreated, chessdto.CreateSessionResponse{SessionID: sess.ID()})
}

func (h *Handlers) createOptions(in chessdto.CreateSessionRequest) (session.CreateOptions, error) {
	switch strings.ToLower(strings.TrimSpace(in.Opponent)) {
	case "", "human":
		return session.CreateOptions{}, nil
	case opponentEngine:
	default:
		return session.CreateOptions{}, badRequest("unknown opponent %q", in.Opponent)
	}
	if !h.engineOpponent {
		return session.CreateOptions{}, chess.ErrEngineUnavailable
	}

	color := strings.ToLower(strings.TrimSpace(in.Color))
	switch color {
	case "":
		color = rules.Black.String()
	case rules.White.String(), rules.Black.String():
	default:
		return session.CreateOptions{}, badRequest("unknown color %q", in.Color)
	}
	req, err := engineRequest("", in.Difficulty, in.TimeLimit, in.DepthLimit)
	if err != nil {
		return session.CreateOptions{}, err
	}
	return session.CreateOptions{Opponent: &session.Opponent{
		Color:      color,
		Difficulty: chess.ClampDifficulty(req.Difficulty),
		TimeLimit:  req.TimeLimit,
		DepthLimit: req.DepthLimit,
	}}, nil
}

func (h *Handlers) handleJoinSession(c echo.Context) error {
	sess, err := h.lookup(c)
	if sess == nil {
		return err
	}
	joined, err := sess.Join(identityOf(c))
	if err != nil {
		return h.writeErr(c, err, nil)
	}
	return c.JSON(http.StatusOK, chessdto.JoinSessionResponse{
		SessionID: sess.ID(),
		Color:     joined.Color.String(),
		Rejoined:  joined.Rejoined,
	})
}

func (h *Handlers) handleGetSession(c echo.Context) error {
	sess, err := h.lookup(c)
	if sess == nil {
		return err
	}
	return c.JSON(http.StatusOK, gateway.NewGameState(sess.Snapshot()))
}

func (h *Handlers) handleGetPlayers(c echo.Context) error {
	sess, err := h.lookup(c)
	if sess == nil {
		return err
	}
	snap := sess.Snapshot()
	return c.JSON(http.StatusOK, chessdto.Players{
		PlayerForWhite: string(snap.White),
		PlayerForBlack: string(snap.Black),
	})
}

func (h *Handlers) handleAbandonSession(c echo.Context) error {
	sess, err := h.lookup(c)
	if sess == nil {
		return err
	}
	snap, err := sess.Abandon(identityOf(c))
	if err != nil {
		return h.writeErr(c, err, nil)
	}
	return c.JSON(http.StatusOK, gateway.NewGameState(snap))
}

func (h *Handlers) handleCloseSession(c echo.Context) error {
	sess, err := h.lookup(c)
	if sess == nil {
		return err
	}
	if _, ok := sess.ColorOf(identityOf(c)); !ok {
		return h.writeErr(c, session.ErrNotAParticipant, nil)
	}
	h.registry.Remove(c.Request().Context(), sess.ID())
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) handleBoardImage(c echo.Context) error {
	sess, err := h.lookup(c)
	if sess == nil {
		return err
	}
	snap := sess.Snapshot()

	opts := render.Options{Check: snap.InCheck}
	switch strings.ToLower(c.QueryParam("perspective")) {
	case rules.Black.String():
		opts.Flip = true
	case "":
		if viewer := session.Identity(c.QueryParam("viewer")); viewer != "" && viewer == snap.Black {
			opts.Flip = true
		}
	}
	if n := len(snap.MovesUCI); n > 0 {
		if mv, err := rules.ParseMove(snap.MovesUCI[n-1]); err == nil {
			opts.LastMove = &mv
		}
	}

	png, err := h.renderer.RenderPNG(c.Request().Context(), snap.Position, opts)
	if err != nil {
		return h.writeErr(c, err, nil)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}

// lookup resolves :id. On failure it writes the error response and returns a
// nil session together with the write result.
func (h *Handlers) lookup(c echo.Context) (*session.Session, error) {
	id := c.Param("id")
	sess, err := h.registry.Get(c.Request().Context(), id)
	if err != nil {
		return nil, h.writeErr(c, err, map[string]any{"SessionID": id})
	}
	return sess, nil
}
