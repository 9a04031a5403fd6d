package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/park285/cheese-chess-server/internal/archive"
	"github.com/park285/cheese-chess-server/internal/session"
)

const maxGamesPage = 100

func (h *Handlers) handleGetGame(c echo.Context) error {
	if h.games == nil {
		return h.writeErr(c, session.ErrSessionNotFound, map[string]any{"SessionID": c.Param("id")})
	}
	g, err := h.games.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, archive.ErrNotFound) {
		return h.writeErr(c, session.ErrSessionNotFound, map[string]any{"SessionID": c.Param("id")})
	}
	if err != nil {
		return h.writeErr(c, err, nil)
	}
	if c.QueryParam("format") == "pgn" {
		return c.Blob(http.StatusOK, "application/x-chess-pgn", []byte(g.PGN))
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handlers) handleListGames(c echo.Context) error {
	player := c.QueryParam("player")
	if player == "" {
		return h.writeErr(c, badRequest("player is required"), nil)
	}
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return h.writeErr(c, badRequest("limit must be a positive integer"), nil)
		}
		limit = min(n, maxGamesPage)
	}
	if h.games == nil {
		return c.JSON(http.StatusOK, map[string]any{"games": []archive.Game{}})
	}
	games, err := h.games.ListByPlayer(c.Request().Context(), player, limit)
	if err != nil {
		return h.writeErr(c, err, nil)
	}
	if games == nil {
		games = []archive.Game{}
	}
	return c.JSON(http.StatusOK, map[string]any{"games": games})
}
