package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/park285/cheese-chess-server/internal/chess"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

const (
	defaultDifficulty = 10
	defaultTimeLimit  = 0.1
)

func (h *Handlers) handleEngineMove(c echo.Context) error {
	var in chessdto.MoveRequest
	if err := decodeJSON(c, &in, false); err != nil {
		return h.writeErr(c, err, nil)
	}
	req, err := engineRequest(in.FEN, in.Difficulty, in.TimeLimit, in.DepthLimit)
	if err != nil {
		return h.writeErr(c, err, nil)
	}
	if h.engine == nil {
		return h.writeErr(c, chess.ErrEngineUnavailable, nil)
	}

	res, err := h.engine.ComputeOrTerminal(c.Request().Context(), req)
	if err != nil {
		return h.writeErr(c, err, nil)
	}
	out := chessdto.MoveResponse{
		FENAfter:    res.FENAfter,
		IsGameOver:  res.GameOver,
		IsCheck:     res.Check,
		IsCheckmate: res.Checkmate,
	}
	if res.Move != nil {
		uci := res.Move.UCI()
		out.Move = &uci
	}
	return c.JSON(http.StatusOK, out)
}

// engineRequest applies defaults and rejects out-of-range limits. Difficulty
// itself is clamped later, never rejected.
func engineRequest(fen string, difficulty *int, timeLimit *float64, depthLimit *int) (chess.Request, error) {
	req := chess.Request{
		FEN:        fen,
		Difficulty: defaultDifficulty,
		TimeLimit:  seconds(defaultTimeLimit),
	}
	if difficulty != nil {
		req.Difficulty = *difficulty
	}
	if timeLimit != nil {
		if *timeLimit <= 0 {
			return req, badRequest("timeLimit must be positive")
		}
		req.TimeLimit = seconds(*timeLimit)
	}
	if depthLimit != nil {
		if *depthLimit <= 0 {
			return req, badRequest("depthLimit must be positive")
		}
		req.DepthLimit = *depthLimit
	}
	return req, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// decodeJSON reads a single JSON object. An empty body is accepted when
// optional is set.
func decodeJSON(c echo.Context, dst any, optional bool) error {
	dec := json.NewDecoder(c.Request().Body)
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("decode body: %v", err)
	}
	return nil
}
