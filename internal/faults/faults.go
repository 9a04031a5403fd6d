// Package faults maps internal errors onto stable wire codes.
package faults

import (
	"errors"
	"net/http"

	"github.com/park285/cheese-chess-server/internal/chess"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

// ErrUnauthorized is returned by authenticators for missing or bad credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrBadRequest marks malformed client input that is not a chess error.
var ErrBadRequest = errors.New("bad request")

var table = []struct {
	err       error
	code      string
	retryable bool
}{
	{rules.ErrInvalidFEN, chessdto.CodeInvalidFEN, false},
	{rules.ErrInvalidMove, chessdto.CodeInvalidMove, false},
	{rules.ErrIllegalMove, chessdto.CodeIllegalMove, false},
	{session.ErrNotYourTurn, chessdto.CodeNotYourTurn, false},
	{session.ErrGameOver, chessdto.CodeGameOver, false},
	{session.ErrSessionFull, chessdto.CodeSessionFull, false},
	{session.ErrNotAParticipant, chessdto.CodeNotAParticipant, false},
	{session.ErrInvalidIdentity, chessdto.CodeUnauthorized, false},
	{session.ErrReservedIdentity, chessdto.CodeUnauthorized, false},
	{session.ErrSessionNotFound, chessdto.CodeSessionNotFound, false},
	{session.ErrOwnedElsewhere, chessdto.CodeSessionElsewhere, true},
	{ErrUnauthorized, chessdto.CodeUnauthorized, false},
	{ErrBadRequest, chessdto.CodeBadRequest, false},
	{chess.ErrEngineUnavailable, chessdto.CodeEngineUnavailable, true},
	{chess.ErrEngineCrashed, chessdto.CodeEngineCrashed, true},
	{chess.ErrEngineTimeout, chessdto.CodeEngineTimeout, true},
	{chess.ErrNoMoveProduced, chessdto.CodeEngineNoMove, true},
}

// Code returns the wire code for err and whether a retry may help.
// An EngineError wins over whatever it wraps.
func Code(err error) (string, bool) {
	var ee *chess.EngineError
	if errors.As(err, &ee) {
		return chessdto.CodeEngineError, true
	}
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.code, e.retryable
		}
	}
	return chessdto.CodeInternal, false
}

// Status maps a wire code to an HTTP status.
func Status(code string) int {
	switch code {
	case chessdto.CodeBadRequest, chessdto.CodeInvalidFEN:
		return http.StatusBadRequest
	case chessdto.CodeInvalidMove, chessdto.CodeIllegalMove:
		return http.StatusUnprocessableEntity
	case chessdto.CodeNotYourTurn, chessdto.CodeGameOver, chessdto.CodeSessionFull, chessdto.CodeSessionElsewhere:
		return http.StatusConflict
	case chessdto.CodeNotAParticipant:
		return http.StatusForbidden
	case chessdto.CodeSessionNotFound:
		return http.StatusNotFound
	case chessdto.CodeUnauthorized:
		return http.StatusUnauthorized
	case chessdto.CodeEngineUnavailable, chessdto.CodeEngineCrashed, chessdto.CodeEngineTimeout,
		chessdto.CodeEngineNoMove, chessdto.CodeEngineError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
