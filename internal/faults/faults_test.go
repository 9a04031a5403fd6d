package faults

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/park285/cheese-chess-server/internal/chess"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

func TestCodeAndStatus(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("parse: %w", rules.ErrInvalidFEN), chessdto.CodeInvalidFEN, http.StatusBadRequest},
		{rules.ErrIllegalMove, chessdto.CodeIllegalMove, http.StatusUnprocessableEntity},
		{session.ErrNotYourTurn, chessdto.CodeNotYourTurn, http.StatusConflict},
		{session.ErrGameOver, chessdto.CodeGameOver, http.StatusConflict},
		{session.ErrSessionFull, chessdto.CodeSessionFull, http.StatusConflict},
		{session.ErrNotAParticipant, chessdto.CodeNotAParticipant, http.StatusForbidden},
		{fmt.Errorf("%w: x", session.ErrSessionNotFound), chessdto.CodeSessionNotFound, http.StatusNotFound},
		{ErrUnauthorized, chessdto.CodeUnauthorized, http.StatusUnauthorized},
		{chess.ErrEngineUnavailable, chessdto.CodeEngineUnavailable, http.StatusServiceUnavailable},
		{chess.ErrEngineTimeout, chessdto.CodeEngineTimeout, http.StatusServiceUnavailable},
		{&chess.EngineError{Detail: "boom"}, chessdto.CodeEngineError, http.StatusServiceUnavailable},
		{&chess.EngineError{Detail: "bad move", Err: rules.ErrIllegalMove}, chessdto.CodeEngineError, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), chessdto.CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, _ := Code(tc.err)
		assert.Equal(t, tc.code, code, "code for %v", tc.err)
		assert.Equal(t, tc.status, Status(code), "status for %v", tc.err)
	}
}

func TestEngineFailuresAreRetryable(t *testing.T) {
	_, retry := Code(chess.ErrEngineCrashed)
	assert.True(t, retry)
	_, retry = Code(session.ErrNotYourTurn)
	assert.False(t, retry)
}
