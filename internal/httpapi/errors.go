package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/faults"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

const errBase = "https://errors.cheese-chess.local"

// Problem is the JSON error body of every failed request.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{faults.ErrBadRequest}, args...)...)
}

// writeErr maps err onto its wire code and HTTP status.
func (h *Handlers) writeErr(c echo.Context, err error, data map[string]any) error {
	code, retryable := faults.Code(err)
	status := faults.Status(code)

	detail := h.catalog.Error(code, data)
	if status == http.StatusServiceUnavailable {
		// engine failures carry the underlying reason
		detail = detail + " (" + err.Error() + ")"
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("http_internal_error", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.JSON(status, Problem{
		Type:      errBase + "/" + strings.ReplaceAll(code, "_", "-"),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Code:      code,
		Retryable: retryable,
	})
}

// handleEchoError renders router errors (404, 405) as Problem JSON.
func (h *Handlers) handleEchoError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		_ = h.writeErr(c, err, nil)
		return
	}
	code := chessdto.CodeBadRequest
	switch he.Code {
	case http.StatusNotFound:
		code = "not_found"
	case http.StatusMethodNotAllowed:
		code = "method_not_allowed"
	case http.StatusUnauthorized:
		code = chessdto.CodeUnauthorized
	default:
		if he.Code >= http.StatusInternalServerError {
			code = chessdto.CodeInternal
		}
	}
	_ = c.JSON(he.Code, Problem{
		Type:   errBase + "/" + strings.ReplaceAll(code, "_", "-"),
		Title:  http.StatusText(he.Code),
		Status: he.Code,
		Detail: fmt.Sprint(he.Message),
		Code:   code,
	})
}
