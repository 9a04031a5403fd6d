package httpapi

import (
	"github.com/labstack/echo/v4"

	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/session"
)

const identityKey = "identity"

// requireIdentity resolves the caller through a and stores it on the context.
func requireIdentity(a auth.Authenticator, h *Handlers) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a == nil {
				return h.writeErr(c, session.ErrInvalidIdentity, nil)
			}
			id, err := a.Authenticate(c.Request())
			if err != nil {
				return h.writeErr(c, err, nil)
			}
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

func identityOf(c echo.Context) session.Identity {
	id, _ := c.Get(identityKey).(session.Identity)
	return id
}
