package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HeaderSessionID carries the anonymous buyer session.
const HeaderSessionID = "X-Session-ID"

const maxSessionIDLen = 128

// RequireSession reads the buyer session from the X-Session-ID header and
// stores it under KeySessionID.  Missing or oversized ids get 400.
func RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sid := c.Request().Header.Get(HeaderSessionID)
			if sid == "" || len(sid) > maxSessionIDLen {
				return c.JSON(http.StatusBadRequest, echo.Map{
					"error":   "INVALID_INPUT",
					"message": "X-Session-ID header is required",
				})
			}
			c.Set(KeySessionID, sid)
			return next(c)
		}
	}
}

// SessionID returns the session stored by RequireSession.
func SessionID(c echo.Context) string {
	s, _ := c.Get(KeySessionID).(string)
	return s
}

// subject identifies the caller for rate limiting and caching: the
// authenticated user, else the buyer session, else "guest".
func subject(c echo.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	if sid := SessionID(c); sid != "" {
		return "session:" + sid
	}
	return "guest"
}
