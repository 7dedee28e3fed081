package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by the middleware in this package.
const (
	KeyUserID    = "user_id"
	KeyRole      = "role"
	KeySessionID = "session_id"
)

// Roles carried in the "role" claim of tokens issued by the auth service.
const (
	RoleCustomer  = "CUSTOMER"
	RoleOrganizer = "ORGANIZER"
	RoleService   = "SERVICE"
)

// JWTAuth returns an Echo middleware that validates a Bearer token signed
// with HS256 and stores its "sub" and "role" claims in the context under
// KeyUserID and KeyRole.  Requests without a valid token get 401.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			sub, err := claims.GetSubject()
			if err != nil || sub == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			role, _ := claims["role"].(string)
			c.Set(KeyUserID, sub)
			c.Set(KeyRole, role)
			return next(c)
		}
	}
}

// UserID returns the authenticated subject, or "" when JWTAuth did not run.
func UserID(c echo.Context) string {
	s, _ := c.Get(KeyUserID).(string)
	return s
}
