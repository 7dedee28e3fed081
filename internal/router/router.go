package router // package router wires handlers and middleware onto echo

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-gate/internal/config"
	"github.com/iliyamo/ticket-gate/internal/handler"
	"github.com/iliyamo/ticket-gate/internal/middleware"
)

// Deps are the handlers and middleware settings the router needs.  Redis
// may be nil, which disables rate limiting and the image cache.
type Deps struct {
	JWTSecret    string
	Redis        *redis.Client
	Health       echo.HandlerFunc
	Reservations *handler.ReservationHandler
	Internal     *handler.InternalHandler
	Credentials  *handler.CredentialHandler
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAll registers every route group.
func RegisterAll(e *echo.Echo, d Deps) {
	RegisterRoutes(e, d)
	RegisterBuyer(e, d)
	RegisterInternal(e, d)
	RegisterCustomer(e, d)
	RegisterOrganizer(e, d)
}

// RegisterBuyer registers the anonymous hold endpoints.  They are keyed by
// the X-Session-ID header and rate limited per session.
func RegisterBuyer(e *echo.Echo, d Deps) {
	h := d.Reservations
	e.GET("/v1/ticket-types/:id/availability", h.Availability)

	g := e.Group("/v1/reservations",
		middleware.RequireSession(),
		middleware.NewTokenBucket(config.LoadRateLimitConfig("reservations"), d.Redis),
	)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.DELETE("", h.ReleaseAll)
	g.POST("/bulk", h.Bulk)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Release)
	g.POST("/:id/extend", h.Extend)
}

// RegisterInternal registers the SERVICE-only endpoints used by the payment
// collaborator and operators.
func RegisterInternal(e *echo.Echo, d Deps) {
	g := e.Group("/v1/internal",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleService),
	)
	g.POST("/finalize", d.Internal.Finalize)
	g.POST("/tickets/:id/credential", d.Internal.IssueTicket)
	g.POST("/sweep", d.Internal.Sweep)
}

// RegisterCustomer registers endpoints for ticket owners.  Credential
// images never change once minted, so they are cached per user and path.
func RegisterCustomer(e *echo.Echo, d Deps) {
	g := e.Group("/v1/tickets",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleCustomer),
	)
	g.GET("/:id/credential.png", d.Credentials.TicketImage, middleware.NewRedisCache(config.LoadCacheConfig(), d.Redis))
}

// RegisterOrganizer registers wristband management and the gate scan
// endpoint.
func RegisterOrganizer(e *echo.Echo, d Deps) {
	h := d.Credentials
	g := e.Group("/v1/organizer",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleOrganizer),
	)
	g.POST("/wristbands", h.CreateWristband)
	g.POST("/wristbands/:id/revoke", h.RevokeWristband)
	g.DELETE("/wristbands/:id", h.DeleteWristband)
	g.GET("/wristbands/:id/image", h.WristbandImage)
	g.POST("/verify", h.Verify, middleware.NewTokenBucket(config.LoadRateLimitConfig("verify"), d.Redis))
	g.GET("/credentials/:id/scans", h.Scans)
}
