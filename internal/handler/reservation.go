package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-gate/internal/clock"
	"github.com/iliyamo/ticket-gate/internal/middleware"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/service"
)

// Reservations is the part of the reservation manager the buyer API needs.
type Reservations interface {
	Create(ctx context.Context, in service.CreateInput) (model.Reservation, error)
	Get(ctx context.Context, id, sessionID string) (service.ReservationView, error)
	ListActive(ctx context.Context, sessionID string, page, limit int) (service.ReservationPage, error)
	Cancel(ctx context.Context, id, sessionID string) error
	Delete(ctx context.Context, id, sessionID string) error
	DeleteBySession(ctx context.Context, sessionID string, ids []string) (int, error)
	Extend(ctx context.Context, id, sessionID string, extra time.Duration) (model.Reservation, error)
	BulkCreate(ctx context.Context, sessionID string, items []service.BulkItem, ttl time.Duration) (service.BulkResult, error)
	AvailableCount(ctx context.Context, ticketTypeID string) (model.Availability, error)
}

// ReservationHandler serves the buyer-facing hold endpoints.  Every route
// except Availability runs behind middleware.RequireSession.
type ReservationHandler struct {
	svc   Reservations
	clock clock.Clock
}

// NewReservationHandler panics if svc is nil.
func NewReservationHandler(svc Reservations, clk clock.Clock) *ReservationHandler {
	if svc == nil {
		panic("nil reservation service passed to NewReservationHandler")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &ReservationHandler{svc: svc, clock: clk}
}

type createRequest struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
	TTLMinutes   int    `json:"ttl_minutes"`
}

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.TicketTypeID) == "" || req.Quantity < 1 || req.TTLMinutes < 0 {
		return badRequest(c, "ticket_type_id and a positive quantity are required")
	}
	res, err := h.svc.Create(c.Request().Context(), service.CreateInput{
		SessionID:    middleware.SessionID(c),
		TicketTypeID: req.TicketTypeID,
		Quantity:     req.Quantity,
		TTL:          time.Duration(req.TTLMinutes) * time.Minute,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"reservation":       res,
		"expires_at":        res.ExpiresAt,
		"remaining_seconds": clock.Remaining(h.clock, res.ExpiresAt),
	})
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	view, err := h.svc.Get(c.Request().Context(), c.Param("id"), middleware.SessionID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// List handles GET /v1/reservations?page=&limit=.
func (h *ReservationHandler) List(c echo.Context) error {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)
	out, err := h.svc.ListActive(c.Request().Context(), middleware.SessionID(c), page, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Release handles DELETE /v1/reservations/:id.  The hold is cancelled, or
// removed outright with ?hard=true.
func (h *ReservationHandler) Release(c echo.Context) error {
	ctx := c.Request().Context()
	id, sid := c.Param("id"), middleware.SessionID(c)
	var err error
	if hard, _ := strconv.ParseBool(c.QueryParam("hard")); hard {
		err = h.svc.Delete(ctx, id, sid)
	} else {
		err = h.svc.Cancel(ctx, id, sid)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ReleaseAll handles DELETE /v1/reservations.  With no ids every hold of
// the session is removed.
func (h *ReservationHandler) ReleaseAll(c echo.Context) error {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	n, err := h.svc.DeleteBySession(c.Request().Context(), middleware.SessionID(c), req.IDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": n})
}

// Extend handles POST /v1/reservations/:id/extend.
func (h *ReservationHandler) Extend(c echo.Context) error {
	var req struct {
		ExtraMinutes int `json:"extra_minutes"`
	}
	if err := c.Bind(&req); err != nil || req.ExtraMinutes < 1 {
		return badRequest(c, "extra_minutes must be positive")
	}
	res, err := h.svc.Extend(c.Request().Context(), c.Param("id"), middleware.SessionID(c), time.Duration(req.ExtraMinutes)*time.Minute)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"reservation":       res,
		"expires_at":        res.ExpiresAt,
		"remaining_seconds": clock.Remaining(h.clock, res.ExpiresAt),
	})
}

// Bulk handles POST /v1/reservations/bulk.
func (h *ReservationHandler) Bulk(c echo.Context) error {
	var req struct {
		Items      []service.BulkItem `json:"items"`
		TTLMinutes int                `json:"ttl_minutes"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Items) == 0 || req.TTLMinutes < 0 {
		return badRequest(c, "items is required")
	}
	out, err := h.svc.BulkCreate(c.Request().Context(), middleware.SessionID(c), req.Items, time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusCreated
	if len(out.Successful) == 0 {
		status = http.StatusConflict
	}
	return c.JSON(status, out)
}

// Availability handles GET /v1/ticket-types/:id/availability.
func (h *ReservationHandler) Availability(c echo.Context) error {
	a, err := h.svc.AvailableCount(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func queryInt(c echo.Context, name string, def int) int {
	if n, err := strconv.Atoi(c.QueryParam(name)); err == nil && n > 0 {
		return n
	}
	return def
}
