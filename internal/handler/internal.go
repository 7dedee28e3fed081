package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/service"
)

// Finalizer converts paid holds into sales.
type Finalizer interface {
	Finalize(ctx context.Context, in service.FinalizeInput) (service.FinalizeResult, error)
}

// TicketIssuer mints ticket credentials on demand.
type TicketIssuer interface {
	IssueTicketCredential(ctx context.Context, ticketID string) (model.Ticket, error)
}

// Sweeper releases expired holds.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// InternalHandler serves the endpoints called by the payment collaborator
// and by operators holding a SERVICE token.
type InternalHandler struct {
	finalizer Finalizer
	issuer    TicketIssuer
	sweeper   Sweeper
}

// NewInternalHandler panics if any dependency is nil.
func NewInternalHandler(f Finalizer, i TicketIssuer, s Sweeper) *InternalHandler {
	if f == nil || i == nil || s == nil {
		panic("nil dependency passed to NewInternalHandler")
	}
	return &InternalHandler{finalizer: f, issuer: i, sweeper: s}
}

// Finalize handles POST /v1/internal/finalize.  A replay of an already
// finalized hold answers 200 with the original sale; a fresh sale answers
// 201.
func (h *InternalHandler) Finalize(c echo.Context) error {
	var in service.FinalizeInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	out, err := h.finalizer.Finalize(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, out)
}

// IssueTicket handles POST /v1/internal/tickets/:id/credential.
func (h *InternalHandler) IssueTicket(c echo.Context) error {
	t, err := h.issuer.IssueTicketCredential(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Sweep handles POST /v1/internal/sweep.
func (h *InternalHandler) Sweep(c echo.Context) error {
	n, err := h.sweeper.Sweep(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": n})
}
