package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-gate/internal/middleware"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/service"
)

// Credentials is the issuer surface used by customers and organizers.
type Credentials interface {
	TicketCredentialImage(ctx context.Context, ticketID, ownerID string) ([]byte, error)
	IssueWristbandCredential(ctx context.Context, def model.WristbandDefinition) (model.Wristband, error)
	GetWristband(ctx context.Context, id, organizerID string) (model.Wristband, error)
	RevokeWristband(ctx context.Context, id, organizerID string) error
	DeleteWristband(ctx context.Context, id, organizerID string) error
}

// Verifier consumes scanned credentials.
type Verifier interface {
	VerifyAndConsume(ctx context.Context, in service.VerifyInput) (service.VerifyResult, error)
}

// ScanHistory lists audit rows of a credential.
type ScanHistory interface {
	ListScans(ctx context.Context, credentialID, organizerID string, limit int) ([]model.ScanLogEntry, error)
}

// CredentialHandler serves credential images, wristband management and
// the gate scan endpoint.
type CredentialHandler struct {
	creds    Credentials
	verifier Verifier
	scans    ScanHistory
}

// NewCredentialHandler panics if any dependency is nil.
func NewCredentialHandler(creds Credentials, v Verifier, scans ScanHistory) *CredentialHandler {
	if creds == nil || v == nil || scans == nil {
		panic("nil dependency passed to NewCredentialHandler")
	}
	return &CredentialHandler{creds: creds, verifier: v, scans: scans}
}

// TicketImage handles GET /v1/tickets/:id/credential.png for the ticket
// owner.
func (h *CredentialHandler) TicketImage(c echo.Context) error {
	img, err := h.creds.TicketCredentialImage(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Blob(http.StatusOK, "image/png", img)
}

// CreateWristband handles POST /v1/organizer/wristbands.
func (h *CredentialHandler) CreateWristband(c echo.Context) error {
	var def model.WristbandDefinition
	if err := c.Bind(&def); err != nil {
		return badRequest(c, "invalid request body")
	}
	def.OrganizerID = middleware.UserID(c)
	w, err := h.creds.IssueWristbandCredential(c.Request().Context(), def)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

// RevokeWristband handles POST /v1/organizer/wristbands/:id/revoke.
func (h *CredentialHandler) RevokeWristband(c echo.Context) error {
	if err := h.creds.RevokeWristband(c.Request().Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteWristband handles DELETE /v1/organizer/wristbands/:id.
func (h *CredentialHandler) DeleteWristband(c echo.Context) error {
	if err := h.creds.DeleteWristband(c.Request().Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// WristbandImage handles GET /v1/organizer/wristbands/:id/image.
func (h *CredentialHandler) WristbandImage(c echo.Context) error {
	w, err := h.creds.GetWristband(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	if len(w.CredentialImage) == 0 {
		return respondError(c, model.ErrNotFound)
	}
	return c.Blob(http.StatusOK, "image/png", w.CredentialImage)
}

// Verify handles POST /v1/organizer/verify.  Rejections carry
// success=false alongside the error code; every outcome has already been
// written to the scan log.
func (h *CredentialHandler) Verify(c echo.Context) error {
	var in service.VerifyInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	in.VerifierOrgID = middleware.UserID(c)
	res, err := h.verifier.VerifyAndConsume(c.Request().Context(), in)
	if err != nil {
		status, body := errorBody(err)
		body["success"] = false
		if res.ScanID != "" {
			body["scan_id"] = res.ScanID
		}
		if res.Kind != "" {
			body["kind"] = res.Kind
		}
		return c.JSON(status, body)
	}
	return c.JSON(http.StatusOK, res)
}

// Scans handles GET /v1/organizer/credentials/:id/scans?limit=.
func (h *CredentialHandler) Scans(c echo.Context) error {
	entries, err := h.scans.ListScans(c.Request().Context(), c.Param("id"), middleware.UserID(c), queryInt(c, "limit", 100))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries, "count": len(entries)})
}
