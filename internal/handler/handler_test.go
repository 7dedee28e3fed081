package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-gate/internal/clock"
	"github.com/iliyamo/ticket-gate/internal/middleware"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/service"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func asUser(id string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.KeyUserID, id)
			return next(c)
		}
	}
}

func call(e *echo.Echo, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestErrorBody(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{model.ErrOutOfStock, http.StatusConflict, "OUT_OF_STOCK"},
		{fmt.Errorf("%w: quantity", model.ErrInvalidInput), http.StatusBadRequest, "INVALID_INPUT"},
		{model.ErrReservationExpired, http.StatusGone, "RESERVATION_EXPIRED"},
		{model.ErrTamperedCredential, http.StatusUnprocessableEntity, "TAMPERED_CREDENTIAL"},
		{model.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range tests {
		status, body := errorBody(tc.err)
		assert.Equal(t, tc.status, status, tc.code)
		assert.Equal(t, tc.code, body["error"])
	}

	_, body := errorBody(errors.New("dial tcp 10.0.0.5:3306: refused"))
	assert.Equal(t, "internal error", body["message"])

	_, body = errorBody(&model.AlreadyUsedError{CheckedInAt: t0})
	assert.Equal(t, t0, body["checked_in_at"])
}

func buyerEcho(svc Reservations) *echo.Echo {
	h := NewReservationHandler(svc, clock.NewFake(t0))
	e := echo.New()
	e.GET("/v1/ticket-types/:id/availability", h.Availability)
	g := e.Group("/v1/reservations", middleware.RequireSession())
	g.POST("", h.Create)
	g.GET("", h.List)
	g.DELETE("", h.ReleaseAll)
	g.POST("/bulk", h.Bulk)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Release)
	g.POST("/:id/extend", h.Extend)
	return e
}

func TestCreateReservation(t *testing.T) {
	svc := new(reservationsMock)
	e := buyerEcho(svc)

	svc.On("Create", mock.Anything, service.CreateInput{SessionID: "s-1", TicketTypeID: "tt-1", Quantity: 2}).
		Return(model.Reservation{ID: "r-1", ExpiresAt: t0.Add(10 * time.Minute)}, nil).Once()
	rec := call(e, http.MethodPost, "/v1/reservations", `{"ticket_type_id":"tt-1","quantity":2}`, middleware.HeaderSessionID, "s-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 600, decode(t, rec)["remaining_seconds"])

	svc.On("Create", mock.Anything, service.CreateInput{SessionID: "s-1", TicketTypeID: "tt-1", Quantity: 9, TTL: 5 * time.Minute}).
		Return(model.Reservation{}, model.ErrOutOfStock).Once()
	rec = call(e, http.MethodPost, "/v1/reservations", `{"ticket_type_id":"tt-1","quantity":9,"ttl_minutes":5}`, middleware.HeaderSessionID, "s-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "OUT_OF_STOCK", decode(t, rec)["error"])

	svc.AssertExpectations(t)
}

func TestCreateReservationValidation(t *testing.T) {
	svc := new(reservationsMock)
	e := buyerEcho(svc)

	rec := call(e, http.MethodPost, "/v1/reservations", `{"ticket_type_id":"tt-1","quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "session header is required")

	for _, body := range []string{`{"ticket_type_id":"tt-1","quantity":0}`, `{"quantity":1}`, `{"ticket_type_id":"tt-1","quantity":1,"ttl_minutes":-1}`, `{`} {
		rec = call(e, http.MethodPost, "/v1/reservations", body, middleware.HeaderSessionID, "s-1")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestListReservationsPaging(t *testing.T) {
	svc := new(reservationsMock)
	e := buyerEcho(svc)

	svc.On("ListActive", mock.Anything, "s-1", 1, 20).Return(service.ReservationPage{Page: 1, Limit: 20}, nil).Once()
	svc.On("ListActive", mock.Anything, "s-1", 3, 5).Return(service.ReservationPage{Page: 3, Limit: 5, Total: 11, TotalPages: 3}, nil).Once()

	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/v1/reservations", "", middleware.HeaderSessionID, "s-1").Code)
	rec := call(e, http.MethodGet, "/v1/reservations?page=3&limit=5", "", middleware.HeaderSessionID, "s-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["total_pages"])
	svc.AssertExpectations(t)
}

func TestGetReservation(t *testing.T) {
	svc := new(reservationsMock)
	e := buyerEcho(svc)

	svc.On("Get", mock.Anything, "r-1", "s-1").Return(service.ReservationView{RemainingSeconds: 42}, nil)
	svc.On("Get", mock.Anything, "r-1", "s-2").Return(service.ReservationView{}, model.ErrForbidden)

	rec := call(e, http.MethodGet, "/v1/reservations/r-1", "", middleware.HeaderSessionID, "s-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 42, decode(t, rec)["remaining_seconds"])
	assert.Equal(t, http.StatusForbidden, call(e, http.MethodGet, "/v1/reservations/r-1", "", middleware.HeaderSessionID, "s-2").Code)
}

func TestReleaseReservation(t *testing.T) {
	svc := new(reservationsMock)
	e := buyerEcho(svc)

	svc.On("Cancel", mock.Anything, "r-1", "s-1").Return(nil).Once()
	svc.On("Delete", mock.Anything, "r-2", "s-1").Return(nil).Once()
	svc.On("Cancel", mock.Anything, "r-3", "s-1").Return(model.ErrNotFound).Once()
	svc.On("DeleteBySession", mock.Anything, "s-1", []string{"r-4", "r-5"}).Return(2, nil).Once()

	assert.Equal(t, http.StatusNoContent, call(e, http.MethodDelete, "/v1/reservations/r-1", "", middleware.HeaderSessionID, "s-1").Code)
	assert.Equal(t, http.StatusNoContent, call(e, http.MethodDelete, "/v1/reservations/r-2?hard=true", "", middleware.HeaderSessionID, "s-1").Code)
	assert.Equal(t, http.StatusNotFound, call(e, http.MethodDelete, "/v1/reservations/r-3", "", middleware.HeaderSessionID, "s-1").Code)

	rec := call(e, http.MethodDelete, "/v1/reservations", `{"ids":["r-4","r-5"]}`, middleware.HeaderSessionID, "s-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["deleted"])
	svc.AssertExpectations(t)
}

func TestExtendReservation(t *testing.T) {
	svc := new(reservationsMock)
	e := buyerEcho(svc)

	svc.On("Extend", mock.Anything, "r-1", "s-1", 5*time.Minute).
		Return(model.Reservation{ID: "r-1", ExpiresAt: t0.Add(15 * time.Minute)}, nil).Once()
	rec := call(e, http.MethodPost, "/v1/reservations/r-1/extend", `{"extra_minutes":5}`, middleware.HeaderSessionID, "s-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 900, decode(t, rec)["remaining_seconds"])

	rec = call(e, http.MethodPost, "/v1/reservations/r-1/extend", `{"extra_minutes":0}`, middleware.HeaderSessionID, "s-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertExpectations(t)
}

func TestBulkReservations(t *testing.T) {
	svc := new(reservationsMock)
	e := buyerEcho(svc)
	items := []service.BulkItem{{TicketTypeID: "tt-1", Quantity: 1}, {TicketTypeID: "tt-2", Quantity: 50}}

	svc.On("BulkCreate", mock.Anything, "s-1", items, time.Duration(0)).Return(service.BulkResult{
		Successful: []model.Reservation{{ID: "r-1"}},
		Failed:     []service.BulkFailure{{TicketTypeID: "tt-2", Quantity: 50, Code: "OUT_OF_STOCK"}},
	}, nil).Once()
	body := `{"items":[{"ticket_type_id":"tt-1","quantity":1},{"ticket_type_id":"tt-2","quantity":50}]}`
	rec := call(e, http.MethodPost, "/v1/reservations/bulk", body, middleware.HeaderSessionID, "s-1")
	assert.Equal(t, http.StatusCreated, rec.Code)

	svc.On("BulkCreate", mock.Anything, "s-1", items, time.Duration(0)).Return(service.BulkResult{
		Failed: []service.BulkFailure{{TicketTypeID: "tt-1"}, {TicketTypeID: "tt-2"}},
	}, nil).Once()
	rec = call(e, http.MethodPost, "/v1/reservations/bulk", body, middleware.HeaderSessionID, "s-1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusBadRequest, call(e, http.MethodPost, "/v1/reservations/bulk", `{"items":[]}`, middleware.HeaderSessionID, "s-1").Code)
	svc.AssertExpectations(t)
}

func TestAvailabilityIsPublic(t *testing.T) {
	svc := new(reservationsMock)
	e := buyerEcho(svc)
	svc.On("AvailableCount", mock.Anything, "tt-1").Return(model.Availability{TicketTypeID: "tt-1", Total: 5, Sold: 1, Reserved: 2, Available: 2}, nil)

	rec := call(e, http.MethodGet, "/v1/ticket-types/tt-1/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["available"])
}

func internalEcho(f Finalizer, i TicketIssuer, s Sweeper) *echo.Echo {
	h := NewInternalHandler(f, i, s)
	e := echo.New()
	e.POST("/finalize", h.Finalize)
	e.POST("/tickets/:id/credential", h.IssueTicket)
	e.POST("/sweep", h.Sweep)
	return e
}

func TestFinalize(t *testing.T) {
	fin := new(finalizerMock)
	e := internalEcho(fin, new(credentialsMock), new(sweeperMock))
	in := service.FinalizeInput{ReservationID: "r-1", PaymentReference: "pay-1", OwnerID: "buyer-1"}
	body := `{"reservation_id":"r-1","payment_reference":"pay-1","owner_id":"buyer-1"}`

	fin.On("Finalize", mock.Anything, in).Return(service.FinalizeResult{Sale: model.Sale{ID: "sale-1"}}, nil).Once()
	assert.Equal(t, http.StatusCreated, call(e, http.MethodPost, "/finalize", body).Code)

	fin.On("Finalize", mock.Anything, in).Return(service.FinalizeResult{Sale: model.Sale{ID: "sale-1"}, Replayed: true}, nil).Once()
	assert.Equal(t, http.StatusOK, call(e, http.MethodPost, "/finalize", body).Code)

	fin.On("Finalize", mock.Anything, in).Return(service.FinalizeResult{}, model.ErrReservationExpired).Once()
	rec := call(e, http.MethodPost, "/finalize", body)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "RESERVATION_EXPIRED", decode(t, rec)["error"])
	fin.AssertExpectations(t)
}

func TestIssueTicketAndSweep(t *testing.T) {
	issuer := new(credentialsMock)
	sw := new(sweeperMock)
	e := internalEcho(new(finalizerMock), issuer, sw)

	issuer.On("IssueTicketCredential", mock.Anything, "t-1").Return(model.Ticket{ID: "t-1", CredentialStatus: model.CredentialActive}, nil)
	issuer.On("IssueTicketCredential", mock.Anything, "t-2").Return(model.Ticket{}, model.ErrPaymentNotConfirmed)
	sw.On("Sweep", mock.Anything).Return(7, nil)

	rec := call(e, http.MethodPost, "/tickets/t-1/credential", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ACTIVE", decode(t, rec)["credential_status"])
	assert.Equal(t, http.StatusConflict, call(e, http.MethodPost, "/tickets/t-2/credential", "").Code)

	rec = call(e, http.MethodPost, "/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, decode(t, rec)["released"])
}

func credentialEcho(creds Credentials, v Verifier, s ScanHistory, user string) *echo.Echo {
	h := NewCredentialHandler(creds, v, s)
	e := echo.New()
	e.Use(asUser(user))
	e.GET("/tickets/:id/credential.png", h.TicketImage)
	e.POST("/wristbands", h.CreateWristband)
	e.POST("/wristbands/:id/revoke", h.RevokeWristband)
	e.DELETE("/wristbands/:id", h.DeleteWristband)
	e.GET("/wristbands/:id/image", h.WristbandImage)
	e.POST("/verify", h.Verify)
	e.GET("/credentials/:id/scans", h.Scans)
	return e
}

func TestTicketImage(t *testing.T) {
	creds := new(credentialsMock)
	e := credentialEcho(creds, new(verifierMock), new(scansMock), "buyer-1")

	creds.On("TicketCredentialImage", mock.Anything, "t-1", "buyer-1").Return([]byte("\x89PNG"), nil)
	creds.On("TicketCredentialImage", mock.Anything, "t-2", "buyer-1").Return(nil, model.ErrForbidden)

	rec := call(e, http.MethodGet, "/tickets/t-1/credential.png", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "\x89PNG", rec.Body.String())
	assert.Equal(t, http.StatusForbidden, call(e, http.MethodGet, "/tickets/t-2/credential.png", "").Code)
}

func TestWristbandLifecycle(t *testing.T) {
	creds := new(credentialsMock)
	e := credentialEcho(creds, new(verifierMock), new(scansMock), "org-1")

	creds.On("IssueWristbandCredential", mock.Anything, mock.MatchedBy(func(d model.WristbandDefinition) bool {
		return d.OrganizerID == "org-1" && d.EventID == "ev-1" && d.MaxScans != nil && *d.MaxScans == 3 &&
			d.ValidFrom.Equal(t0.Add(time.Hour))
	})).Return(model.Wristband{ID: "w-1", Status: model.CredentialActive}, nil).Once()
	body := `{"event_id":"ev-1","organizer_id":"someone-else","label":"Crew","is_reusable":true,"max_scans":3,` +
		`"valid_from":"2026-07-01T13:00:00Z","valid_until":"2026-07-01T17:00:00Z"}`
	rec := call(e, http.MethodPost, "/wristbands", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "w-1", decode(t, rec)["id"])

	creds.On("RevokeWristband", mock.Anything, "w-1", "org-1").Return(nil).Once()
	creds.On("DeleteWristband", mock.Anything, "w-1", "org-1").Return(model.ErrNotFound).Once()
	assert.Equal(t, http.StatusNoContent, call(e, http.MethodPost, "/wristbands/w-1/revoke", "").Code)
	assert.Equal(t, http.StatusNotFound, call(e, http.MethodDelete, "/wristbands/w-1", "").Code)

	creds.On("GetWristband", mock.Anything, "w-1", "org-1").Return(model.Wristband{ID: "w-1", CredentialImage: []byte("img")}, nil).Once()
	creds.On("GetWristband", mock.Anything, "w-2", "org-1").Return(model.Wristband{ID: "w-2"}, nil).Once()
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/wristbands/w-1/image", "").Code)
	assert.Equal(t, http.StatusNotFound, call(e, http.MethodGet, "/wristbands/w-2/image", "").Code)
	creds.AssertExpectations(t)
}

func TestVerify(t *testing.T) {
	v := new(verifierMock)
	e := credentialEcho(new(credentialsMock), v, new(scansMock), "org-1")
	in := service.VerifyInput{Payload: "abc", VerifierOrgID: "org-1", Location: "gate-1"}

	v.On("VerifyAndConsume", mock.Anything, in).
		Return(service.VerifyResult{Success: true, Kind: model.KindTicket, CredentialID: "t-1", ScanID: "scan-1", ScannedAt: t0}, nil).Once()
	rec := call(e, http.MethodPost, "/verify", `{"payload":"abc","location":"gate-1","verifier_org_id":"org-9"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "t-1", got["credential_id"])

	v.On("VerifyAndConsume", mock.Anything, in).
		Return(service.VerifyResult{Kind: model.KindTicket, ScanID: "scan-2"}, &model.AlreadyUsedError{CheckedInAt: t0}).Once()
	rec = call(e, http.MethodPost, "/verify", `{"payload":"abc","location":"gate-1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	got = decode(t, rec)
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "ALREADY_USED", got["error"])
	assert.Equal(t, "scan-2", got["scan_id"])
	assert.Equal(t, "2026-07-01T12:00:00Z", got["checked_in_at"])

	v.On("VerifyAndConsume", mock.Anything, service.VerifyInput{Payload: "%%%", VerifierOrgID: "org-1"}).
		Return(service.VerifyResult{}, model.ErrMalformedCredential).Once()
	rec = call(e, http.MethodPost, "/verify", `{"payload":"%%%"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MALFORMED_CREDENTIAL", decode(t, rec)["error"])
	v.AssertExpectations(t)
}

func TestScans(t *testing.T) {
	s := new(scansMock)
	e := credentialEcho(new(credentialsMock), new(verifierMock), s, "org-1")

	s.On("ListScans", mock.Anything, "w-1", "org-1", 100).Return([]model.ScanLogEntry{{ID: "a"}, {ID: "b"}}, nil).Once()
	s.On("ListScans", mock.Anything, "w-1", "org-1", 10).Return([]model.ScanLogEntry{}, nil).Once()
	s.On("ListScans", mock.Anything, "t-9", "org-1", 100).Return(nil, model.ErrForbidden).Once()

	rec := call(e, http.MethodGet, "/credentials/w-1/scans", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["count"])
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/credentials/w-1/scans?limit=10", "").Code)
	assert.Equal(t, http.StatusForbidden, call(e, http.MethodGet, "/credentials/t-9/scans", "").Code)
	s.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	up := true
	e.GET("/healthz", Health(pingerFunc(func(context.Context) error {
		if up {
			return nil
		}
		return errors.New("down")
	})))

	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/healthz", "").Code)
	up = false
	assert.Equal(t, http.StatusServiceUnavailable, call(e, http.MethodGet, "/healthz", "").Code)
}

func TestConstructorsRejectNil(t *testing.T) {
	assert.Panics(t, func() { NewReservationHandler(nil, nil) })
	assert.Panics(t, func() { NewInternalHandler(nil, nil, nil) })
	assert.Panics(t, func() { NewCredentialHandler(nil, nil, nil) })
}
