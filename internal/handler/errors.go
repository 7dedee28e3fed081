package handler // package handler contains the HTTP handlers of the gate API

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/ticket-gate/internal/model"
)

// statusByCode maps the wire codes of model.Code to HTTP statuses.
var statusByCode = map[string]int{
	"OUT_OF_STOCK":          http.StatusConflict,
	"DUPLICATE_HOLD":        http.StatusConflict,
	"NOT_FOUND":             http.StatusNotFound,
	"FORBIDDEN":             http.StatusForbidden,
	"INVALID_STATE":         http.StatusConflict,
	"RESERVATION_EXPIRED":   http.StatusGone,
	"MALFORMED_CREDENTIAL":  http.StatusBadRequest,
	"TAMPERED_CREDENTIAL":   http.StatusUnprocessableEntity,
	"PAYLOAD_MISMATCH":      http.StatusUnprocessableEntity,
	"ALREADY_USED":          http.StatusConflict,
	"EXPIRED":               http.StatusGone,
	"SCAN_LIMIT_EXCEEDED":   http.StatusConflict,
	"EVENT_NOT_BOOKABLE":    http.StatusConflict,
	"PAYMENT_NOT_CONFIRMED": http.StatusConflict,
	"INVALID_INPUT":         http.StatusBadRequest,
}

// errorBody builds the JSON error envelope.  Internal errors never leak
// their message.
func errorBody(err error) (int, echo.Map) {
	code := model.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		return http.StatusInternalServerError, echo.Map{"error": "INTERNAL", "message": "internal error"}
	}
	body := echo.Map{"error": code, "message": err.Error()}
	var used *model.AlreadyUsedError
	if errors.As(err, &used) {
		body["checked_in_at"] = used.CheckedInAt
	}
	return status, body
}

// respondError writes err as a JSON error response.
func respondError(c echo.Context, err error) error {
	status, body := errorBody(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "INVALID_INPUT", "message": msg})
}
