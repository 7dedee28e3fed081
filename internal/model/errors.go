package model

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors shared by the repository, service and handler layers.
// Handlers translate them to HTTP statuses through Code.
var (
	ErrOutOfStock          = errors.New("not enough tickets available")
	ErrDuplicateHold       = errors.New("session already holds this ticket type")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidState        = errors.New("invalid state for this operation")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrMalformedCredential = errors.New("malformed credential")
	ErrTamperedCredential  = errors.New("credential checksum mismatch")
	ErrPayloadMismatch     = errors.New("credential does not match stored record")
	ErrAlreadyUsed         = errors.New("credential already used")
	ErrExpired             = errors.New("credential expired")
	ErrScanLimitExceeded   = errors.New("scan limit exceeded")
	ErrEventNotBookable    = errors.New("event is not bookable")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrInvalidInput        = errors.New("invalid input")
)

// AlreadyUsedError carries the check-in time of the first successful scan.
type AlreadyUsedError struct {
	CheckedInAt time.Time
}

func (e *AlreadyUsedError) Error() string {
	return fmt.Sprintf("credential already used at %s", e.CheckedInAt.UTC().Format(time.RFC3339))
}

func (e *AlreadyUsedError) Is(target error) bool { return target == ErrAlreadyUsed }

var codes = []struct {
	err  error
	code string
}{
	{ErrOutOfStock, "OUT_OF_STOCK"},
	{ErrDuplicateHold, "DUPLICATE_HOLD"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrInvalidState, "INVALID_STATE"},
	{ErrReservationExpired, "RESERVATION_EXPIRED"},
	{ErrMalformedCredential, "MALFORMED_CREDENTIAL"},
	{ErrTamperedCredential, "TAMPERED_CREDENTIAL"},
	{ErrPayloadMismatch, "PAYLOAD_MISMATCH"},
	{ErrAlreadyUsed, "ALREADY_USED"},
	{ErrExpired, "EXPIRED"},
	{ErrScanLimitExceeded, "SCAN_LIMIT_EXCEEDED"},
	{ErrEventNotBookable, "EVENT_NOT_BOOKABLE"},
	{ErrPaymentNotConfirmed, "PAYMENT_NOT_CONFIRMED"},
	{ErrInvalidInput, "INVALID_INPUT"},
}

// Code returns the stable wire code for err, or "INTERNAL" for anything
// outside the domain taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
