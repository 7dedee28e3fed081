package model

import "time"

// Reservation statuses.  A hold starts ACTIVE and ends either CANCELLED
// (released by the buyer) or CONVERTED (turned into a sale).  Expired holds
// are removed by the sweeper rather than given a status of their own.
const (
	ReservationActive    = "ACTIVE"
	ReservationCancelled = "CANCELLED"
	ReservationConverted = "CONVERTED"
)

// Reservation is a time-boxed hold of Quantity tickets of one ticket type
// by an anonymous buyer session.
//
// Fields:
//  ID           – primary key identifier.
//  SessionID    – buyer session that owns the hold.
//  TicketTypeID – ticket type being held.
//  Quantity     – number of tickets held.
//  Status       – ACTIVE, CANCELLED or CONVERTED.
//  ExpiresAt    – instant after which the hold no longer counts.
//  SaleID       – sale created from this hold, set on conversion.
//  Metadata     – denormalized snapshot taken at creation.
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
type Reservation struct {
	ID           string              `json:"id"`             // reservations.id
	SessionID    string              `json:"session_id"`     // reservations.session_id
	TicketTypeID string              `json:"ticket_type_id"` // reservations.ticket_type_id
	Quantity     int                 `json:"quantity"`       // reservations.quantity
	Status       string              `json:"status"`         // reservations.status
	ExpiresAt    time.Time           `json:"expires_at"`     // reservations.expires_at
	SaleID       *string             `json:"sale_id,omitempty"`
	Metadata     ReservationMetadata `json:"metadata"` // reservations.metadata (JSON)
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// ReservationMetadata is the snapshot of event and ticket type details taken
// when the hold is placed, so listings do not need to join back.
type ReservationMetadata struct {
	EventID        string    `json:"event_id"`
	EventName      string    `json:"event_name"`
	EventStartsAt  time.Time `json:"event_starts_at"`
	TicketTypeName string    `json:"ticket_type_name"`
}

// Expired reports whether the hold is past its expiry at now.
func (r Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Live reports whether the hold still counts against inventory at now.
func (r Reservation) Live(now time.Time) bool {
	return r.Status == ReservationActive && !r.Expired(now)
}
