package model

import "time"

// Sale statuses.
const (
	SalePending   = "PENDING"
	SaleFinalized = "FINALIZED"
	SaleRefunded  = "REFUNDED"
)

// Sale is the confirmed purchase created from exactly one reservation.
type Sale struct {
	ID               string    `json:"id"`                // sales.id
	ReservationID    string    `json:"reservation_id"`    // sales.reservation_id (unique)
	EventID          string    `json:"event_id"`          // sales.event_id
	TicketTypeID     string    `json:"ticket_type_id"`    // sales.ticket_type_id
	OwnerID          string    `json:"owner_id"`          // sales.owner_id
	Quantity         int       `json:"quantity"`          // sales.quantity
	PaymentReference string    `json:"payment_reference"` // sales.payment_reference
	Status           string    `json:"status"`            // sales.status
	CreatedAt        time.Time `json:"created_at"`
}
