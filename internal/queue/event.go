// Package queue defines message payloads exchanged over the message broker
// together with the RabbitMQ publisher and consumer.
package queue

import "time"

// Queue names.  Each is a durable queue bound to the default exchange.
const (
	SaleFinalizedQueue     = "sale.finalized"
	CredentialScannedQueue = "credential.scanned"
)

// SaleFinalizedEvent is published after a sale commits.  The consumer mints
// one credential per ticket id.
type SaleFinalizedEvent struct {
	SaleID           string    `json:"sale_id"`
	ReservationID    string    `json:"reservation_id"`
	EventID          string    `json:"event_id"`
	TicketTypeID     string    `json:"ticket_type_id"`
	OwnerID          string    `json:"owner_id"`
	Quantity         int       `json:"quantity"`
	PaymentReference string    `json:"payment_reference"`
	TicketIDs        []string  `json:"ticket_ids"`
	FinalizedAt      time.Time `json:"finalized_at"`
}

// CredentialScannedEvent mirrors one scan log entry for downstream
// analytics and fraud detection.
type CredentialScannedEvent struct {
	ScanID         string    `json:"scan_id"`
	CredentialID   string    `json:"credential_id,omitempty"`
	CredentialKind string    `json:"credential_kind"`
	ScannedBy      string    `json:"scanned_by"`
	Result         string    `json:"result"`
	Location       string    `json:"location,omitempty"`
	Device         string    `json:"device,omitempty"`
	ScannedAt      time.Time `json:"scanned_at"`
}
