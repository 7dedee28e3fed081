// Package service holds the reservation engine, the sale finalizer and the
// credential issuer and verifier.  Services depend on the narrow store
// interfaces below; repository.Store satisfies all of them.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/queue"
)

// Transactor runs fn in a transaction.  Store calls made with the context
// passed to fn join that transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventReader reads collaborator-owned events.
type EventReader interface {
	GetEvent(ctx context.Context, id string) (model.Event, error)
}

// LedgerStore is the inventory ledger.
type LedgerStore interface {
	GetTicketType(ctx context.Context, id string) (model.TicketType, error)
	GetTicketTypeForUpdate(ctx context.Context, id string) (model.TicketType, error)
	AdjustReserved(ctx context.Context, id string, delta int) error
	ConvertReservedToSold(ctx context.Context, id string, qty int) error
}

// HoldStore persists reservations.
type HoldStore interface {
	CreateReservation(ctx context.Context, r model.Reservation) error
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error)
	FindActiveReservation(ctx context.Context, sessionID, ticketTypeID string) (model.Reservation, error)
	ListLiveReservations(ctx context.Context, sessionID string, now time.Time, limit, offset int) ([]model.Reservation, int, error)
	ListActiveReservationsBySession(ctx context.Context, sessionID string) ([]model.Reservation, error)
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
	ListExpiredForTicketTypeForUpdate(ctx context.Context, ticketTypeID string, now time.Time) ([]model.Reservation, error)
	SetReservationStatus(ctx context.Context, id, status string, saleID *string, now time.Time) error
	SetReservationExpiry(ctx context.Context, id string, expiresAt, now time.Time) error
	DeleteReservation(ctx context.Context, id string) error
}

// InventoryStore is everything the reservation manager needs.
type InventoryStore interface {
	Transactor
	EventReader
	LedgerStore
	HoldStore
}

// SaleStore is everything the sale finalizer needs on top of the inventory.
type SaleStore interface {
	InventoryStore
	CreateSale(ctx context.Context, s model.Sale) error
	GetSaleByReservation(ctx context.Context, reservationID string) (model.Sale, error)
	CreateTickets(ctx context.Context, tickets []model.Ticket) error
	ListTicketsBySale(ctx context.Context, saleID string) ([]model.Ticket, error)
}

// ScanLogStore is the append-only audit trail.
type ScanLogStore interface {
	AppendScanLog(ctx context.Context, e model.ScanLogEntry) error
	ListScanLogs(ctx context.Context, credentialID string, limit int) ([]model.ScanLogEntry, error)
}

// CredentialStore is everything the issuer and verifier need.
type CredentialStore interface {
	Transactor
	EventReader
	ScanLogStore
	GetSale(ctx context.Context, id string) (model.Sale, error)
	GetTicket(ctx context.Context, id string) (model.Ticket, error)
	GetTicketForUpdate(ctx context.Context, id string) (model.Ticket, error)
	SaveTicketCredential(ctx context.Context, id, status, payload string, image []byte, issuedAt time.Time) error
	MarkTicketUsed(ctx context.Context, id string, at time.Time) error
	CreateWristband(ctx context.Context, w model.Wristband) error
	GetWristband(ctx context.Context, id string) (model.Wristband, error)
	GetWristbandForUpdate(ctx context.Context, id string) (model.Wristband, error)
	SaveWristbandCredential(ctx context.Context, id, status, payload string, image []byte, now time.Time) error
	IncrementWristbandScan(ctx context.Context, id string, now time.Time) error
	SetWristbandStatus(ctx context.Context, id, status string, now time.Time) error
	SoftDeleteWristband(ctx context.Context, id, deletedBy string, now time.Time) error
}

// SalePublisher announces committed sales.  The queue publisher sends them
// to RabbitMQ; InlineIssuance mints credentials in-process instead.
type SalePublisher interface {
	PublishSaleFinalized(ctx context.Context, ev queue.SaleFinalizedEvent) error
}

// ScanPublisher announces verification attempts to downstream consumers.
type ScanPublisher interface {
	PublishCredentialScanned(ctx context.Context, ev queue.CredentialScannedEvent) error
}

// Lease grants one replica at a time the right to run the sweeper.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
