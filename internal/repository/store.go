package repository

import (
	"context"
	"database/sql"
)

// Store bundles the table repositories behind one handle and owns the
// transaction boundary.  Services accept it through narrow interfaces.
type Store struct {
	*EventRepo
	*TicketTypeRepo
	*ReservationRepo
	*SaleRepo
	*TicketRepo
	*WristbandRepo
	*ScanLogRepo

	db *sql.DB
}

// NewStore returns a Store bound to db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		EventRepo:       NewEventRepo(db),
		TicketTypeRepo:  NewTicketTypeRepo(db),
		ReservationRepo: NewReservationRepo(db),
		SaleRepo:        NewSaleRepo(db),
		TicketRepo:      NewTicketRepo(db),
		WristbandRepo:   NewWristbandRepo(db),
		ScanLogRepo:     NewScanLogRepo(db),
		db:              db,
	}
}

// WithTx runs fn in a transaction; see withTx.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.db, fn)
}

// Ping checks database connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
