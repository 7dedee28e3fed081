package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/ticket-gate/internal/model"
)

const saleColumns = `id, reservation_id, event_id, ticket_type_id, owner_id, quantity, payment_reference, status, created_at`

const (
	qInsertSale = `INSERT INTO sales (` + saleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	qGetSale = `SELECT ` + saleColumns + ` FROM sales WHERE id = ?`

	qGetSaleByReservation = `SELECT ` + saleColumns + ` FROM sales WHERE reservation_id = ?`
)

// SaleRepo persists sales.  reservation_id is unique, so a reservation can
// be converted at most once even if two finalizers race.
type SaleRepo struct {
	db *sql.DB
}

// NewSaleRepo returns a new SaleRepo bound to the provided database.
func NewSaleRepo(db *sql.DB) *SaleRepo { return &SaleRepo{db: db} }

// CreateSale inserts a sale.
func (r *SaleRepo) CreateSale(ctx context.Context, s model.Sale) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, qInsertSale,
		s.ID, s.ReservationID, s.EventID, s.TicketTypeID, s.OwnerID, s.Quantity,
		s.PaymentReference, s.Status, s.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: reservation already converted", model.ErrInvalidState)
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

// GetSale loads a sale by id.
func (r *SaleRepo) GetSale(ctx context.Context, id string) (model.Sale, error) {
	return scanSale(conn(ctx, r.db).QueryRowContext(ctx, qGetSale, id))
}

// GetSaleByReservation loads the sale created from a reservation.
func (r *SaleRepo) GetSaleByReservation(ctx context.Context, reservationID string) (model.Sale, error) {
	return scanSale(conn(ctx, r.db).QueryRowContext(ctx, qGetSaleByReservation, reservationID))
}

func scanSale(row scanner) (model.Sale, error) {
	var s model.Sale
	err := row.Scan(&s.ID, &s.ReservationID, &s.EventID, &s.TicketTypeID, &s.OwnerID,
		&s.Quantity, &s.PaymentReference, &s.Status, &s.CreatedAt)
	if err != nil {
		return model.Sale{}, notFound(err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}
