package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/ticket-gate/internal/model"
)

const (
	qGetTicketType = `SELECT id, event_id, name, total_capacity, sold_count, reserved_count FROM ticket_types WHERE id = ?`

	qGetTicketTypeForUpdate = qGetTicketType + ` FOR UPDATE`

	// The WHERE clause is the conservation check: the row only changes if
	// the new reserved count stays within [0, total - sold].
	qAdjustReserved = `UPDATE ticket_types SET reserved_count = reserved_count + ? ` +
		`WHERE id = ? AND reserved_count + ? >= 0 AND sold_count + reserved_count + ? <= total_capacity`

	qConvertReservedToSold = `UPDATE ticket_types SET reserved_count = reserved_count - ?, sold_count = sold_count + ? ` +
		`WHERE id = ? AND reserved_count >= ?`

	qInsertTicketType = `INSERT INTO ticket_types (id, event_id, name, total_capacity, sold_count, reserved_count) VALUES (?, ?, ?, ?, 0, 0)`
)

// TicketTypeRepo is the inventory ledger.  Counters are only changed through
// the guarded UPDATEs below; callers hold the row lock from
// GetTicketTypeForUpdate for the rest of the transaction.
type TicketTypeRepo struct {
	db *sql.DB
}

// NewTicketTypeRepo returns a new TicketTypeRepo bound to the provided database.
func NewTicketTypeRepo(db *sql.DB) *TicketTypeRepo { return &TicketTypeRepo{db: db} }

// GetTicketType reads a ticket type without locking.
func (r *TicketTypeRepo) GetTicketType(ctx context.Context, id string) (model.TicketType, error) {
	return r.getTicketType(ctx, qGetTicketType, id)
}

// GetTicketTypeForUpdate reads a ticket type and locks the row until the
// surrounding transaction ends.  Every operation that changes the counters
// takes this lock first.
func (r *TicketTypeRepo) GetTicketTypeForUpdate(ctx context.Context, id string) (model.TicketType, error) {
	return r.getTicketType(ctx, qGetTicketTypeForUpdate, id)
}

func (r *TicketTypeRepo) getTicketType(ctx context.Context, q, id string) (model.TicketType, error) {
	var t model.TicketType
	err := conn(ctx, r.db).QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.EventID, &t.Name, &t.TotalCapacity, &t.SoldCount, &t.ReservedCount,
	)
	if err != nil {
		return model.TicketType{}, notFound(err)
	}
	return t, nil
}

// AdjustReserved adds delta (positive to hold, negative to release) to the
// reserved count.  A positive delta that would exceed capacity fails with
// model.ErrOutOfStock; a release below zero fails with
// model.ErrInvalidState.
func (r *TicketTypeRepo) AdjustReserved(ctx context.Context, id string, delta int) error {
	if delta == 0 {
		return nil
	}
	res, err := conn(ctx, r.db).ExecContext(ctx, qAdjustReserved, delta, id, delta, delta)
	if err != nil {
		if isCheckViolation(err) {
			return model.ErrOutOfStock
		}
		return fmt.Errorf("adjust reserved: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if delta > 0 {
			return model.ErrOutOfStock
		}
		return fmt.Errorf("%w: reserved count would go negative", model.ErrInvalidState)
	}
	return nil
}

// ConvertReservedToSold moves qty from reserved to sold in one statement.
func (r *TicketTypeRepo) ConvertReservedToSold(ctx context.Context, id string, qty int) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, qConvertReservedToSold, qty, qty, id, qty)
	if err != nil {
		return fmt.Errorf("convert reserved to sold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: ledger holds fewer than %d reserved", model.ErrInvalidState, qty)
	}
	return nil
}

// CreateTicketType inserts a ticket type with zeroed counters.
func (r *TicketTypeRepo) CreateTicketType(ctx context.Context, t model.TicketType) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, qInsertTicketType, t.ID, t.EventID, t.Name, t.TotalCapacity)
	return err
}
