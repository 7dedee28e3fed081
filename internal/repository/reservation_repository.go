package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/ticket-gate/internal/model"
)

const reservationColumns = `id, session_id, ticket_type_id, quantity, status, expires_at, sale_id, metadata, created_at, updated_at`

const (
	qInsertReservation = `INSERT INTO reservations (id, session_id, ticket_type_id, quantity, status, expires_at, metadata, created_at, updated_at) ` +
		`VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	qGetReservation = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`

	qGetReservationForUpdate = qGetReservation + ` FOR UPDATE`

	qFindActiveReservation = `SELECT ` + reservationColumns + ` FROM reservations ` +
		`WHERE session_id = ? AND ticket_type_id = ? AND status = 'ACTIVE' LIMIT 1`

	qCountLiveBySession = `SELECT COUNT(*) FROM reservations WHERE session_id = ? AND status = 'ACTIVE' AND expires_at > ?`

	qListLiveBySession = `SELECT ` + reservationColumns + ` FROM reservations ` +
		`WHERE session_id = ? AND status = 'ACTIVE' AND expires_at > ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	qListActiveBySession = `SELECT ` + reservationColumns + ` FROM reservations WHERE session_id = ? AND status = 'ACTIVE' ORDER BY id`

	qListExpiredReservations = `SELECT ` + reservationColumns + ` FROM reservations ` +
		`WHERE status = 'ACTIVE' AND expires_at <= ? ORDER BY expires_at, id LIMIT ?`

	qListExpiredForTicketTypeForUpdate = `SELECT ` + reservationColumns + ` FROM reservations ` +
		`WHERE ticket_type_id = ? AND status = 'ACTIVE' AND expires_at <= ? ORDER BY id FOR UPDATE`

	qSetReservationStatus = `UPDATE reservations SET status = ?, sale_id = ?, updated_at = ? WHERE id = ?`

	qSetReservationExpiry = `UPDATE reservations SET expires_at = ?, updated_at = ? WHERE id = ?`

	qDeleteReservation = `DELETE FROM reservations WHERE id = ?`
)

// ReservationRepo persists holds.  At most one ACTIVE row per
// (session_id, ticket_type_id) is enforced by a unique index on the
// generated active_key column; the service also checks it under the ticket
// type lock so the index is only hit by racing replicas.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// CreateReservation inserts a hold.  A unique index violation is reported
// as model.ErrDuplicateHold.
func (r *ReservationRepo) CreateReservation(ctx context.Context, res model.Reservation) error {
	meta, err := json.Marshal(res.Metadata)
	if err != nil {
		return fmt.Errorf("marshal reservation metadata: %w", err)
	}
	_, err = conn(ctx, r.db).ExecContext(ctx, qInsertReservation,
		res.ID, res.SessionID, res.TicketTypeID, res.Quantity, res.Status,
		res.ExpiresAt.UTC(), meta, res.CreatedAt.UTC(), res.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return model.ErrDuplicateHold
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetReservation reads a hold without locking.
func (r *ReservationRepo) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	return scanReservation(conn(ctx, r.db).QueryRowContext(ctx, qGetReservation, id))
}

// GetReservationForUpdate reads a hold and locks it.  Callers lock the
// hold's ticket type first.
func (r *ReservationRepo) GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error) {
	return scanReservation(conn(ctx, r.db).QueryRowContext(ctx, qGetReservationForUpdate, id))
}

// FindActiveReservation returns the session's ACTIVE hold on a ticket type,
// or model.ErrNotFound.
func (r *ReservationRepo) FindActiveReservation(ctx context.Context, sessionID, ticketTypeID string) (model.Reservation, error) {
	return scanReservation(conn(ctx, r.db).QueryRowContext(ctx, qFindActiveReservation, sessionID, ticketTypeID))
}

// ListLiveReservations pages through the session's ACTIVE holds that are not
// yet expired at now, newest first, and returns the total count.
func (r *ReservationRepo) ListLiveReservations(ctx context.Context, sessionID string, now time.Time, limit, offset int) ([]model.Reservation, int, error) {
	q := conn(ctx, r.db)
	var total int
	if err := q.QueryRowContext(ctx, qCountLiveBySession, sessionID, now.UTC()).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []model.Reservation{}, 0, nil
	}
	rows, err := q.QueryContext(ctx, qListLiveBySession, sessionID, now.UTC(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectReservations(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListActiveReservationsBySession returns every ACTIVE hold of the session,
// expired or not.
func (r *ReservationRepo) ListActiveReservationsBySession(ctx context.Context, sessionID string) ([]model.Reservation, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, qListActiveBySession, sessionID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// ListExpiredReservations returns up to limit ACTIVE holds whose expiry is
// at or before now, oldest first.
func (r *ReservationRepo) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, qListExpiredReservations, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// ListExpiredForTicketTypeForUpdate locks and returns the expired ACTIVE
// holds of one ticket type.  Used right after the ticket type lock.
func (r *ReservationRepo) ListExpiredForTicketTypeForUpdate(ctx context.Context, ticketTypeID string, now time.Time) ([]model.Reservation, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, qListExpiredForTicketTypeForUpdate, ticketTypeID, now.UTC())
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// SetReservationStatus changes the status and, on conversion, records the
// sale id.
func (r *ReservationRepo) SetReservationStatus(ctx context.Context, id, status string, saleID *string, now time.Time) error {
	return execOne(ctx, conn(ctx, r.db), qSetReservationStatus, status, nullStringPtr(saleID), now.UTC(), id)
}

// SetReservationExpiry moves the expiry of a hold.
func (r *ReservationRepo) SetReservationExpiry(ctx context.Context, id string, expiresAt, now time.Time) error {
	return execOne(ctx, conn(ctx, r.db), qSetReservationExpiry, expiresAt.UTC(), now.UTC(), id)
}

// DeleteReservation removes a hold row.
func (r *ReservationRepo) DeleteReservation(ctx context.Context, id string) error {
	return execOne(ctx, conn(ctx, r.db), qDeleteReservation, id)
}

// execOne runs an UPDATE/DELETE that must touch exactly one row.  Note that
// MySQL reports zero affected rows when an UPDATE leaves values unchanged,
// so callers only use it for statements that always change the row.
func execOne(ctx context.Context, q querier, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func scanReservation(row scanner) (model.Reservation, error) {
	var (
		res    model.Reservation
		saleID sql.NullString
		meta   []byte
	)
	err := row.Scan(&res.ID, &res.SessionID, &res.TicketTypeID, &res.Quantity, &res.Status,
		&res.ExpiresAt, &saleID, &meta, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return model.Reservation{}, notFound(err)
	}
	res.SaleID = stringPtr(saleID)
	res.ExpiresAt = res.ExpiresAt.UTC()
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &res.Metadata); err != nil {
			return model.Reservation{}, fmt.Errorf("decode reservation metadata: %w", err)
		}
	}
	return res, nil
}

func collectReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
