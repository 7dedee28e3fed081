package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/ticket-gate/internal/model"
)

const ticketColumns = `id, ticket_type_id, event_id, owner_id, sale_id, status, checked_in, check_in_time, ` +
	`credential_status, credential_payload, credential_image, credential_issued_at, created_at`

const (
	qInsertTicketsPrefix = `INSERT INTO tickets (id, ticket_type_id, event_id, owner_id, sale_id, status, checked_in, credential_status, created_at, updated_at) VALUES `

	qGetTicket = `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`

	qGetTicketForUpdate = qGetTicket + ` FOR UPDATE`

	qListTicketsBySale = `SELECT ` + ticketColumns + ` FROM tickets WHERE sale_id = ? ORDER BY id`

	qSaveTicketCredential = `UPDATE tickets SET credential_status = ?, credential_payload = ?, credential_image = ?, ` +
		`credential_issued_at = ?, updated_at = ? WHERE id = ?`

	// checked_in = 0 makes consumption idempotent at the row level.
	qMarkTicketUsed = `UPDATE tickets SET status = 'USED', credential_status = 'USED', checked_in = 1, ` +
		`check_in_time = ?, updated_at = ? WHERE id = ? AND checked_in = 0`
)

// TicketRepo persists tickets and their credentials.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the provided database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// CreateTickets inserts all tickets of a sale in a single statement.
// Passing an empty slice has no effect.
func (r *TicketRepo) CreateTickets(ctx context.Context, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(qInsertTicketsPrefix)
	args := make([]any, 0, len(tickets)*10)
	for i, t := range tickets {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, t.ID, t.TicketTypeID, t.EventID, t.OwnerID, t.SaleID, t.Status,
			t.CheckedIn, t.CredentialStatus, t.CreatedAt.UTC(), t.CreatedAt.UTC())
	}
	if _, err := conn(ctx, r.db).ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert tickets: %w", err)
	}
	return nil
}

// GetTicket loads a ticket without locking.
func (r *TicketRepo) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	return scanTicket(conn(ctx, r.db).QueryRowContext(ctx, qGetTicket, id))
}

// GetTicketForUpdate loads a ticket and locks it.  Concurrent scans of the
// same ticket queue behind this lock.
func (r *TicketRepo) GetTicketForUpdate(ctx context.Context, id string) (model.Ticket, error) {
	return scanTicket(conn(ctx, r.db).QueryRowContext(ctx, qGetTicketForUpdate, id))
}

// ListTicketsBySale returns the tickets created by a sale.
func (r *TicketRepo) ListTicketsBySale(ctx context.Context, saleID string) ([]model.Ticket, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, qListTicketsBySale, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTicketCredential stores the minted payload and image.
func (r *TicketRepo) SaveTicketCredential(ctx context.Context, id, status, payload string, image []byte, issuedAt time.Time) error {
	return execOne(ctx, conn(ctx, r.db), qSaveTicketCredential,
		status, payload, image, issuedAt.UTC(), issuedAt.UTC(), id)
}

// MarkTicketUsed consumes the ticket.  A ticket that is already checked in
// yields model.ErrAlreadyUsed.
func (r *TicketRepo) MarkTicketUsed(ctx context.Context, id string, at time.Time) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, qMarkTicketUsed, at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark ticket used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrAlreadyUsed
	}
	return nil
}

func scanTicket(row scanner) (model.Ticket, error) {
	var (
		t        model.Ticket
		checkIn  sql.NullTime
		payload  sql.NullString
		issuedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.TicketTypeID, &t.EventID, &t.OwnerID, &t.SaleID, &t.Status,
		&t.CheckedIn, &checkIn, &t.CredentialStatus, &payload, &t.CredentialImage, &issuedAt, &t.CreatedAt)
	if err != nil {
		return model.Ticket{}, notFound(err)
	}
	t.CheckInTime = timePtr(checkIn)
	t.CredentialPayload = payload.String
	t.CredentialIssuedAt = timePtr(issuedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}
