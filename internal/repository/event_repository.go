package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/ticket-gate/internal/model"
)

const (
	qGetEvent = `SELECT id, organizer_id, name, status, starts_at, ends_at FROM events WHERE id = ?`

	qInsertEvent = `INSERT INTO events (id, organizer_id, name, status, starts_at, ends_at) VALUES (?, ?, ?, ?, ?, ?)`
)

// EventRepo reads events.  Events are written by the event-management
// service; CreateEvent exists for seeding and integration tests.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the provided database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// GetEvent loads an event by id.  Returns model.ErrNotFound when absent.
func (r *EventRepo) GetEvent(ctx context.Context, id string) (model.Event, error) {
	var e model.Event
	err := conn(ctx, r.db).QueryRowContext(ctx, qGetEvent, id).Scan(
		&e.ID, &e.OrganizerID, &e.Name, &e.Status, &e.StartsAt, &e.EndsAt,
	)
	if err != nil {
		return model.Event{}, notFound(err)
	}
	e.StartsAt = e.StartsAt.UTC()
	e.EndsAt = e.EndsAt.UTC()
	return e, nil
}

// CreateEvent inserts an event row.
func (r *EventRepo) CreateEvent(ctx context.Context, e model.Event) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, qInsertEvent,
		e.ID, e.OrganizerID, e.Name, e.Status, e.StartsAt.UTC(), e.EndsAt.UTC())
	return err
}
