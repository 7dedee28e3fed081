package model

import "time"

// Event statuses. Only PUBLISHED events accept new holds.
const (
	EventDraft     = "DRAFT"
	EventPublished = "PUBLISHED"
	EventCancelled = "CANCELLED"
	EventCompleted = "COMPLETED"
)

// Event is owned by the event-management collaborator; this service only
// reads it to check bookability and organizer ownership.
type Event struct {
	ID          string    `json:"id"`           // events.id
	OrganizerID string    `json:"organizer_id"` // events.organizer_id
	Name        string    `json:"name"`         // events.name
	Status      string    `json:"status"`       // events.status
	StartsAt    time.Time `json:"starts_at"`    // events.starts_at
	EndsAt      time.Time `json:"ends_at"`      // events.ends_at
}

// Bookable reports whether holds may be placed against the event at now.
func (e Event) Bookable(now time.Time) bool {
	return e.Status == EventPublished && now.Before(e.EndsAt)
}
