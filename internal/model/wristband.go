package model

import "time"

// Wristband encodings.
const (
	EncodingQR      = "QR"
	EncodingCode128 = "CODE128"
)

// Wristband is an event-wide reusable (or single-use) credential issued by
// an organizer.  Soft-deleted rows keep DeletedAt/DeletedBy and are hidden
// from every lookup.
type Wristband struct {
	ID                string     `json:"id"`
	EventID           string     `json:"event_id"`
	OrganizerID       string     `json:"organizer_id"`
	Label             string     `json:"label"`
	IsReusable        bool       `json:"is_reusable"`
	MaxScans          *int       `json:"max_scans,omitempty"`
	ScanCount         int        `json:"scan_count"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidUntil        time.Time  `json:"valid_until"`
	Encoding          string     `json:"encoding"`
	Status            string     `json:"status"`
	CredentialPayload string     `json:"-"`
	CredentialImage   []byte     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	DeletedAt         *time.Time `json:"-"`
	DeletedBy         *string    `json:"-"`
}

// ScanLimit returns the effective scan cap; zero means unlimited.
// Non-reusable wristbands always allow one scan.
func (w Wristband) ScanLimit() int {
	if !w.IsReusable {
		return 1
	}
	if w.MaxScans != nil {
		return *w.MaxScans
	}
	return 0
}

// WristbandDefinition is the organizer's request to mint a wristband.
type WristbandDefinition struct {
	EventID     string    `json:"event_id"`
	OrganizerID string    `json:"-"`
	Label       string    `json:"label"`
	IsReusable  bool      `json:"is_reusable"`
	MaxScans    *int      `json:"max_scans,omitempty"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidUntil  time.Time `json:"valid_until"`
	Encoding    string    `json:"encoding"`
}
