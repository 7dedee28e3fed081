package model

import "time"

// Credential kinds as recorded in the scan log.
const (
	KindTicket    = "TICKET"
	KindWristband = "WRISTBAND"
	KindUnknown   = "UNKNOWN"
)

// ScanResultSuccess is the result recorded for an accepted scan.  Failed
// scans record the error code instead.
const ScanResultSuccess = "SUCCESS"

// ScanLogEntry is one append-only audit record of a verification attempt.
// CredentialID is nil when the presented payload could not be identified.
type ScanLogEntry struct {
	ID             string    `json:"id"`
	CredentialID   *string   `json:"credential_id,omitempty"`
	CredentialKind string    `json:"credential_kind"`
	ScannedBy      string    `json:"scanned_by"`
	Result         string    `json:"result"`
	ScannedAt      time.Time `json:"scanned_at"`
	Location       string    `json:"location,omitempty"`
	Device         string    `json:"device,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}
