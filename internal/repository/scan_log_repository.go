package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/ticket-gate/internal/model"
)

const (
	qInsertScanLog = `INSERT INTO scan_logs (id, credential_id, credential_kind, scanned_by, result, scanned_at, location, device, notes) ` +
		`VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	qListScanLogs = `SELECT id, credential_id, credential_kind, scanned_by, result, scanned_at, location, device, notes ` +
		`FROM scan_logs WHERE credential_id = ? ORDER BY scanned_at, id LIMIT ?`
)

// ScanLogRepo is the append-only audit trail.  It deliberately has no
// update or delete methods.
type ScanLogRepo struct {
	db *sql.DB
}

// NewScanLogRepo returns a new ScanLogRepo bound to the provided database.
func NewScanLogRepo(db *sql.DB) *ScanLogRepo { return &ScanLogRepo{db: db} }

// AppendScanLog inserts one audit entry.
func (r *ScanLogRepo) AppendScanLog(ctx context.Context, e model.ScanLogEntry) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, qInsertScanLog,
		e.ID, nullStringPtr(e.CredentialID), e.CredentialKind, e.ScannedBy, e.Result, e.ScannedAt.UTC(),
		nullString(e.Location), nullString(e.Device), nullString(e.Notes),
	)
	if err != nil {
		return fmt.Errorf("insert scan log: %w", err)
	}
	return nil
}

// ListScanLogs returns up to limit entries for a credential, oldest first.
func (r *ScanLogRepo) ListScanLogs(ctx context.Context, credentialID string, limit int) ([]model.ScanLogEntry, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, qListScanLogs, credentialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ScanLogEntry{}
	for rows.Next() {
		var (
			e                       model.ScanLogEntry
			credID                  sql.NullString
			location, device, notes sql.NullString
		)
		if err := rows.Scan(&e.ID, &credID, &e.CredentialKind, &e.ScannedBy, &e.Result, &e.ScannedAt,
			&location, &device, &notes); err != nil {
			return nil, err
		}
		e.CredentialID = stringPtr(credID)
		e.ScannedAt = e.ScannedAt.UTC()
		e.Location, e.Device, e.Notes = location.String, device.String, notes.String
		out = append(out, e)
	}
	return out, rows.Err()
}
