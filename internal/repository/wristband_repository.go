package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/ticket-gate/internal/model"
)

const wristbandColumns = `id, event_id, organizer_id, label, is_reusable, max_scans, scan_count, valid_from, valid_until, ` +
	`encoding, status, credential_payload, credential_image, created_at, deleted_at, deleted_by`

const (
	qInsertWristband = `INSERT INTO wristbands (id, event_id, organizer_id, label, is_reusable, max_scans, scan_count, ` +
		`valid_from, valid_until, encoding, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`

	qGetWristband = `SELECT ` + wristbandColumns + ` FROM wristbands WHERE id = ? AND deleted_at IS NULL`

	qGetWristbandForUpdate = qGetWristband + ` FOR UPDATE`

	qSaveWristbandCredential = `UPDATE wristbands SET status = ?, credential_payload = ?, credential_image = ?, updated_at = ? ` +
		`WHERE id = ? AND deleted_at IS NULL`

	// The scan cap is rechecked in SQL so a stale read can never push
	// scan_count past max_scans.
	qIncrementWristbandScan = `UPDATE wristbands SET scan_count = scan_count + 1, updated_at = ? ` +
		`WHERE id = ? AND deleted_at IS NULL AND (max_scans IS NULL OR scan_count < max_scans)`

	qSetWristbandStatus = `UPDATE wristbands SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`

	qSoftDeleteWristband = `UPDATE wristbands SET status = 'REVOKED', deleted_at = ?, deleted_by = ?, updated_at = ? ` +
		`WHERE id = ? AND deleted_at IS NULL`
)

// WristbandRepo persists wristband credentials.  Soft-deleted rows are
// invisible to every method.
type WristbandRepo struct {
	db *sql.DB
}

// NewWristbandRepo returns a new WristbandRepo bound to the provided database.
func NewWristbandRepo(db *sql.DB) *WristbandRepo { return &WristbandRepo{db: db} }

// CreateWristband inserts a wristband in its initial status.
func (r *WristbandRepo) CreateWristband(ctx context.Context, w model.Wristband) error {
	var maxScans sql.NullInt64
	if w.MaxScans != nil {
		maxScans = sql.NullInt64{Int64: int64(*w.MaxScans), Valid: true}
	}
	_, err := conn(ctx, r.db).ExecContext(ctx, qInsertWristband,
		w.ID, w.EventID, w.OrganizerID, w.Label, w.IsReusable, maxScans,
		w.ValidFrom.UTC(), w.ValidUntil.UTC(), w.Encoding, w.Status, w.CreatedAt.UTC(), w.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert wristband: %w", err)
	}
	return nil
}

// GetWristband loads a live wristband.
func (r *WristbandRepo) GetWristband(ctx context.Context, id string) (model.Wristband, error) {
	return scanWristband(conn(ctx, r.db).QueryRowContext(ctx, qGetWristband, id))
}

// GetWristbandForUpdate loads and locks a live wristband.
func (r *WristbandRepo) GetWristbandForUpdate(ctx context.Context, id string) (model.Wristband, error) {
	return scanWristband(conn(ctx, r.db).QueryRowContext(ctx, qGetWristbandForUpdate, id))
}

// SaveWristbandCredential stores the minted payload and image together with
// the new status.
func (r *WristbandRepo) SaveWristbandCredential(ctx context.Context, id, status, payload string, image []byte, now time.Time) error {
	return execOne(ctx, conn(ctx, r.db), qSaveWristbandCredential, status, payload, image, now.UTC(), id)
}

// IncrementWristbandScan counts one accepted scan.  It fails with
// model.ErrScanLimitExceeded when the cap is already reached.
func (r *WristbandRepo) IncrementWristbandScan(ctx context.Context, id string, now time.Time) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, qIncrementWristbandScan, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("increment wristband scan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrScanLimitExceeded
	}
	return nil
}

// SetWristbandStatus changes the status of a live wristband.
func (r *WristbandRepo) SetWristbandStatus(ctx context.Context, id, status string, now time.Time) error {
	return execOne(ctx, conn(ctx, r.db), qSetWristbandStatus, status, now.UTC(), id)
}

// SoftDeleteWristband revokes the wristband and hides it from lookups.
func (r *WristbandRepo) SoftDeleteWristband(ctx context.Context, id, deletedBy string, now time.Time) error {
	return execOne(ctx, conn(ctx, r.db), qSoftDeleteWristband, now.UTC(), deletedBy, now.UTC(), id)
}

func scanWristband(row scanner) (model.Wristband, error) {
	var (
		w         model.Wristband
		maxScans  sql.NullInt64
		payload   sql.NullString
		deletedAt sql.NullTime
		deletedBy sql.NullString
	)
	err := row.Scan(&w.ID, &w.EventID, &w.OrganizerID, &w.Label, &w.IsReusable, &maxScans, &w.ScanCount,
		&w.ValidFrom, &w.ValidUntil, &w.Encoding, &w.Status, &payload, &w.CredentialImage, &w.CreatedAt,
		&deletedAt, &deletedBy)
	if err != nil {
		return model.Wristband{}, notFound(err)
	}
	if maxScans.Valid {
		n := int(maxScans.Int64)
		w.MaxScans = &n
	}
	w.CredentialPayload = payload.String
	w.ValidFrom = w.ValidFrom.UTC()
	w.ValidUntil = w.ValidUntil.UTC()
	w.CreatedAt = w.CreatedAt.UTC()
	w.DeletedAt = timePtr(deletedAt)
	w.DeletedBy = stringPtr(deletedBy)
	return w, nil
}
