package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/ticket-gate/internal/clock"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/monitoring"
	"github.com/iliyamo/ticket-gate/internal/queue"
)

const (
	defaultScanListLimit = 100
	maxScanListLimit     = 1000
)

// ScanAuditor writes and reads the scan log.
type ScanAuditor struct {
	store     CredentialStore
	publisher ScanPublisher
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewScanAuditor builds the auditor.  publisher may be nil.
func NewScanAuditor(store CredentialStore, publisher ScanPublisher, clk clock.Clock, logger zerolog.Logger) *ScanAuditor {
	return &ScanAuditor{
		store:     store,
		publisher: publisher,
		clock:     clk,
		logger:    logger.With().Str("component", "scan_audit").Logger(),
	}
}

// Append fills in the id and time of e and stores it.  Called with a
// transaction context it joins that transaction.
func (a *ScanAuditor) Append(ctx context.Context, e model.ScanLogEntry) (model.ScanLogEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ScannedAt.IsZero() {
		e.ScannedAt = a.clock.Now()
	}
	if e.CredentialKind == "" {
		e.CredentialKind = model.KindUnknown
	}
	if err := a.store.AppendScanLog(ctx, e); err != nil {
		return e, err
	}
	return e, nil
}

// Announce counts a stored entry and forwards it to the publisher.
func (a *ScanAuditor) Announce(ctx context.Context, e model.ScanLogEntry) {
	monitoring.Scan(e.CredentialKind, e.Result)
	if a.publisher == nil {
		return
	}
	ev := queue.CredentialScannedEvent{
		ScanID:         e.ID,
		CredentialKind: e.CredentialKind,
		ScannedBy:      e.ScannedBy,
		Result:         e.Result,
		Location:       e.Location,
		Device:         e.Device,
		ScannedAt:      e.ScannedAt,
	}
	if e.CredentialID != nil {
		ev.CredentialID = *e.CredentialID
	}
	if err := a.publisher.PublishCredentialScanned(context.WithoutCancel(ctx), ev); err != nil {
		a.logger.Warn().Err(err).Str("scan_id", e.ID).Msg("publish credential.scanned failed")
	}
}

// Record appends e outside of any transaction and announces it.
func (a *ScanAuditor) Record(ctx context.Context, e model.ScanLogEntry) (model.ScanLogEntry, error) {
	e, err := a.Append(ctx, e)
	if err != nil {
		return e, err
	}
	a.Announce(ctx, e)
	return e, nil
}

// ListScans returns the audit trail of a credential whose event belongs to
// organizerID, oldest first.
func (a *ScanAuditor) ListScans(ctx context.Context, credentialID, organizerID string, limit int) ([]model.ScanLogEntry, error) {
	if limit <= 0 {
		limit = defaultScanListLimit
	}
	if limit > maxScanListLimit {
		limit = maxScanListLimit
	}
	eventID, err := a.credentialEvent(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	ev, err := a.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.OrganizerID != organizerID {
		return nil, model.ErrForbidden
	}
	return a.store.ListScanLogs(ctx, credentialID, limit)
}

func (a *ScanAuditor) credentialEvent(ctx context.Context, id string) (string, error) {
	t, err := a.store.GetTicket(ctx, id)
	if err == nil {
		return t.EventID, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return "", err
	}
	w, err := a.store.GetWristband(ctx, id)
	if err != nil {
		return "", err
	}
	return w.EventID, nil
}
