package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/iliyamo/ticket-gate/internal/clock"
	"github.com/iliyamo/ticket-gate/internal/credential"
	"github.com/iliyamo/ticket-gate/internal/model"
)

// Column widths of scan_logs, in characters.
const (
	maxScanNotes   = 512
	maxScanField   = 128
	maxScannedByID = 64
)

// VerifyInput is one scan at the gate.
type VerifyInput struct {
	Payload       string `json:"payload"`
	VerifierOrgID string `json:"-"`
	Location      string `json:"location,omitempty"`
	Device        string `json:"device,omitempty"`
}

// VerifyResult describes a scan.  Exactly one of Ticket and Wristband is set
// when the credential could be loaded.
type VerifyResult struct {
	Success      bool             `json:"success"`
	Kind         string           `json:"kind"`
	CredentialID string           `json:"credential_id,omitempty"`
	ScanID       string           `json:"scan_id,omitempty"`
	ScannedAt    time.Time        `json:"scanned_at"`
	Ticket       *model.Ticket    `json:"ticket,omitempty"`
	Wristband    *model.Wristband `json:"wristband,omitempty"`
}

// committedFailure is a rejection whose writes must still be committed,
// such as a wristband flipped to EXPIRED.
type committedFailure struct{ err error }

func (c *committedFailure) Error() string { return c.err.Error() }
func (c *committedFailure) Unwrap() error { return c.err }

// CredentialVerifier checks presented credentials and consumes them.
type CredentialVerifier struct {
	store  CredentialStore
	sealer *credential.Sealer
	audit  *ScanAuditor
	clock  clock.Clock
	logger zerolog.Logger
}

// NewCredentialVerifier builds the verifier.
func NewCredentialVerifier(store CredentialStore, sealer *credential.Sealer, audit *ScanAuditor, clk clock.Clock, logger zerolog.Logger) *CredentialVerifier {
	return &CredentialVerifier{
		store:  store,
		sealer: sealer,
		audit:  audit,
		clock:  clk,
		logger: logger.With().Str("component", "verifier").Logger(),
	}
}

// VerifyAndConsume opens the payload, validates it against the stored
// credential and consumes one admission.  Every call leaves exactly one
// scan log entry: successful scans are logged in the consuming transaction,
// rejected ones right after it rolls back.
func (v *CredentialVerifier) VerifyAndConsume(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	if in.VerifierOrgID == "" {
		return VerifyResult{}, fmt.Errorf("%w: verifier is required", model.ErrInvalidInput)
	}
	entry := model.ScanLogEntry{
		CredentialKind: model.KindUnknown,
		ScannedBy:      clip(in.VerifierOrgID, maxScannedByID),
		Location:       clip(in.Location, maxScanField),
		Device:         clip(in.Device, maxScanField),
	}

	claims, err := v.sealer.Open(in.Payload)
	if err != nil {
		return v.reject(ctx, entry, err)
	}
	id := claims.ID
	entry.CredentialKind = claims.Kind
	entry.CredentialID = &id

	var (
		res     VerifyResult
		outcome error
	)
	err = v.store.WithTx(ctx, func(ctx context.Context) error {
		outcome = nil
		now := v.clock.Now()
		var err error
		switch claims.Kind {
		case model.KindTicket:
			res, err = v.consumeTicket(ctx, claims, in, now)
		case model.KindWristband:
			res, err = v.consumeWristband(ctx, claims, in, now)
		default:
			err = model.ErrMalformedCredential
		}
		var cf *committedFailure
		if errors.As(err, &cf) {
			outcome = cf.err
			return nil
		}
		if err != nil {
			return err
		}

		ok := entry
		ok.Result = model.ScanResultSuccess
		ok.ScannedAt = now
		if ok, err = v.audit.Append(ctx, ok); err != nil {
			return err
		}
		res.Success = true
		res.ScanID = ok.ID
		res.ScannedAt = ok.ScannedAt
		return nil
	})
	if err == nil && outcome != nil {
		err = outcome
	}
	if err != nil {
		return v.reject(ctx, entry, err)
	}

	entry.ID = res.ScanID
	entry.Result = model.ScanResultSuccess
	entry.ScannedAt = res.ScannedAt
	v.audit.Announce(ctx, entry)
	v.logger.Info().Str("credential_id", res.CredentialID).Str("kind", res.Kind).
		Str("scanned_by", in.VerifierOrgID).Msg("credential accepted")
	return res, nil
}

// reject audits a failed scan and returns cause.  The audit is written even
// when the caller's context is already cancelled.
func (v *CredentialVerifier) reject(ctx context.Context, entry model.ScanLogEntry, cause error) (VerifyResult, error) {
	entry.Result = model.Code(cause)
	entry.Notes = clip(cause.Error(), maxScanNotes)
	saved, err := v.audit.Record(context.WithoutCancel(ctx), entry)
	if err != nil {
		v.logger.Error().Err(err).Str("result", entry.Result).Msg("scan audit write failed")
	}
	res := VerifyResult{Kind: entry.CredentialKind, ScanID: saved.ID, ScannedAt: saved.ScannedAt}
	if entry.CredentialID != nil {
		res.CredentialID = *entry.CredentialID
	}
	v.logger.Debug().Str("result", entry.Result).Str("credential_id", res.CredentialID).Msg("credential rejected")
	return res, cause
}

// clip shortens s to at most n characters.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (v *CredentialVerifier) consumeTicket(ctx context.Context, c credential.Claims, in VerifyInput, now time.Time) (VerifyResult, error) {
	res := VerifyResult{Kind: model.KindTicket, CredentialID: c.ID}
	t, err := v.store.GetTicketForUpdate(ctx, c.ID)
	if err != nil {
		return res, err
	}
	if t.EventID != c.EventID || t.OwnerID != c.OwnerID || t.SaleID != c.SaleID ||
		t.TicketTypeID != c.TicketTypeID || t.CredentialPayload != in.Payload {
		return res, model.ErrPayloadMismatch
	}
	if err := v.authorize(ctx, t.EventID, in.VerifierOrgID); err != nil {
		return res, err
	}
	if t.CheckedIn || t.Status == model.TicketUsed || t.CredentialStatus == model.CredentialUsed {
		used := &model.AlreadyUsedError{}
		if t.CheckInTime != nil {
			used.CheckedInAt = *t.CheckInTime
		}
		return res, used
	}
	if t.Status != model.TicketActive {
		return res, fmt.Errorf("%w: ticket is %s", model.ErrInvalidState, t.Status)
	}
	if t.CredentialStatus != model.CredentialActive {
		return res, fmt.Errorf("%w: credential is %s", model.ErrInvalidState, t.CredentialStatus)
	}
	if !now.Before(c.ExpiresAtTime()) {
		return res, model.ErrExpired
	}

	if err := v.store.MarkTicketUsed(ctx, t.ID, now); err != nil {
		return res, err
	}
	t.Status = model.TicketUsed
	t.CredentialStatus = model.CredentialUsed
	t.CheckedIn = true
	t.CheckInTime = &now
	res.Ticket = &t
	return res, nil
}

func (v *CredentialVerifier) consumeWristband(ctx context.Context, c credential.Claims, in VerifyInput, now time.Time) (VerifyResult, error) {
	res := VerifyResult{Kind: model.KindWristband, CredentialID: c.ID}
	w, err := v.store.GetWristbandForUpdate(ctx, c.ID)
	if err != nil {
		return res, err
	}
	if w.CredentialPayload != in.Payload {
		return res, model.ErrPayloadMismatch
	}
	if !c.Compact && (w.EventID != c.EventID || w.OrganizerID != c.OrganizerID) {
		return res, model.ErrPayloadMismatch
	}
	if err := v.authorize(ctx, w.EventID, in.VerifierOrgID); err != nil {
		return res, err
	}
	switch w.Status {
	case model.CredentialActive:
	case model.CredentialExpired:
		return res, model.ErrExpired
	default:
		return res, fmt.Errorf("%w: wristband is %s", model.ErrInvalidState, w.Status)
	}
	if now.Before(w.ValidFrom) {
		return res, fmt.Errorf("%w: valid from %s", model.ErrExpired, w.ValidFrom.Format(time.RFC3339))
	}
	if now.After(w.ValidUntil) {
		if err := v.store.SetWristbandStatus(ctx, w.ID, model.CredentialExpired, now); err != nil {
			return res, err
		}
		return res, &committedFailure{err: model.ErrExpired}
	}
	if limit := w.ScanLimit(); limit > 0 && w.ScanCount >= limit {
		return res, model.ErrScanLimitExceeded
	}

	if err := v.store.IncrementWristbandScan(ctx, w.ID, now); err != nil {
		return res, err
	}
	w.ScanCount++
	res.Wristband = &w
	return res, nil
}

func (v *CredentialVerifier) authorize(ctx context.Context, eventID, organizerID string) error {
	ev, err := v.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.OrganizerID != organizerID {
		return model.ErrForbidden
	}
	return nil
}
