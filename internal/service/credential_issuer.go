package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/ticket-gate/internal/clock"
	"github.com/iliyamo/ticket-gate/internal/credential"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/monitoring"
	"github.com/iliyamo/ticket-gate/internal/queue"
)

// CredentialIssuer mints ticket and wristband credentials.
type CredentialIssuer struct {
	store    CredentialStore
	sealer   *credential.Sealer
	renderer credential.Renderer
	clock    clock.Clock
	logger   zerolog.Logger
	grace    time.Duration
}

// NewCredentialIssuer builds the issuer.  grace is how long a ticket
// credential stays valid after its event ends.
func NewCredentialIssuer(store CredentialStore, sealer *credential.Sealer, renderer credential.Renderer, clk clock.Clock, logger zerolog.Logger, grace time.Duration) *CredentialIssuer {
	return &CredentialIssuer{
		store:    store,
		sealer:   sealer,
		renderer: renderer,
		clock:    clk,
		logger:   logger.With().Str("component", "issuer").Logger(),
		grace:    grace,
	}
}

// IssueTicketCredential mints the QR credential of a ticket.  Calling it
// again returns the credential minted the first time.
func (i *CredentialIssuer) IssueTicketCredential(ctx context.Context, ticketID string) (model.Ticket, error) {
	var (
		out    model.Ticket
		minted bool
	)
	err := i.store.WithTx(ctx, func(ctx context.Context) error {
		minted = false
		t, err := i.store.GetTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.HasCredential() {
			out = t
			return nil
		}
		if t.Status != model.TicketActive {
			return fmt.Errorf("%w: ticket is %s", model.ErrInvalidState, t.Status)
		}
		sale, err := i.store.GetSale(ctx, t.SaleID)
		if err != nil {
			return err
		}
		if sale.Status != model.SaleFinalized {
			return model.ErrPaymentNotConfirmed
		}
		ev, err := i.store.GetEvent(ctx, t.EventID)
		if err != nil {
			return err
		}

		now := i.clock.Now()
		payload, err := i.sealer.Seal(credential.TicketClaims(t, sale, ev, now, ev.EndsAt.Add(i.grace)))
		if err != nil {
			return err
		}
		img, err := i.renderer.Render(payload, model.EncodingQR)
		if err != nil {
			return err
		}
		if err := i.store.SaveTicketCredential(ctx, t.ID, model.CredentialActive, payload, img, now); err != nil {
			return err
		}
		t.CredentialStatus = model.CredentialActive
		t.CredentialPayload = payload
		t.CredentialImage = img
		t.CredentialIssuedAt = &now
		out = t
		minted = true
		return nil
	})
	if err != nil {
		return model.Ticket{}, err
	}
	if minted {
		monitoring.CredentialIssued(model.KindTicket)
		i.logger.Debug().Str("ticket_id", out.ID).Msg("ticket credential issued")
	}
	return out, nil
}

// HandleSaleFinalized mints the credentials of every ticket in a sale.  It
// keeps going after a failed ticket and returns the joined errors.
func (i *CredentialIssuer) HandleSaleFinalized(ctx context.Context, ev queue.SaleFinalizedEvent) error {
	var errs []error
	for _, id := range ev.TicketIDs {
		if _, err := i.IssueTicketCredential(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("ticket %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// TicketCredentialImage returns the QR image of a ticket owned by ownerID,
// minting it first if the asynchronous issuance has not run yet.
func (i *CredentialIssuer) TicketCredentialImage(ctx context.Context, ticketID, ownerID string) ([]byte, error) {
	t, err := i.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, model.ErrForbidden
	}
	if !t.HasCredential() {
		if t, err = i.IssueTicketCredential(ctx, ticketID); err != nil {
			return nil, err
		}
	}
	return t.CredentialImage, nil
}

// IssueWristbandCredential mints a wristband for an event the organizer
// owns.  The row moves PENDING -> GENERATED -> ACTIVE inside one
// transaction.
func (i *CredentialIssuer) IssueWristbandCredential(ctx context.Context, def model.WristbandDefinition) (model.Wristband, error) {
	if err := validateWristband(&def); err != nil {
		return model.Wristband{}, err
	}
	ev, err := i.store.GetEvent(ctx, def.EventID)
	if err != nil {
		return model.Wristband{}, err
	}
	if ev.OrganizerID != def.OrganizerID {
		return model.Wristband{}, model.ErrForbidden
	}

	now := i.clock.Now()
	w := model.Wristband{
		ID:          uuid.NewString(),
		EventID:     def.EventID,
		OrganizerID: def.OrganizerID,
		Label:       def.Label,
		IsReusable:  def.IsReusable,
		MaxScans:    def.MaxScans,
		ValidFrom:   def.ValidFrom.UTC(),
		ValidUntil:  def.ValidUntil.UTC(),
		Encoding:    def.Encoding,
		Status:      model.CredentialPending,
		CreatedAt:   now,
	}
	if !w.IsReusable {
		one := 1
		w.MaxScans = &one
	}
	err = i.store.WithTx(ctx, func(ctx context.Context) error {
		if err := i.store.CreateWristband(ctx, w); err != nil {
			return err
		}
		payload, err := i.wristbandPayload(w, now)
		if err != nil {
			return err
		}
		img, err := i.renderer.Render(payload, w.Encoding)
		if err != nil {
			return err
		}
		if err := i.store.SaveWristbandCredential(ctx, w.ID, model.CredentialGenerated, payload, img, now); err != nil {
			return err
		}
		w.CredentialPayload = payload
		w.CredentialImage = img
		return i.store.SetWristbandStatus(ctx, w.ID, model.CredentialActive, now)
	})
	if err != nil {
		return model.Wristband{}, err
	}
	w.Status = model.CredentialActive
	monitoring.CredentialIssued(model.KindWristband)
	i.logger.Info().Str("wristband_id", w.ID).Str("event_id", w.EventID).Msg("wristband issued")
	return w, nil
}

// wristbandPayload seals the full claims for QR wristbands.  Code128 has
// room for the compact tag only.
func (i *CredentialIssuer) wristbandPayload(w model.Wristband, now time.Time) (string, error) {
	if w.Encoding == model.EncodingCode128 {
		return i.sealer.SealTag(w.ID)
	}
	return i.sealer.Seal(credential.WristbandClaims(w, now))
}

func validateWristband(def *model.WristbandDefinition) error {
	if def.EventID == "" || def.OrganizerID == "" {
		return fmt.Errorf("%w: event is required", model.ErrInvalidInput)
	}
	if def.ValidFrom.IsZero() || !def.ValidFrom.Before(def.ValidUntil) {
		return fmt.Errorf("%w: valid_from must be before valid_until", model.ErrInvalidInput)
	}
	if def.MaxScans != nil && *def.MaxScans < 1 {
		return fmt.Errorf("%w: max_scans must be at least 1", model.ErrInvalidInput)
	}
	switch def.Encoding {
	case "":
		def.Encoding = model.EncodingQR
	case model.EncodingQR, model.EncodingCode128:
	default:
		return fmt.Errorf("%w: encoding must be QR or CODE128", model.ErrInvalidInput)
	}
	return nil
}

// GetWristband returns a wristband of an event the organizer owns.
func (i *CredentialIssuer) GetWristband(ctx context.Context, id, organizerID string) (model.Wristband, error) {
	w, err := i.store.GetWristband(ctx, id)
	if err != nil {
		return model.Wristband{}, err
	}
	if err := i.authorizeOrganizer(ctx, w.EventID, organizerID); err != nil {
		return model.Wristband{}, err
	}
	return w, nil
}

// RevokeWristband stops a wristband from being accepted.  Revoking a
// revoked wristband is a no-op.
func (i *CredentialIssuer) RevokeWristband(ctx context.Context, id, organizerID string) error {
	return i.store.WithTx(ctx, func(ctx context.Context) error {
		w, err := i.store.GetWristbandForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := i.authorizeOrganizer(ctx, w.EventID, organizerID); err != nil {
			return err
		}
		if w.Status == model.CredentialRevoked {
			return nil
		}
		return i.store.SetWristbandStatus(ctx, id, model.CredentialRevoked, i.clock.Now())
	})
}

// DeleteWristband soft-deletes a wristband; it disappears from every lookup.
func (i *CredentialIssuer) DeleteWristband(ctx context.Context, id, organizerID string) error {
	return i.store.WithTx(ctx, func(ctx context.Context) error {
		w, err := i.store.GetWristbandForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := i.authorizeOrganizer(ctx, w.EventID, organizerID); err != nil {
			return err
		}
		return i.store.SoftDeleteWristband(ctx, id, organizerID, i.clock.Now())
	})
}

func (i *CredentialIssuer) authorizeOrganizer(ctx context.Context, eventID, organizerID string) error {
	ev, err := i.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.OrganizerID != organizerID {
		return model.ErrForbidden
	}
	return nil
}

// InlineIssuance satisfies SalePublisher by minting credentials in-process.
// It is used when no broker is configured.
type InlineIssuance struct {
	Issuer *CredentialIssuer
}

// PublishSaleFinalized issues the sale's credentials immediately.
func (p InlineIssuance) PublishSaleFinalized(ctx context.Context, ev queue.SaleFinalizedEvent) error {
	return p.Issuer.HandleSaleFinalized(ctx, ev)
}
