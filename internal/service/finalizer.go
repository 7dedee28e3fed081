package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/ticket-gate/internal/clock"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/monitoring"
	"github.com/iliyamo/ticket-gate/internal/queue"
)

// FinalizeInput is the payment collaborator's confirmation of a hold.
type FinalizeInput struct {
	ReservationID    string `json:"reservation_id"`
	PaymentReference string `json:"payment_reference"`
	OwnerID          string `json:"owner_id"`
}

// FinalizeResult is the committed sale and its tickets.  Replayed is true
// when the reservation had already been converted with the same payment
// reference and the existing sale was returned.
type FinalizeResult struct {
	Sale     model.Sale     `json:"sale"`
	Tickets  []model.Ticket `json:"tickets"`
	Replayed bool           `json:"replayed"`
}

// SaleFinalizer converts a paid hold into a sale.
type SaleFinalizer struct {
	store        SaleStore
	reservations *ReservationService
	publisher    SalePublisher
	clock        clock.Clock
	logger       zerolog.Logger
}

// NewSaleFinalizer builds the finalizer.  publisher may be nil, in which
// case nobody is told about new sales.
func NewSaleFinalizer(store SaleStore, reservations *ReservationService, publisher SalePublisher, clk clock.Clock, logger zerolog.Logger) *SaleFinalizer {
	return &SaleFinalizer{
		store:        store,
		reservations: reservations,
		publisher:    publisher,
		clock:        clk,
		logger:       logger.With().Str("component", "finalizer").Logger(),
	}
}

// Finalize creates the sale and its tickets, converts the hold and moves
// its quantity from reserved to sold, all in one transaction.  Either every
// write lands or none does.
func (f *SaleFinalizer) Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	if in.ReservationID == "" || in.PaymentReference == "" || in.OwnerID == "" {
		return FinalizeResult{}, fmt.Errorf("%w: reservation, payment reference and owner are required", model.ErrInvalidInput)
	}

	var out FinalizeResult
	err := f.store.WithTx(ctx, func(ctx context.Context) error {
		out = FinalizeResult{}
		res, err := f.store.GetReservation(ctx, in.ReservationID)
		if err != nil {
			return err
		}
		tt, err := f.store.GetTicketTypeForUpdate(ctx, res.TicketTypeID)
		if err != nil {
			return err
		}
		if res, err = f.store.GetReservationForUpdate(ctx, in.ReservationID); err != nil {
			return err
		}

		if res.Status == model.ReservationConverted {
			sale, err := f.store.GetSaleByReservation(ctx, res.ID)
			if err != nil {
				return err
			}
			if sale.PaymentReference != in.PaymentReference {
				return fmt.Errorf("%w: reservation already converted", model.ErrInvalidState)
			}
			tickets, err := f.store.ListTicketsBySale(ctx, sale.ID)
			if err != nil {
				return err
			}
			out = FinalizeResult{Sale: sale, Tickets: tickets, Replayed: true}
			return nil
		}
		if res.Status != model.ReservationActive {
			return fmt.Errorf("%w: reservation is %s", model.ErrInvalidState, res.Status)
		}
		now := f.clock.Now()
		if res.Expired(now) {
			return model.ErrReservationExpired
		}

		sale := model.Sale{
			ID:               uuid.NewString(),
			ReservationID:    res.ID,
			EventID:          tt.EventID,
			TicketTypeID:     tt.ID,
			OwnerID:          in.OwnerID,
			Quantity:         res.Quantity,
			PaymentReference: in.PaymentReference,
			Status:           model.SaleFinalized,
			CreatedAt:        now,
		}
		if err := f.store.CreateSale(ctx, sale); err != nil {
			return err
		}
		tickets := make([]model.Ticket, res.Quantity)
		for i := range tickets {
			tickets[i] = model.Ticket{
				ID:               uuid.NewString(),
				TicketTypeID:     tt.ID,
				EventID:          tt.EventID,
				OwnerID:          in.OwnerID,
				SaleID:           sale.ID,
				Status:           model.TicketActive,
				CredentialStatus: model.CredentialPending,
				CreatedAt:        now,
			}
		}
		if err := f.store.CreateTickets(ctx, tickets); err != nil {
			return err
		}
		if err := f.reservations.ConvertToSale(ctx, res.ID, sale.ID); err != nil {
			return err
		}
		if err := f.store.ConvertReservedToSold(ctx, tt.ID, res.Quantity); err != nil {
			return err
		}
		out = FinalizeResult{Sale: sale, Tickets: tickets}
		return nil
	})
	if err != nil {
		monitoring.ReservationOp("finalize", resultLabel(err))
		return FinalizeResult{}, err
	}
	monitoring.ReservationOp("finalize", "ok")
	if out.Replayed {
		return out, nil
	}
	monitoring.SaleFinalized()
	f.logger.Info().Str("sale_id", out.Sale.ID).Str("reservation_id", in.ReservationID).
		Int("quantity", out.Sale.Quantity).Msg("sale finalized")
	f.announce(ctx, out)
	return out, nil
}

// announce hands the committed sale to the publisher.  The sale is already
// durable, so a publish failure is only logged; issuance can be retried
// through the credential endpoint.
func (f *SaleFinalizer) announce(ctx context.Context, out FinalizeResult) {
	if f.publisher == nil {
		return
	}
	ids := make([]string, len(out.Tickets))
	for i, t := range out.Tickets {
		ids[i] = t.ID
	}
	ev := queue.SaleFinalizedEvent{
		SaleID:           out.Sale.ID,
		ReservationID:    out.Sale.ReservationID,
		EventID:          out.Sale.EventID,
		TicketTypeID:     out.Sale.TicketTypeID,
		OwnerID:          out.Sale.OwnerID,
		Quantity:         out.Sale.Quantity,
		PaymentReference: out.Sale.PaymentReference,
		TicketIDs:        ids,
		FinalizedAt:      out.Sale.CreatedAt,
	}
	if err := f.publisher.PublishSaleFinalized(context.WithoutCancel(ctx), ev); err != nil {
		f.logger.Error().Err(err).Str("sale_id", out.Sale.ID).Msg("publish sale.finalized failed")
	}
}
