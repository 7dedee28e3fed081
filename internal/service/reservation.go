package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/ticket-gate/internal/clock"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/monitoring"
)

// HoldLimits bounds what a buyer may request.
type HoldLimits struct {
	DefaultTTL  time.Duration
	MaxTTL      time.Duration
	MaxQuantity int
	SweepBatch  int
}

// DefaultHoldLimits are used for zero fields of the limits passed to
// NewReservationService.
var DefaultHoldLimits = HoldLimits{
	DefaultTTL:  10 * time.Minute,
	MaxTTL:      30 * time.Minute,
	MaxQuantity: 10,
	SweepBatch:  500,
}

// ReservationService places, extends, releases and sweeps holds.  All
// counter changes happen under the ticket type row lock, which is always
// taken before the hold row lock.
type ReservationService struct {
	store  InventoryStore
	clock  clock.Clock
	logger zerolog.Logger
	limits HoldLimits
}

// NewReservationService builds the reservation manager.
func NewReservationService(store InventoryStore, clk clock.Clock, logger zerolog.Logger, limits HoldLimits) *ReservationService {
	if limits.DefaultTTL <= 0 {
		limits.DefaultTTL = DefaultHoldLimits.DefaultTTL
	}
	if limits.MaxTTL < limits.DefaultTTL {
		limits.MaxTTL = limits.DefaultTTL
	}
	if limits.MaxQuantity <= 0 {
		limits.MaxQuantity = DefaultHoldLimits.MaxQuantity
	}
	if limits.SweepBatch <= 0 {
		limits.SweepBatch = DefaultHoldLimits.SweepBatch
	}
	return &ReservationService{
		store:  store,
		clock:  clk,
		logger: logger.With().Str("component", "reservations").Logger(),
		limits: limits,
	}
}

// CreateInput describes a hold request.  A zero TTL selects the default.
type CreateInput struct {
	SessionID    string
	TicketTypeID string
	Quantity     int
	TTL          time.Duration
}

// ReservationView is a hold plus its countdown as seen at read time.
type ReservationView struct {
	Reservation      model.Reservation `json:"reservation"`
	RemainingSeconds int64             `json:"remaining_seconds"`
	IsExpired        bool              `json:"is_expired"`
}

// ReservationPage is one page of a session's live holds.
type ReservationPage struct {
	Items      []ReservationView `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"total_pages"`
}

// BulkItem is one line of a bulk hold request.
type BulkItem struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

// BulkFailure reports why one line of a bulk request was not held.
type BulkFailure struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

// BulkResult splits a bulk request into held and rejected lines.
type BulkResult struct {
	Successful []model.Reservation `json:"successful"`
	Failed     []BulkFailure       `json:"failed"`
}

// Create places a hold of in.Quantity tickets for in.SessionID.  Expired
// holds of the same ticket type are released first, in the same
// transaction, so they neither block the duplicate check nor consume
// availability.
func (s *ReservationService) Create(ctx context.Context, in CreateInput) (model.Reservation, error) {
	res, err := s.create(ctx, in)
	monitoring.ReservationOp("create", resultLabel(err))
	return res, err
}

func (s *ReservationService) create(ctx context.Context, in CreateInput) (model.Reservation, error) {
	if in.SessionID == "" || in.TicketTypeID == "" {
		return model.Reservation{}, fmt.Errorf("%w: session and ticket type are required", model.ErrInvalidInput)
	}
	if in.Quantity < 1 || in.Quantity > s.limits.MaxQuantity {
		return model.Reservation{}, fmt.Errorf("%w: quantity must be between 1 and %d", model.ErrInvalidInput, s.limits.MaxQuantity)
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = s.limits.DefaultTTL
	}
	if ttl < time.Minute || ttl > s.limits.MaxTTL {
		return model.Reservation{}, fmt.Errorf("%w: ttl must be between 1m and %s", model.ErrInvalidInput, s.limits.MaxTTL)
	}

	var out model.Reservation
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		tt, err := s.store.GetTicketTypeForUpdate(ctx, in.TicketTypeID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		released, err := s.releaseExpiredLocked(ctx, tt.ID, now)
		if err != nil {
			return err
		}
		if released > 0 {
			if tt, err = s.store.GetTicketType(ctx, tt.ID); err != nil {
				return err
			}
		}

		ev, err := s.store.GetEvent(ctx, tt.EventID)
		if err != nil {
			return err
		}
		if !ev.Bookable(now) {
			return model.ErrEventNotBookable
		}

		if _, err := s.store.FindActiveReservation(ctx, in.SessionID, tt.ID); err == nil {
			return model.ErrDuplicateHold
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		if tt.Available() < in.Quantity {
			return model.ErrOutOfStock
		}
		if err := s.store.AdjustReserved(ctx, tt.ID, in.Quantity); err != nil {
			return err
		}

		out = model.Reservation{
			ID:           uuid.NewString(),
			SessionID:    in.SessionID,
			TicketTypeID: tt.ID,
			Quantity:     in.Quantity,
			Status:       model.ReservationActive,
			ExpiresAt:    now.Add(ttl),
			Metadata: model.ReservationMetadata{
				EventID:        ev.ID,
				EventName:      ev.Name,
				EventStartsAt:  ev.StartsAt,
				TicketTypeName: tt.Name,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.store.CreateReservation(ctx, out)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	s.logger.Debug().Str("reservation_id", out.ID).Str("ticket_type_id", out.TicketTypeID).
		Int("quantity", out.Quantity).Time("expires_at", out.ExpiresAt).Msg("hold created")
	return out, nil
}

// Get returns a hold owned by sessionID together with its countdown.
func (s *ReservationService) Get(ctx context.Context, id, sessionID string) (ReservationView, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return ReservationView{}, err
	}
	if res.SessionID != sessionID {
		return ReservationView{}, model.ErrForbidden
	}
	return s.view(res), nil
}

// ListActive pages through the session's live holds.  page starts at 1;
// limit is clamped to [1, 100] and defaults to 20.
func (s *ReservationService) ListActive(ctx context.Context, sessionID string, page, limit int) (ReservationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	items, total, err := s.store.ListLiveReservations(ctx, sessionID, s.clock.Now(), limit, (page-1)*limit)
	if err != nil {
		return ReservationPage{}, err
	}
	out := ReservationPage{
		Items:      make([]ReservationView, 0, len(items)),
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
	for _, r := range items {
		out.Items = append(out.Items, s.view(r))
	}
	return out, nil
}

// Cancel releases an ACTIVE hold back to inventory and marks it CANCELLED.
func (s *ReservationService) Cancel(ctx context.Context, id, sessionID string) error {
	err := s.release(ctx, id, sessionID, false)
	monitoring.ReservationOp("cancel", resultLabel(err))
	return err
}

// Delete releases an ACTIVE hold and removes the row.
func (s *ReservationService) Delete(ctx context.Context, id, sessionID string) error {
	err := s.release(ctx, id, sessionID, true)
	monitoring.ReservationOp("delete", resultLabel(err))
	return err
}

func (s *ReservationService) release(ctx context.Context, id, sessionID string, remove bool) error {
	var qty int
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.SessionID != sessionID {
			return model.ErrForbidden
		}
		if _, err := s.store.GetTicketTypeForUpdate(ctx, res.TicketTypeID); err != nil {
			return err
		}
		if res, err = s.store.GetReservationForUpdate(ctx, id); err != nil {
			return err
		}
		if res.Status != model.ReservationActive {
			return fmt.Errorf("%w: reservation is %s", model.ErrInvalidState, res.Status)
		}
		if err := s.store.AdjustReserved(ctx, res.TicketTypeID, -res.Quantity); err != nil {
			return err
		}
		qty = res.Quantity
		if remove {
			return s.store.DeleteReservation(ctx, id)
		}
		return s.store.SetReservationStatus(ctx, id, model.ReservationCancelled, nil, s.clock.Now())
	})
	if err != nil {
		return err
	}
	monitoring.HoldsReleased("cancelled", qty)
	return nil
}

// DeleteBySession removes the session's ACTIVE holds, or only those listed
// in ids when ids is non-empty.  Each hold is released in its own
// transaction; holds that stopped being ACTIVE meanwhile are skipped.  It
// returns how many holds were removed.
func (s *ReservationService) DeleteBySession(ctx context.Context, sessionID string, ids []string) (int, error) {
	holds, err := s.store.ListActiveReservationsBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	removed := 0
	for _, h := range holds {
		if len(want) > 0 && !want[h.ID] {
			continue
		}
		err := s.release(ctx, h.ID, sessionID, true)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidState):
		default:
			return removed, err
		}
	}
	monitoring.ReservationOp("delete_by_session", resultLabel(nil))
	return removed, nil
}

// Extend pushes the expiry of a live hold out by extra.  The total lifetime
// of a hold never exceeds the configured maximum TTL.
func (s *ReservationService) Extend(ctx context.Context, id, sessionID string, extra time.Duration) (model.Reservation, error) {
	if extra < time.Minute {
		return model.Reservation{}, fmt.Errorf("%w: extension must be at least one minute", model.ErrInvalidInput)
	}
	var out model.Reservation
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.store.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.SessionID != sessionID {
			return model.ErrForbidden
		}
		if res.Status != model.ReservationActive {
			return fmt.Errorf("%w: reservation is %s", model.ErrInvalidState, res.Status)
		}
		now := s.clock.Now()
		if res.Expired(now) {
			return model.ErrReservationExpired
		}
		next := res.ExpiresAt.Add(extra)
		if ceiling := res.CreatedAt.Add(s.limits.MaxTTL); next.After(ceiling) {
			next = ceiling
		}
		if !next.After(res.ExpiresAt) {
			return fmt.Errorf("%w: hold already at its maximum lifetime", model.ErrInvalidInput)
		}
		if err := s.store.SetReservationExpiry(ctx, id, next, now); err != nil {
			return err
		}
		res.ExpiresAt = next
		res.UpdatedAt = now
		out = res
		return nil
	})
	monitoring.ReservationOp("extend", resultLabel(err))
	return out, err
}

// ConvertToSale marks an ACTIVE hold CONVERTED and links it to saleID.  It
// does not touch the ledger; the finalizer moves the counters in the same
// transaction.
func (s *ReservationService) ConvertToSale(ctx context.Context, id, saleID string) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.store.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != model.ReservationActive {
			return fmt.Errorf("%w: reservation is %s", model.ErrInvalidState, res.Status)
		}
		return s.store.SetReservationStatus(ctx, id, model.ReservationConverted, &saleID, s.clock.Now())
	})
}

// AvailableCount returns the ledger of a ticket type after releasing its
// expired holds.
func (s *ReservationService) AvailableCount(ctx context.Context, ticketTypeID string) (model.Availability, error) {
	var tt model.TicketType
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if tt, err = s.store.GetTicketTypeForUpdate(ctx, ticketTypeID); err != nil {
			return err
		}
		released, err := s.releaseExpiredLocked(ctx, tt.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if released > 0 {
			tt, err = s.store.GetTicketType(ctx, tt.ID)
		}
		return err
	})
	if err != nil {
		return model.Availability{}, err
	}
	return model.Availability{
		TicketTypeID: tt.ID,
		Total:        tt.TotalCapacity,
		Sold:         tt.SoldCount,
		Reserved:     tt.ReservedCount,
		Available:    tt.Available(),
	}, nil
}

// BulkCreate places one hold per item.  Items are independent: a failed
// item does not undo the others.
func (s *ReservationService) BulkCreate(ctx context.Context, sessionID string, items []BulkItem, ttl time.Duration) (BulkResult, error) {
	if len(items) == 0 {
		return BulkResult{}, fmt.Errorf("%w: no items", model.ErrInvalidInput)
	}
	out := BulkResult{Successful: []model.Reservation{}, Failed: []BulkFailure{}}
	for _, it := range items {
		res, err := s.Create(ctx, CreateInput{
			SessionID:    sessionID,
			TicketTypeID: it.TicketTypeID,
			Quantity:     it.Quantity,
			TTL:          ttl,
		})
		if err != nil {
			if model.Code(err) == "INTERNAL" {
				s.logger.Error().Err(err).Str("ticket_type_id", it.TicketTypeID).Msg("bulk hold failed")
			}
			out.Failed = append(out.Failed, BulkFailure{
				TicketTypeID: it.TicketTypeID,
				Quantity:     it.Quantity,
				Code:         model.Code(err),
				Message:      err.Error(),
			})
			continue
		}
		out.Successful = append(out.Successful, res)
	}
	return out, nil
}

func (s *ReservationService) view(r model.Reservation) ReservationView {
	now := s.clock.Now()
	v := ReservationView{Reservation: r, IsExpired: r.Expired(now)}
	if r.Status == model.ReservationActive {
		v.RemainingSeconds = clock.Remaining(s.clock, r.ExpiresAt)
	}
	return v
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return model.Code(err)
}
