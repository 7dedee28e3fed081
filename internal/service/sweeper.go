package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/monitoring"
)

const sweepLeaseKey = "ticketgate:sweeper"

// maxSweepBatches caps one Sweep call so a stream of new expiries cannot
// keep it running forever.
const maxSweepBatches = 20

// releaseExpiredLocked deletes the expired ACTIVE holds of a ticket type and
// returns their total quantity to the ledger.  The caller must already hold
// the ticket type lock.  It returns the quantity released.
func (s *ReservationService) releaseExpiredLocked(ctx context.Context, ticketTypeID string, now time.Time) (int, error) {
	expired, err := s.store.ListExpiredForTicketTypeForUpdate(ctx, ticketTypeID, now)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, r := range expired {
		if err := s.store.DeleteReservation(ctx, r.ID); err != nil {
			return 0, err
		}
		total += r.Quantity
	}
	if total > 0 {
		if err := s.store.AdjustReserved(ctx, ticketTypeID, -total); err != nil {
			return 0, err
		}
		monitoring.HoldsReleased("expired", total)
	}
	return total, nil
}

// Sweep releases every hold that has expired.  Each hold is released in
// its own transaction; a hold that fails is logged and skipped so one bad
// row cannot stall the rest.  Running Sweep twice releases nothing the
// second time.  It returns the number of holds released.
func (s *ReservationService) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { monitoring.ObserveSweep(time.Since(start).Seconds()) }()

	released := 0
	for batch := 0; batch < maxSweepBatches; batch++ {
		expired, err := s.store.ListExpiredReservations(ctx, s.clock.Now(), s.limits.SweepBatch)
		if err != nil {
			return released, err
		}
		failed := 0
		for _, r := range expired {
			ok, err := s.releaseOne(ctx, r.ID)
			if err != nil {
				failed++
				s.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("sweep: release failed")
				continue
			}
			if ok {
				released++
			}
		}
		if len(expired) < s.limits.SweepBatch || failed > 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return released, err
		}
	}
	if released > 0 {
		s.logger.Info().Int("released", released).Msg("sweep finished")
	}
	return released, nil
}

// SweepTicketType releases the expired holds of one ticket type and returns
// the quantity released.
func (s *ReservationService) SweepTicketType(ctx context.Context, ticketTypeID string) (int, error) {
	var released int
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetTicketTypeForUpdate(ctx, ticketTypeID); err != nil {
			return err
		}
		var err error
		released, err = s.releaseExpiredLocked(ctx, ticketTypeID, s.clock.Now())
		return err
	})
	return released, err
}

// releaseOne re-checks a sweep candidate under lock and releases it if it
// is still ACTIVE and expired.
func (s *ReservationService) releaseOne(ctx context.Context, id string) (bool, error) {
	released := false
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		released = false
		res, err := s.store.GetReservation(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := s.store.GetTicketTypeForUpdate(ctx, res.TicketTypeID); err != nil {
			return err
		}
		res, err = s.store.GetReservationForUpdate(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if res.Status != model.ReservationActive || !res.Expired(s.clock.Now()) {
			return nil
		}
		if err := s.store.AdjustReserved(ctx, res.TicketTypeID, -res.Quantity); err != nil {
			return err
		}
		if err := s.store.DeleteReservation(ctx, id); err != nil {
			return err
		}
		monitoring.HoldsReleased("expired", res.Quantity)
		released = true
		return nil
	})
	return released, err
}

// RunSweeper calls Sweep every interval until ctx is cancelled.  When lease
// is non-nil only the replica holding the lease sweeps on a given tick.
func (s *ReservationService) RunSweeper(ctx context.Context, interval, leaseTTL time.Duration, lease Lease) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepTick(ctx, leaseTTL, lease)
		}
	}
}

func (s *ReservationService) sweepTick(ctx context.Context, leaseTTL time.Duration, lease Lease) {
	if lease != nil {
		ok, err := lease.Acquire(ctx, sweepLeaseKey, leaseTTL)
		if err != nil {
			s.logger.Warn().Err(err).Msg("sweeper: lease unavailable, sweeping anyway")
		} else if !ok {
			return
		} else {
			defer func() {
				if err := lease.Release(context.WithoutCancel(ctx), sweepLeaseKey); err != nil {
					s.logger.Warn().Err(err).Msg("sweeper: lease release failed")
				}
			}()
		}
	}
	if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("sweeper: sweep failed")
	}
}
