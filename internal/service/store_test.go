package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/ticket-gate/internal/model"
)

type txFlag struct{}

// memStore is an in-memory CredentialStore and SaleStore.  One mutex
// serializes transactions; calls made outside a transaction run as their
// own.  A failed transaction restores the snapshot taken when it began.
type memStore struct {
	mu sync.Mutex

	events       map[string]model.Event
	ticketTypes  map[string]model.TicketType
	reservations map[string]model.Reservation
	sales        map[string]model.Sale
	tickets      map[string]model.Ticket
	wristbands   map[string]model.Wristband
	scans        []model.ScanLogEntry

	failDelete map[string]error
	txCount    int
}

func newMemStore() *memStore {
	return &memStore{
		events:       map[string]model.Event{},
		ticketTypes:  map[string]model.TicketType{},
		reservations: map[string]model.Reservation{},
		sales:        map[string]model.Sale{},
		tickets:      map[string]model.Ticket{},
		wristbands:   map[string]model.Wristband{},
		failDelete:   map[string]error{},
	}
}

type memSnapshot struct {
	ticketTypes  map[string]model.TicketType
	reservations map[string]model.Reservation
	sales        map[string]model.Sale
	tickets      map[string]model.Ticket
	wristbands   map[string]model.Wristband
	scans        []model.ScanLogEntry
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) snapshot() memSnapshot {
	return memSnapshot{
		ticketTypes:  copyMap(m.ticketTypes),
		reservations: copyMap(m.reservations),
		sales:        copyMap(m.sales),
		tickets:      copyMap(m.tickets),
		wristbands:   copyMap(m.wristbands),
		scans:        append([]model.ScanLogEntry(nil), m.scans...),
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.ticketTypes = s.ticketTypes
	m.reservations = s.reservations
	m.sales = s.sales
	m.tickets = s.tickets
	m.wristbands = s.wristbands
	m.scans = s.scans
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txFlag{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, txFlag{}, true)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) auto(ctx context.Context, fn func() error) error {
	return m.WithTx(ctx, func(context.Context) error { return fn() })
}

// seeding and inspection helpers, used outside of transactions

func (m *memStore) addEvent(ev model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
}

func (m *memStore) addTicketType(tt model.TicketType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticketTypes[tt.ID] = tt
}

func (m *memStore) ticketType(id string) model.TicketType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticketTypes[id]
}

func (m *memStore) reservationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reservations)
}

func (m *memStore) scanLog() []model.ScanLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ScanLogEntry(nil), m.scans...)
}

func (m *memStore) ticket(id string) model.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickets[id]
}

func (m *memStore) wristband(id string) model.Wristband {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wristbands[id]
}

func (m *memStore) setTicket(t model.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t
}

// EventReader

func (m *memStore) GetEvent(ctx context.Context, id string) (ev model.Event, err error) {
	err = m.auto(ctx, func() error {
		var ok bool
		if ev, ok = m.events[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return ev, err
}

// LedgerStore

func (m *memStore) GetTicketType(ctx context.Context, id string) (tt model.TicketType, err error) {
	err = m.auto(ctx, func() error {
		var ok bool
		if tt, ok = m.ticketTypes[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return tt, err
}

func (m *memStore) GetTicketTypeForUpdate(ctx context.Context, id string) (model.TicketType, error) {
	return m.GetTicketType(ctx, id)
}

func (m *memStore) AdjustReserved(ctx context.Context, id string, delta int) error {
	return m.auto(ctx, func() error {
		tt, ok := m.ticketTypes[id]
		if !ok {
			return model.ErrNotFound
		}
		next := tt.ReservedCount + delta
		if next < 0 {
			return model.ErrInvalidState
		}
		if delta > 0 && tt.SoldCount+next > tt.TotalCapacity {
			return model.ErrOutOfStock
		}
		tt.ReservedCount = next
		m.ticketTypes[id] = tt
		return nil
	})
}

func (m *memStore) ConvertReservedToSold(ctx context.Context, id string, qty int) error {
	return m.auto(ctx, func() error {
		tt, ok := m.ticketTypes[id]
		if !ok {
			return model.ErrNotFound
		}
		if tt.ReservedCount < qty || tt.SoldCount+qty > tt.TotalCapacity {
			return model.ErrInvalidState
		}
		tt.ReservedCount -= qty
		tt.SoldCount += qty
		m.ticketTypes[id] = tt
		return nil
	})
}

// HoldStore

func (m *memStore) CreateReservation(ctx context.Context, r model.Reservation) error {
	return m.auto(ctx, func() error {
		for _, o := range m.reservations {
			if o.Status == model.ReservationActive && o.SessionID == r.SessionID && o.TicketTypeID == r.TicketTypeID {
				return model.ErrDuplicateHold
			}
		}
		m.reservations[r.ID] = r
		return nil
	})
}

func (m *memStore) GetReservation(ctx context.Context, id string) (r model.Reservation, err error) {
	err = m.auto(ctx, func() error {
		var ok bool
		if r, ok = m.reservations[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return r, err
}

func (m *memStore) GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error) {
	return m.GetReservation(ctx, id)
}

func (m *memStore) FindActiveReservation(ctx context.Context, sessionID, ticketTypeID string) (r model.Reservation, err error) {
	err = m.auto(ctx, func() error {
		for _, o := range m.reservations {
			if o.Status == model.ReservationActive && o.SessionID == sessionID && o.TicketTypeID == ticketTypeID {
				r = o
				return nil
			}
		}
		return model.ErrNotFound
	})
	return r, err
}

func (m *memStore) filterReservations(keep func(model.Reservation) bool, less func(a, b model.Reservation) bool) []model.Reservation {
	out := []model.Reservation{}
	for _, r := range m.reservations {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byID(a, b model.Reservation) bool { return a.ID < b.ID }

func (m *memStore) ListLiveReservations(ctx context.Context, sessionID string, now time.Time, limit, offset int) (items []model.Reservation, total int, err error) {
	err = m.auto(ctx, func() error {
		all := m.filterReservations(func(r model.Reservation) bool {
			return r.SessionID == sessionID && r.Live(now)
		}, func(a, b model.Reservation) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID < b.ID
		})
		total = len(all)
		if offset >= total {
			items = []model.Reservation{}
			return nil
		}
		end := offset + limit
		if end > total {
			end = total
		}
		items = all[offset:end]
		return nil
	})
	return items, total, err
}

func (m *memStore) ListActiveReservationsBySession(ctx context.Context, sessionID string) (out []model.Reservation, err error) {
	err = m.auto(ctx, func() error {
		out = m.filterReservations(func(r model.Reservation) bool {
			return r.SessionID == sessionID && r.Status == model.ReservationActive
		}, byID)
		return nil
	})
	return out, err
}

func (m *memStore) ListExpiredReservations(ctx context.Context, now time.Time, limit int) (out []model.Reservation, err error) {
	err = m.auto(ctx, func() error {
		out = m.filterReservations(func(r model.Reservation) bool {
			return r.Status == model.ReservationActive && r.Expired(now)
		}, func(a, b model.Reservation) bool {
			if !a.ExpiresAt.Equal(b.ExpiresAt) {
				return a.ExpiresAt.Before(b.ExpiresAt)
			}
			return a.ID < b.ID
		})
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (m *memStore) ListExpiredForTicketTypeForUpdate(ctx context.Context, ticketTypeID string, now time.Time) (out []model.Reservation, err error) {
	err = m.auto(ctx, func() error {
		out = m.filterReservations(func(r model.Reservation) bool {
			return r.TicketTypeID == ticketTypeID && r.Status == model.ReservationActive && r.Expired(now)
		}, byID)
		return nil
	})
	return out, err
}

func (m *memStore) SetReservationStatus(ctx context.Context, id, status string, saleID *string, now time.Time) error {
	return m.auto(ctx, func() error {
		r, ok := m.reservations[id]
		if !ok {
			return model.ErrNotFound
		}
		r.Status, r.SaleID, r.UpdatedAt = status, saleID, now
		m.reservations[id] = r
		return nil
	})
}

func (m *memStore) SetReservationExpiry(ctx context.Context, id string, expiresAt, now time.Time) error {
	return m.auto(ctx, func() error {
		r, ok := m.reservations[id]
		if !ok {
			return model.ErrNotFound
		}
		r.ExpiresAt, r.UpdatedAt = expiresAt, now
		m.reservations[id] = r
		return nil
	})
}

func (m *memStore) DeleteReservation(ctx context.Context, id string) error {
	return m.auto(ctx, func() error {
		if err := m.failDelete[id]; err != nil {
			return err
		}
		if _, ok := m.reservations[id]; !ok {
			return model.ErrNotFound
		}
		delete(m.reservations, id)
		return nil
	})
}

// SaleStore

func (m *memStore) CreateSale(ctx context.Context, s model.Sale) error {
	return m.auto(ctx, func() error {
		for _, o := range m.sales {
			if o.ReservationID == s.ReservationID {
				return model.ErrInvalidState
			}
		}
		m.sales[s.ID] = s
		return nil
	})
}

func (m *memStore) GetSale(ctx context.Context, id string) (s model.Sale, err error) {
	err = m.auto(ctx, func() error {
		var ok bool
		if s, ok = m.sales[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return s, err
}

func (m *memStore) GetSaleByReservation(ctx context.Context, reservationID string) (s model.Sale, err error) {
	err = m.auto(ctx, func() error {
		for _, o := range m.sales {
			if o.ReservationID == reservationID {
				s = o
				return nil
			}
		}
		return model.ErrNotFound
	})
	return s, err
}

func (m *memStore) CreateTickets(ctx context.Context, tickets []model.Ticket) error {
	return m.auto(ctx, func() error {
		for _, t := range tickets {
			m.tickets[t.ID] = t
		}
		return nil
	})
}

func (m *memStore) ListTicketsBySale(ctx context.Context, saleID string) (out []model.Ticket, err error) {
	err = m.auto(ctx, func() error {
		out = []model.Ticket{}
		for _, t := range m.tickets {
			if t.SaleID == saleID {
				out = append(out, t)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

// CredentialStore

func (m *memStore) GetTicket(ctx context.Context, id string) (t model.Ticket, err error) {
	err = m.auto(ctx, func() error {
		var ok bool
		if t, ok = m.tickets[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return t, err
}

func (m *memStore) GetTicketForUpdate(ctx context.Context, id string) (model.Ticket, error) {
	return m.GetTicket(ctx, id)
}

func (m *memStore) SaveTicketCredential(ctx context.Context, id, status, payload string, image []byte, issuedAt time.Time) error {
	return m.auto(ctx, func() error {
		t, ok := m.tickets[id]
		if !ok {
			return model.ErrNotFound
		}
		t.CredentialStatus, t.CredentialPayload, t.CredentialImage = status, payload, image
		t.CredentialIssuedAt = &issuedAt
		m.tickets[id] = t
		return nil
	})
}

func (m *memStore) MarkTicketUsed(ctx context.Context, id string, at time.Time) error {
	return m.auto(ctx, func() error {
		t, ok := m.tickets[id]
		if !ok {
			return model.ErrNotFound
		}
		if t.CheckedIn {
			return model.ErrAlreadyUsed
		}
		t.Status, t.CredentialStatus, t.CheckedIn, t.CheckInTime = model.TicketUsed, model.CredentialUsed, true, &at
		m.tickets[id] = t
		return nil
	})
}

func (m *memStore) CreateWristband(ctx context.Context, w model.Wristband) error {
	return m.auto(ctx, func() error {
		if _, ok := m.events[w.EventID]; !ok {
			return errors.New("foreign key: event")
		}
		m.wristbands[w.ID] = w
		return nil
	})
}

func (m *memStore) liveWristband(id string) (model.Wristband, error) {
	w, ok := m.wristbands[id]
	if !ok || w.DeletedAt != nil {
		return model.Wristband{}, model.ErrNotFound
	}
	return w, nil
}

func (m *memStore) GetWristband(ctx context.Context, id string) (w model.Wristband, err error) {
	err = m.auto(ctx, func() error {
		w, err = m.liveWristband(id)
		return err
	})
	return w, err
}

func (m *memStore) GetWristbandForUpdate(ctx context.Context, id string) (model.Wristband, error) {
	return m.GetWristband(ctx, id)
}

func (m *memStore) SaveWristbandCredential(ctx context.Context, id, status, payload string, image []byte, now time.Time) error {
	return m.auto(ctx, func() error {
		w, err := m.liveWristband(id)
		if err != nil {
			return err
		}
		w.Status, w.CredentialPayload, w.CredentialImage = status, payload, image
		m.wristbands[id] = w
		return nil
	})
}

func (m *memStore) IncrementWristbandScan(ctx context.Context, id string, now time.Time) error {
	return m.auto(ctx, func() error {
		w, err := m.liveWristband(id)
		if err != nil {
			return err
		}
		if w.MaxScans != nil && w.ScanCount >= *w.MaxScans {
			return model.ErrScanLimitExceeded
		}
		w.ScanCount++
		m.wristbands[id] = w
		return nil
	})
}

func (m *memStore) SetWristbandStatus(ctx context.Context, id, status string, now time.Time) error {
	return m.auto(ctx, func() error {
		w, err := m.liveWristband(id)
		if err != nil {
			return err
		}
		w.Status = status
		m.wristbands[id] = w
		return nil
	})
}

func (m *memStore) SoftDeleteWristband(ctx context.Context, id, deletedBy string, now time.Time) error {
	return m.auto(ctx, func() error {
		w, err := m.liveWristband(id)
		if err != nil {
			return err
		}
		w.Status = model.CredentialRevoked
		w.DeletedAt, w.DeletedBy = &now, &deletedBy
		m.wristbands[id] = w
		return nil
	})
}

// ScanLogStore

// AppendScanLog rejects values wider than their scan_logs column, as MySQL
// does in strict mode.
func (m *memStore) AppendScanLog(ctx context.Context, e model.ScanLogEntry) error {
	for _, f := range []struct {
		v string
		n int
	}{{e.ScannedBy, 64}, {e.Location, 128}, {e.Device, 128}, {e.Notes, 512}} {
		if utf8.RuneCountInString(f.v) > f.n {
			return errors.New("data too long for scan_logs column")
		}
	}
	return m.auto(ctx, func() error {
		m.scans = append(m.scans, e)
		return nil
	})
}

func (m *memStore) ListScanLogs(ctx context.Context, credentialID string, limit int) (out []model.ScanLogEntry, err error) {
	err = m.auto(ctx, func() error {
		out = []model.ScanLogEntry{}
		for _, e := range m.scans {
			if e.CredentialID != nil && *e.CredentialID == credentialID {
				out = append(out, e)
			}
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

var (
	_ SaleStore       = (*memStore)(nil)
	_ CredentialStore = (*memStore)(nil)
)
