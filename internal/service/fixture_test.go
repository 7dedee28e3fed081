package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-gate/internal/clock"
	"github.com/iliyamo/ticket-gate/internal/credential"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/queue"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

const (
	eventID   = "ev-1"
	organizer = "org-1"
	ttMain    = "tt-1"
	ttSide    = "tt-2"
	sessionA  = "session-a"
	sessionB  = "session-b"
	grace     = 12 * time.Hour
)

type capturePublisher struct {
	mu     sync.Mutex
	events []queue.SaleFinalizedEvent
	err    error
}

func (p *capturePublisher) PublishSaleFinalized(_ context.Context, ev queue.SaleFinalizedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	store     *memStore
	clock     *clock.Fake
	sealer    *credential.Sealer
	res       *ReservationService
	finalizer *SaleFinalizer
	issuer    *CredentialIssuer
	audit     *ScanAuditor
	verifier  *CredentialVerifier
	published *capturePublisher
}

// newFixture seeds one published event with two ticket types of the given
// capacity and wires every service over a memStore.
func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	st := newMemStore()
	st.addEvent(model.Event{
		ID:          eventID,
		OrganizerID: organizer,
		Name:        "Summer Open Air",
		Status:      model.EventPublished,
		StartsAt:    t0.Add(48 * time.Hour),
		EndsAt:      t0.Add(52 * time.Hour),
	})
	st.addTicketType(model.TicketType{ID: ttMain, EventID: eventID, Name: "General", TotalCapacity: capacity})
	st.addTicketType(model.TicketType{ID: ttSide, EventID: eventID, Name: "VIP", TotalCapacity: capacity})

	clk := clock.NewFake(t0)
	sealer, err := credential.NewSealer(bytes.Repeat([]byte{7}, credential.KeySize))
	require.NoError(t, err)
	log := zerolog.Nop()

	f := &fixture{store: st, clock: clk, sealer: sealer, published: &capturePublisher{}}
	f.res = NewReservationService(st, clk, log, DefaultHoldLimits)
	f.finalizer = NewSaleFinalizer(st, f.res, f.published, clk, log)
	f.issuer = NewCredentialIssuer(st, sealer, credential.NewRenderer(128), clk, log, grace)
	f.audit = NewScanAuditor(st, nil, clk, log)
	f.verifier = NewCredentialVerifier(st, sealer, f.audit, clk, log)
	return f
}

func (f *fixture) hold(t *testing.T, session, ticketType string, qty int) model.Reservation {
	t.Helper()
	r, err := f.res.Create(context.Background(), CreateInput{SessionID: session, TicketTypeID: ticketType, Quantity: qty})
	require.NoError(t, err)
	return r
}

func (f *fixture) available(t *testing.T, ticketType string) int {
	t.Helper()
	a, err := f.res.AvailableCount(context.Background(), ticketType)
	require.NoError(t, err)
	return a.Available
}

// purchase holds and finalizes qty tickets for owner and returns them.
func (f *fixture) purchase(t *testing.T, session, owner string, qty int) []model.Ticket {
	t.Helper()
	r := f.hold(t, session, ttMain, qty)
	out, err := f.finalizer.Finalize(context.Background(), FinalizeInput{
		ReservationID:    r.ID,
		PaymentReference: "pay-" + r.ID,
		OwnerID:          owner,
	})
	require.NoError(t, err)
	return out.Tickets
}

// issuedTicket returns a ticket with an ACTIVE credential.
func (f *fixture) issuedTicket(t *testing.T) model.Ticket {
	t.Helper()
	tickets := f.purchase(t, sessionA, "buyer-1", 1)
	tk, err := f.issuer.IssueTicketCredential(context.Background(), tickets[0].ID)
	require.NoError(t, err)
	return tk
}
