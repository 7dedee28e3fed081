package handler

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/service"
)

type reservationsMock struct{ mock.Mock }

func (m *reservationsMock) Create(ctx context.Context, in service.CreateInput) (model.Reservation, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(model.Reservation), args.Error(1)
}

func (m *reservationsMock) Get(ctx context.Context, id, sessionID string) (service.ReservationView, error) {
	args := m.Called(ctx, id, sessionID)
	return args.Get(0).(service.ReservationView), args.Error(1)
}

func (m *reservationsMock) ListActive(ctx context.Context, sessionID string, page, limit int) (service.ReservationPage, error) {
	args := m.Called(ctx, sessionID, page, limit)
	return args.Get(0).(service.ReservationPage), args.Error(1)
}

func (m *reservationsMock) Cancel(ctx context.Context, id, sessionID string) error {
	return m.Called(ctx, id, sessionID).Error(0)
}

func (m *reservationsMock) Delete(ctx context.Context, id, sessionID string) error {
	return m.Called(ctx, id, sessionID).Error(0)
}

func (m *reservationsMock) DeleteBySession(ctx context.Context, sessionID string, ids []string) (int, error) {
	args := m.Called(ctx, sessionID, ids)
	return args.Int(0), args.Error(1)
}

func (m *reservationsMock) Extend(ctx context.Context, id, sessionID string, extra time.Duration) (model.Reservation, error) {
	args := m.Called(ctx, id, sessionID, extra)
	return args.Get(0).(model.Reservation), args.Error(1)
}

func (m *reservationsMock) BulkCreate(ctx context.Context, sessionID string, items []service.BulkItem, ttl time.Duration) (service.BulkResult, error) {
	args := m.Called(ctx, sessionID, items, ttl)
	return args.Get(0).(service.BulkResult), args.Error(1)
}

func (m *reservationsMock) AvailableCount(ctx context.Context, ticketTypeID string) (model.Availability, error) {
	args := m.Called(ctx, ticketTypeID)
	return args.Get(0).(model.Availability), args.Error(1)
}

type finalizerMock struct{ mock.Mock }

func (m *finalizerMock) Finalize(ctx context.Context, in service.FinalizeInput) (service.FinalizeResult, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(service.FinalizeResult), args.Error(1)
}

type sweeperMock struct{ mock.Mock }

func (m *sweeperMock) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// credentialsMock also serves as TicketIssuer.
type credentialsMock struct{ mock.Mock }

func (m *credentialsMock) IssueTicketCredential(ctx context.Context, ticketID string) (model.Ticket, error) {
	args := m.Called(ctx, ticketID)
	return args.Get(0).(model.Ticket), args.Error(1)
}

func (m *credentialsMock) TicketCredentialImage(ctx context.Context, ticketID, ownerID string) ([]byte, error) {
	args := m.Called(ctx, ticketID, ownerID)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *credentialsMock) IssueWristbandCredential(ctx context.Context, def model.WristbandDefinition) (model.Wristband, error) {
	args := m.Called(ctx, def)
	return args.Get(0).(model.Wristband), args.Error(1)
}

func (m *credentialsMock) GetWristband(ctx context.Context, id, organizerID string) (model.Wristband, error) {
	args := m.Called(ctx, id, organizerID)
	return args.Get(0).(model.Wristband), args.Error(1)
}

func (m *credentialsMock) RevokeWristband(ctx context.Context, id, organizerID string) error {
	return m.Called(ctx, id, organizerID).Error(0)
}

func (m *credentialsMock) DeleteWristband(ctx context.Context, id, organizerID string) error {
	return m.Called(ctx, id, organizerID).Error(0)
}

type verifierMock struct{ mock.Mock }

func (m *verifierMock) VerifyAndConsume(ctx context.Context, in service.VerifyInput) (service.VerifyResult, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(service.VerifyResult), args.Error(1)
}

type scansMock struct{ mock.Mock }

func (m *scansMock) ListScans(ctx context.Context, credentialID, organizerID string, limit int) ([]model.ScanLogEntry, error) {
	args := m.Called(ctx, credentialID, organizerID, limit)
	entries, _ := args.Get(0).([]model.ScanLogEntry)
	return entries, args.Error(1)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }
