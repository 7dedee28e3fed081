// Package monitoring exposes the Prometheus collectors for the reservation
// and credential engines.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketgate_reservation_operations_total",
			Help: "Reservation operations by kind and outcome",
		},
		[]string{"operation", "result"},
	)

	holdsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketgate_holds_released_total",
			Help: "Tickets returned to inventory by reason",
		},
		[]string{"reason"},
	)

	salesFinalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketgate_sales_finalized_total",
			Help: "Sales committed by the finalizer",
		},
	)

	credentialsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketgate_credentials_issued_total",
			Help: "Credentials minted by kind",
		},
		[]string{"kind"},
	)

	scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketgate_scans_total",
			Help: "Verification attempts by credential kind and result",
		},
		[]string{"kind", "result"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketgate_sweep_duration_seconds",
			Help:    "Duration of expired-hold sweeps",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
)

// ReservationOp records the outcome of a reservation operation.  result is
// "ok" or an error code.
func ReservationOp(operation, result string) {
	reservationOps.WithLabelValues(operation, result).Inc()
}

// HoldsReleased records quantity tickets returned to inventory.
func HoldsReleased(reason string, quantity int) {
	holdsReleased.WithLabelValues(reason).Add(float64(quantity))
}

// SaleFinalized counts a committed sale.
func SaleFinalized() { salesFinalized.Inc() }

// CredentialIssued counts a minted credential.
func CredentialIssued(kind string) { credentialsIssued.WithLabelValues(kind).Inc() }

// Scan records one verification attempt.
func Scan(kind, result string) { scans.WithLabelValues(kind, result).Inc() }

// ObserveSweep records how long a sweep took, in seconds.
func ObserveSweep(seconds float64) { sweepDuration.Observe(seconds) }
