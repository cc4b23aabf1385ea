package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InventoryReserveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_inventory_reserve_total",
			Help: "Stock reservations by result",
		},
		[]string{"result"},
	)

	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_payment_transitions_total",
			Help: "Committed payment state transitions",
		},
		[]string{"provider", "from", "to"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_provider_call_duration_seconds",
			Help:    "Latency of payment provider calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider", "operation", "status"},
	)

	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_tickets_issued_total",
			Help: "Tickets materialized",
		},
	)

	ConfirmedRevenue = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_confirmed_revenue_total",
			Help: "Expected amount of confirmed payments, in whole currency units",
		},
		[]string{"provider"},
	)

	Redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_redemptions_total",
			Help: "Ticket scans by outcome",
		},
		[]string{"outcome"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_jobs_processed_total",
			Help: "Background jobs by kind and result",
		},
		[]string{"kind", "result"},
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketing_jobs_in_flight",
			Help: "Jobs currently executing",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
