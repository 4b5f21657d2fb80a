package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	bookingTransitions *prometheus.CounterVec
	payoutRuns         *prometheus.CounterVec
	payoutRunDuration  prometheus.Histogram
	payoutsGenerated   prometheus.Counter
	payoutAmount       prometheus.Counter
	payoutGroupErrors  prometheus.Counter
	refunds            *prometheus.CounterVec
}

// New creates and registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "transitions_total",
			Help:      "Booking status transitions by target status.",
		}, []string{"to"}),
		payoutRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "payout_runs_total",
			Help:      "Payout generation runs by outcome.",
		}, []string{"outcome"}),
		payoutRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "settlement",
			Name:      "payout_run_duration_seconds",
			Help:      "Payout generation run duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		payoutsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "payouts_generated_total",
			Help:      "Payout records created.",
		}),
		payoutAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "payout_amount_poisha_total",
			Help:      "Net amount placed into payouts, in poisha.",
		}),
		payoutGroupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "payout_group_failures_total",
			Help:      "Per-professional payout groups that failed during a run.",
		}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "refunds_total",
			Help:      "Refunds recorded by source.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.bookingTransitions,
		m.payoutRuns,
		m.payoutRunDuration,
		m.payoutsGenerated,
		m.payoutAmount,
		m.payoutGroupErrors,
		m.refunds,
	)
	return m
}

// IncTransition counts a booking moving to status.
func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.bookingTransitions.WithLabelValues(status).Inc()
}

// ObservePayoutRun records a finished run.
func (m *Metrics) ObservePayoutRun(outcome string, generated, failed int, amount int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.payoutRuns.WithLabelValues(outcome).Inc()
	m.payoutRunDuration.Observe(elapsed.Seconds())
	m.payoutsGenerated.Add(float64(generated))
	m.payoutAmount.Add(float64(amount))
	m.payoutGroupErrors.Add(float64(failed))
}

// IncRefund counts a refund recorded from source.
func (m *Metrics) IncRefund(source string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(source).Inc()
}
