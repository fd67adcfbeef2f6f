package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters for the calendar's capacity and workflow paths.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reservations  *prometheus.CounterVec
	regenerations *prometheus.CounterVec
	regenDuration prometheus.Histogram
	orphaned      prometheus.Counter
	decisions     *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	bookingsSwept prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcal",
			Subsystem: "ledger",
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome",
		}, []string{"outcome"}),
		regenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcal",
			Subsystem: "ledger",
			Name:      "regenerations_total",
			Help:      "Slot regenerations by outcome",
		}, []string{"outcome"}),
		regenDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentcal",
			Subsystem: "ledger",
			Name:      "regeneration_seconds",
			Help:      "Latency of slot regeneration",
			Buckets:   prometheus.DefBuckets,
		}),
		orphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcal",
			Subsystem: "ledger",
			Name:      "orphaned_reservations_total",
			Help:      "Booked ledger entries kept outside a regenerated schedule",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcal",
			Subsystem: "reschedule",
			Name:      "decisions_total",
			Help:      "Reschedule decisions by outcome",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcal",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Booking cancellations by refund percent",
		}, []string{"refund_percent"}),
		bookingsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcal",
			Subsystem: "booking",
			Name:      "completed_total",
			Help:      "Bookings moved to completed by the lifecycle sweep",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservations, m.regenerations, m.regenDuration, m.orphaned, m.decisions, m.cancellations, m.bookingsSwept)
	return m
}

func (m *Metrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRegeneration(outcome string, seconds float64, orphaned int) {
	if m == nil {
		return
	}
	m.regenerations.WithLabelValues(outcome).Inc()
	m.regenDuration.Observe(seconds)
	if orphaned > 0 {
		m.orphaned.Add(float64(orphaned))
	}
}

func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCancellation(refundPercent string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(refundPercent).Inc()
}

func (m *Metrics) ObserveCompleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bookingsSwept.Add(float64(n))
}
