package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveReservation("reserved")
	m.ObserveReservation("reserved")
	m.ObserveReservation("capacity_exceeded")
	m.ObserveRegeneration("ok", 0.02, 3)
	m.ObserveDecision("approved")
	m.ObserveCancellation("80")
	m.ObserveCompleted(2)

	if got := testutil.ToFloat64(m.reservations.WithLabelValues("reserved")); got != 2 {
		t.Fatalf("expected 2 reservations, got %v", got)
	}
	if got := testutil.ToFloat64(m.orphaned); got != 3 {
		t.Fatalf("expected 3 orphaned, got %v", got)
	}
	if got := testutil.ToFloat64(m.bookingsSwept); got != 2 {
		t.Fatalf("expected 2 completed, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveReservation("reserved")
	m.ObserveRegeneration("ok", 0.1, 1)
	m.ObserveDecision("rejected")
	m.ObserveCancellation("100")
	m.ObserveCompleted(1)
}
