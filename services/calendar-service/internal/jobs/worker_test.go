package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/scheduling"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

type scriptedDecider struct {
	results  []error
	failures []time.Duration
	swept    int
}

func (s *scriptedDecider) DecideNext(context.Context) (model.RescheduleRequest, bool, error) {
	if len(s.results) == 0 {
		return model.RescheduleRequest{}, false, nil
	}
	err := s.results[0]
	s.results = s.results[1:]
	return model.RescheduleRequest{ID: "req-1", Attempts: len(s.failures)}, true, err
}

func (s *scriptedDecider) RecordDecisionFailure(_ context.Context, _ string, _ error, _ int, retryIn time.Duration) (bool, error) {
	s.failures = append(s.failures, retryIn)
	return false, nil
}

func (s *scriptedDecider) CompletePastBookings(context.Context) (int, error) {
	s.swept++
	return 0, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTickRecordsFailuresWithBackoff(t *testing.T) {
	boom := errors.New("policy down")
	d := &scriptedDecider{results: []error{nil, boom, boom, nil}}
	w := NewWorker(d, discard(), WorkerConfig{Backoff: time.Second, MaxBackoff: 3 * time.Second})

	n, err := w.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 decided, got %d", n)
	}
	if len(d.failures) != 2 || d.failures[0] != time.Second || d.failures[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", d.failures)
	}
	if d.swept != 1 {
		t.Fatalf("expected one sweep, got %d", d.swept)
	}
}

func TestRetryInIsCapped(t *testing.T) {
	w := NewWorker(&scriptedDecider{}, discard(), WorkerConfig{Backoff: time.Second, MaxBackoff: 5 * time.Second})
	if got := w.retryIn(10); got != 5*time.Second {
		t.Fatalf("expected cap, got %s", got)
	}
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func TestWorkerDecidesDueRequestsEndToEnd(t *testing.T) {
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	c := &clock{t: monday.Add(-16 * time.Hour)}
	mem := storage.NewMemory(c.Now)
	svc := scheduling.NewService(mem, discard(), scheduling.Config{Policy: decision.Approve(time.Minute), Now: c.Now})
	ctx := context.Background()

	if _, err := svc.SetProviderSettings(ctx, model.ProviderSettings{AgentID: "agent-1"}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if _, err := svc.Regenerate(ctx, scheduling.RegenerateInput{AgentID: "agent-1", From: monday, To: monday}); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	conf, err := svc.CreateBooking(ctx, scheduling.CreateBookingInput{AgentID: "agent-1", Date: monday, Start: model.NewClock(9, 0)})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.RequestReschedule(ctx, scheduling.RescheduleInput{Booking: conf.BookingCode, Date: monday, Start: model.NewClock(14, 0)}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	w := NewWorker(svc, discard(), WorkerConfig{})
	if n, err := w.Tick(ctx); err != nil || n != 0 {
		t.Fatalf("nothing due yet: n=%d err=%v", n, err)
	}
	c.t = c.t.Add(2 * time.Minute)
	if n, err := w.Tick(ctx); err != nil || n != 1 {
		t.Fatalf("expected one decision: n=%d err=%v", n, err)
	}
	b, _ := svc.GetBooking(ctx, conf.BookingCode)
	if b.Start != model.NewClock(14, 0) {
		t.Fatalf("booking not moved: %+v", b)
	}
}
