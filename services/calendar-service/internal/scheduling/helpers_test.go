package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

const agent = "agent-1"

var (
	sunday = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingTrigger struct {
	mu     sync.Mutex
	events []model.WorkingHoursChanged
}

func (r *recordingTrigger) WorkingHoursChanged(_ context.Context, evt model.WorkingHoursChanged) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

type failingPolicy struct{}

func (failingPolicy) Name() string         { return "failing" }
func (failingPolicy) Delay() time.Duration { return time.Minute }
func (failingPolicy) Decide(context.Context, model.RescheduleRequest, model.Booking) (decision.Outcome, error) {
	return decision.Outcome{}, errors.New("decision backend unavailable")
}

type fixture struct {
	svc   *Service
	mem   *storage.Memory
	clock *fakeClock
}

// newFixture starts the clock on Sunday 08:00 UTC, the day before the test Monday.
func newFixture(t *testing.T, policy decision.Policy) fixture {
	t.Helper()
	clock := &fakeClock{t: sunday.Add(8 * time.Hour)}
	mem := storage.NewMemory(clock.Now)
	svc := NewService(mem, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Location: time.UTC,
		Policy:   policy,
		Now:      clock.Now,
	})
	return fixture{svc: svc, mem: mem, clock: clock}
}

// registerStudio creates a studio with the given capacity working 09:00-13:00
// on Mondays in 60 minute slots and generates Monday's slots.
func (f fixture) registerStudio(t *testing.T, specialists int) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SetProviderSettings(ctx, model.ProviderSettings{
		AgentID:                agent,
		ProviderType:           model.ProviderStudio,
		SpecialistCount:        specialists,
		ServiceDurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if _, err := f.svc.SetWorkingHours(ctx, agent, []DayHours{{Day: "monday", Start: "09:00", End: "13:00", Enabled: true}}); err != nil {
		t.Fatalf("working hours: %v", err)
	}
	if _, err := f.svc.Regenerate(ctx, RegenerateInput{AgentID: agent, From: monday, To: monday}); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
}

func (f fixture) book(t *testing.T, start model.Clock, price float64) BookingConfirmation {
	t.Helper()
	conf, err := f.svc.CreateBooking(context.Background(), CreateBookingInput{
		AgentID: agent, Date: monday, Start: start, CustomerName: "Rafi", TotalPrice: price,
	})
	if err != nil {
		t.Fatalf("book %s: %v", start, err)
	}
	return conf
}

func (f fixture) ledgerAt(t *testing.T, start model.Clock) model.LedgerEntry {
	t.Helper()
	var entry model.LedgerEntry
	found := false
	err := f.mem.InTx(context.Background(), func(tx storage.Tx) error {
		entries, err := tx.ListLedger(context.Background(), agent, storage.Between(monday, monday))
		for _, e := range entries {
			if e.Start == start {
				entry, found = e, true
			}
		}
		return err
	})
	if err != nil || !found {
		t.Fatalf("ledger entry %s: found=%v err=%v", start, found, err)
	}
	return entry
}

func countEvents(mem *storage.Memory, eventType string) int {
	n := 0
	for _, evt := range mem.Events() {
		if evt.EventType == eventType {
			n++
		}
	}
	return n
}

// failOnUpsertLedger wraps a Store and fails the nth UpsertLedger call of a unit of work.
type failOnUpsertLedger struct {
	inner storage.Store
	nth   int
}

func (f failOnUpsertLedger) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	return f.inner.InTx(ctx, func(tx storage.Tx) error {
		return fn(&countingTx{Tx: tx, failAt: f.nth})
	})
}

type countingTx struct {
	storage.Tx
	calls  int
	failAt int
}

func (c *countingTx) UpsertLedger(ctx context.Context, e model.LedgerEntry) error {
	c.calls++
	if c.calls == c.failAt {
		return errors.New("disk full")
	}
	return c.Tx.UpsertLedger(ctx, e)
}

func storageDay(d time.Time) storage.DateRange { return storage.Between(d, d) }
