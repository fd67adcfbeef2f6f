package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

func intPtr(n int) *int { return &n }

func TestRegenerateBuildsLedgerWithStudioCapacity(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 2)

	slots, err := f.svc.ListSlots(context.Background(), agent, storage.Between(monday, monday))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	for i, want := range []model.Clock{model.NewClock(9, 0), model.NewClock(10, 0), model.NewClock(11, 0), model.NewClock(12, 0)} {
		if slots[i].Start != want || slots[i].TotalCapacity != 2 || slots[i].BookedCount != 0 {
			t.Fatalf("slot %d: unexpected %+v", i, slots[i])
		}
	}

	nine := model.NewClock(9, 0)
	f.book(t, nine, 100)
	f.book(t, nine, 100)
	_, err = f.svc.CreateBooking(context.Background(), CreateBookingInput{AgentID: agent, Date: monday, Start: nine})
	if !errors.Is(err, model.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if e := f.ledgerAt(t, nine); e.BookedCount != 2 {
		t.Fatalf("expected booked 2, got %d", e.BookedCount)
	}
}

func TestRegenerateIsIdempotent(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 1)
	ctx := context.Background()

	before, _ := f.svc.ListSlots(ctx, agent, storage.DateRange{})
	res, err := f.svc.Regenerate(ctx, RegenerateInput{AgentID: agent, From: monday, To: monday})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	after, _ := f.svc.ListSlots(ctx, agent, storage.DateRange{})

	if res.SlotsCreated != 4 || res.SlotsRemoved != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(before) != len(after) {
		t.Fatalf("slot count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			t.Fatalf("slot %d was replaced", i)
		}
	}
}

func TestRegenerateKeepsBookedEntriesOutsideNewHours(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 1)
	ctx := context.Background()

	conf := f.book(t, model.NewClock(12, 0), 80)
	if _, err := f.svc.SetWorkingHours(ctx, agent, []DayHours{{Day: "Mon", Start: "09:00", End: "11:00", Enabled: true}}); err != nil {
		t.Fatalf("working hours: %v", err)
	}
	res, err := f.svc.Regenerate(ctx, RegenerateInput{AgentID: agent, From: monday, To: monday})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if res.SlotsCreated != 2 || res.SlotsRemoved != 2 || res.OrphanedReservations != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if e := f.ledgerAt(t, model.NewClock(12, 0)); e.BookedCount != 1 {
		t.Fatalf("booked entry lost its count: %+v", e)
	}

	if _, err := f.svc.CancelBooking(ctx, conf.BookingCode); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if e := f.ledgerAt(t, model.NewClock(12, 0)); e.BookedCount != 0 {
		t.Fatalf("expected release on orphaned entry, got %+v", e)
	}
	res, err = f.svc.Regenerate(ctx, RegenerateInput{AgentID: agent, From: monday, To: monday})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if res.OrphanedReservations != 0 {
		t.Fatalf("expected orphan cleaned up, got %+v", res)
	}
}

func TestRegenerateAppliesOverridesAndClosedDays(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 1)
	ctx := context.Background()

	tuesday := monday.AddDate(0, 0, 1)
	if _, err := f.svc.SetWorkingHours(ctx, agent, []DayHours{{Day: "tuesday", Enabled: false}}); err != nil {
		t.Fatalf("working hours: %v", err)
	}
	res, err := f.svc.Regenerate(ctx, RegenerateInput{
		AgentID:         agent,
		From:            monday,
		To:              tuesday,
		DurationMinutes: intPtr(30),
		IntervalMinutes: intPtr(30),
		DayOverrides: map[string]DayOverride{
			"2026-03-02": {Start: model.NewClock(14, 0), End: model.NewClock(16, 0)},
		},
	})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if res.SlotsCreated != 2 {
		t.Fatalf("expected 2 slots from the override, got %+v", res)
	}
	if res.SettingsUsed.ServiceDurationMinutes != 30 || res.SettingsUsed.IntervalMinutes != 30 {
		t.Fatalf("overrides not reported: %+v", res.SettingsUsed)
	}
	slots, _ := f.svc.ListSlots(ctx, agent, storage.DateRange{})
	if len(slots) != 2 || slots[0].Start != model.NewClock(14, 0) || slots[1].Start != model.NewClock(15, 0) {
		t.Fatalf("unexpected slots %+v", slots)
	}
}

func TestRegenerateValidation(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 1)
	ctx := context.Background()

	cases := []RegenerateInput{
		{AgentID: agent, From: monday, To: sunday},
		{AgentID: agent, From: monday, To: monday.AddDate(0, 0, 366)},
		{AgentID: agent, From: monday, To: monday, DurationMinutes: intPtr(0)},
		{AgentID: agent, From: monday, To: monday, IntervalMinutes: intPtr(-5)},
		{AgentID: "", From: monday, To: monday},
	}
	for i, in := range cases {
		if _, err := f.svc.Regenerate(ctx, in); !errors.Is(err, model.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if _, err := f.svc.Regenerate(ctx, RegenerateInput{AgentID: "ghost", From: monday, To: monday}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegenerateRollsBackOnFailure(t *testing.T) {
	clock := &fakeClock{t: sunday.Add(8 * time.Hour)}
	mem := storage.NewMemory(clock.Now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	good := NewService(mem, logger, Config{Now: clock.Now})
	ctx := context.Background()
	if _, err := good.SetProviderSettings(ctx, model.ProviderSettings{AgentID: agent}); err != nil {
		t.Fatalf("settings: %v", err)
	}

	bad := NewService(failOnUpsertLedger{inner: mem, nth: 3}, logger, Config{Now: clock.Now})
	if _, err := bad.Regenerate(ctx, RegenerateInput{AgentID: agent, From: monday, To: monday}); err == nil {
		t.Fatal("expected failure")
	}
	slots, err := good.ListSlots(ctx, agent, storage.DateRange{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("partial regeneration left %d slots", len(slots))
	}
	if n := countEvents(mem, outbox.SlotsRegenerated); n != 0 {
		t.Fatalf("expected no regenerated event, got %d", n)
	}
}

// orderStore records the order of lock and settings reads within a unit of work.
type orderStore struct {
	inner storage.Store
	calls []string
}

func (o *orderStore) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	return o.inner.InTx(ctx, func(tx storage.Tx) error {
		return fn(&orderTx{Tx: tx, store: o})
	})
}

type orderTx struct {
	storage.Tx
	store *orderStore
}

func (o *orderTx) LockAgent(ctx context.Context, agentID string) error {
	o.store.calls = append(o.store.calls, "lock")
	return o.Tx.LockAgent(ctx, agentID)
}

func (o *orderTx) GetSettings(ctx context.Context, agentID string) (model.ProviderSettings, error) {
	o.store.calls = append(o.store.calls, "settings")
	return o.Tx.GetSettings(ctx, agentID)
}

func TestRegenerateReadsSettingsUnderAgentLock(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 2)

	store := &orderStore{inner: f.mem}
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Now: f.clock.Now})
	if _, err := svc.Regenerate(context.Background(), RegenerateInput{AgentID: agent, From: monday, To: monday}); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(store.calls) < 2 || store.calls[0] != "lock" || store.calls[1] != "settings" {
		t.Fatalf("settings must be read after the agent lock, got %v", store.calls)
	}
}

func TestPlanRegenerationKeepsExistingIDs(t *testing.T) {
	existing := model.AvailabilitySlot{ID: "slot-9", AgentID: agent, Date: monday, Start: model.NewClock(9, 0), End: model.NewClock(10, 0)}
	stale := model.AvailabilitySlot{ID: "slot-8", AgentID: agent, Date: monday, Start: model.NewClock(8, 0), End: model.NewClock(9, 0)}
	booked := model.LedgerEntry{ID: "led-8", AgentID: agent, Date: monday, Start: model.NewClock(8, 0), End: model.NewClock(9, 0), TotalCapacity: 1, BookedCount: 1}

	plan := PlanRegeneration(PlanInput{
		AgentID:         agent,
		From:            monday,
		To:              monday,
		DurationMinutes: 60,
		SpecialistCount: 1,
		Rules:           []model.WorkingHourRule{{AgentID: agent, Weekday: time.Monday, Start: model.NewClock(9, 0), End: model.NewClock(11, 0)}},
		Availability:    []model.AvailabilitySlot{existing, stale},
		Ledger:          []model.LedgerEntry{booked},
	})
	if len(plan.Slots) != 2 || plan.Slots[0].ID != "slot-9" {
		t.Fatalf("unexpected target %+v", plan.Slots)
	}
	if len(plan.RemoveAvailability) != 1 || plan.RemoveAvailability[0] != "slot-8" {
		t.Fatalf("unexpected removals %v", plan.RemoveAvailability)
	}
	if len(plan.RemoveLedger) != 0 || len(plan.Orphaned) != 1 {
		t.Fatalf("booked entry must be orphaned, not removed: %+v", plan)
	}
}
