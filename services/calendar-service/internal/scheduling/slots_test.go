package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

func TestGetAvailableSlotsDropsPastAndFullSlots(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 2)
	ctx := context.Background()

	f.book(t, model.NewClock(11, 0), 10)
	f.book(t, model.NewClock(11, 0), 10)
	f.book(t, model.NewClock(12, 0), 10)
	f.clock.Advance(26*time.Hour + 30*time.Minute) // Monday 10:30

	open, err := f.svc.GetAvailableSlots(ctx, agent, monday, 0)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected only 12:00, got %+v", open)
	}
	got := open[0]
	if got.Start != model.NewClock(12, 0) || got.Display != "12:00 PM" || got.AvailableCapacity != 1 || got.TotalCapacity != 2 || !got.IsLimited {
		t.Fatalf("unexpected slot %+v", got)
	}

	if open, _ := f.svc.GetAvailableSlots(ctx, agent, monday, 90); len(open) != 0 {
		t.Fatalf("60 minute slots cannot host a 90 minute service: %+v", open)
	}
	if _, err := f.svc.GetAvailableSlots(ctx, "ghost", monday, 0); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteSlotKeepsBookedLedgerEntry(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 1)
	ctx := context.Background()

	f.book(t, model.NewClock(9, 0), 10)
	slots, _ := f.svc.ListSlots(ctx, agent, storageDay(monday))

	if err := f.svc.DeleteSlot(ctx, slots[0].ID); err != nil {
		t.Fatalf("delete booked: %v", err)
	}
	if err := f.svc.DeleteSlot(ctx, slots[1].ID); err != nil {
		t.Fatalf("delete free: %v", err)
	}
	if e := f.ledgerAt(t, model.NewClock(9, 0)); e.BookedCount != 1 {
		t.Fatalf("booked ledger entry removed: %+v", e)
	}
	var remaining int
	_ = f.mem.InTx(ctx, func(tx storage.Tx) error {
		entries, err := tx.ListLedger(ctx, agent, storage.DateRange{})
		remaining = len(entries)
		return err
	})
	if remaining != 3 {
		t.Fatalf("expected 3 ledger entries left, got %d", remaining)
	}
	left, _ := f.svc.ListSlots(ctx, agent, storage.DateRange{})
	if len(left) != 2 {
		t.Fatalf("expected 2 slots left, got %d", len(left))
	}
	if err := f.svc.DeleteSlot(ctx, slots[0].ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClearSlotsPreservesBookings(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 1)
	ctx := context.Background()

	conf := f.book(t, model.NewClock(10, 0), 10)
	removed, err := f.svc.ClearSlots(ctx, agent, storageDay(monday))
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 4 {
		t.Fatalf("expected 4 removed, got %d", removed)
	}
	if left, _ := f.svc.ListSlots(ctx, agent, storage.DateRange{}); len(left) != 0 {
		t.Fatalf("expected no slots, got %d", len(left))
	}
	if _, err := f.svc.CancelBooking(ctx, conf.BookingCode); err != nil {
		t.Fatalf("cancel after clear: %v", err)
	}
	if e := f.ledgerAt(t, model.NewClock(10, 0)); e.BookedCount != 0 {
		t.Fatalf("expected release, got %+v", e)
	}
}

func TestRegenerationReoffersDisabledSlots(t *testing.T) {
	f := newFixture(t, decision.Approve(time.Minute))
	f.registerStudio(t, 1)
	ctx := context.Background()

	slots, _ := f.svc.ListSlots(ctx, agent, storageDay(monday))
	if _, err := f.svc.SetSlotAvailability(ctx, slots[2].ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := f.svc.Regenerate(ctx, RegenerateInput{AgentID: agent, From: monday, To: monday}); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	after, _ := f.svc.ListSlots(ctx, agent, storageDay(monday))
	if !after[2].IsAvailable {
		t.Fatal("regenerated slot should be offered again")
	}
	if after[2].ID != slots[2].ID {
		t.Fatalf("slot id changed across regeneration: %s -> %s", slots[2].ID, after[2].ID)
	}
	if _, err := f.svc.SetSlotAvailability(ctx, "missing", true); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
