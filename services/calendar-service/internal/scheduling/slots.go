package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/availability"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

// ListSlots returns the agent's slots ordered by date and start time, joined
// with their capacity counters.
func (s *Service) ListSlots(ctx context.Context, agentID string, r storage.DateRange) ([]model.SlotView, error) {
	agentID, err := requireAgent(agentID)
	if err != nil {
		return nil, err
	}
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return nil, model.Invalid("date_range", "end date must not be before start date")
	}
	var out []model.SlotView
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		slots, err := tx.ListAvailability(ctx, agentID, r)
		if err != nil {
			return err
		}
		ledger, err := tx.ListLedger(ctx, agentID, r)
		if err != nil {
			return err
		}
		out = joinLedger(slots, ledger)
		return nil
	})
	return out, err
}

func joinLedger(slots []model.AvailabilitySlot, ledger []model.LedgerEntry) []model.SlotView {
	byKey := make(map[model.SlotKey]model.LedgerEntry, len(ledger))
	for _, e := range ledger {
		byKey[e.Key()] = e
	}
	out := make([]model.SlotView, 0, len(slots))
	for _, slot := range slots {
		v := model.SlotView{AvailabilitySlot: slot}
		if e, ok := byKey[slot.Key()]; ok {
			v.TotalCapacity, v.BookedCount = e.TotalCapacity, e.BookedCount
		}
		out = append(out, v)
	}
	return out
}

func (s *Service) SetSlotAvailability(ctx context.Context, slotID string, available bool) (model.AvailabilitySlot, error) {
	slotID, err := requireSlot(slotID)
	if err != nil {
		return model.AvailabilitySlot{}, err
	}
	var out model.AvailabilitySlot
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.SetAvailability(ctx, slotID, available); err != nil {
			return err
		}
		var err error
		out, err = tx.GetAvailability(ctx, slotID)
		return err
	})
	return out, err
}

// requireSlot rejects empty ids and reports ids that cannot name a stored
// slot as not found.
func requireSlot(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", model.Invalid("slot_id", "required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
	}
	return id, nil
}

// ClearSlots deletes the agent's slots in range. Ledger entries holding
// bookings survive.
func (s *Service) ClearSlots(ctx context.Context, agentID string, r storage.DateRange) (int, error) {
	agentID, err := requireAgent(agentID)
	if err != nil {
		return 0, err
	}
	var removed, kept int
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		slots, err := tx.ListAvailability(ctx, agentID, r)
		if err != nil {
			return err
		}
		ledger, err := tx.ListLedger(ctx, agentID, r)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(slots))
		for _, slot := range slots {
			ids = append(ids, slot.ID)
		}
		if removed, err = tx.DeleteAvailability(ctx, ids); err != nil {
			return err
		}
		entryIDs := make([]string, 0, len(ledger))
		for _, e := range ledger {
			entryIDs = append(entryIDs, e.ID)
		}
		deleted, err := tx.DeleteUnbookedLedger(ctx, entryIDs)
		if err != nil {
			return err
		}
		kept = len(entryIDs) - deleted
		return nil
	})
	if err != nil {
		return 0, err
	}
	if kept > 0 {
		s.logger.Warn("ConsistencyWarning: booked ledger entries kept after clearing slots",
			"agent_id", agentID, "kept", kept)
	}
	return removed, nil
}

// DeleteSlot removes one slot. Its ledger entry goes too unless it holds bookings.
func (s *Service) DeleteSlot(ctx context.Context, slotID string) error {
	slotID, err := requireSlot(slotID)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx storage.Tx) error {
		slot, err := tx.GetAvailability(ctx, slotID)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteAvailability(ctx, []string{slot.ID}); err != nil {
			return err
		}
		ledger, err := tx.ListLedger(ctx, slot.AgentID, storage.Between(slot.Date, slot.Date))
		if err != nil {
			return err
		}
		for _, e := range ledger {
			if e.Start != slot.Start {
				continue
			}
			_, err := tx.DeleteUnbookedLedger(ctx, []string{e.ID})
			return err
		}
		return nil
	})
}

// AvailableSlot is a bookable slot as shown to customers.
type AvailableSlot struct {
	Start             model.Clock
	End               model.Clock
	Display           string
	AvailableCapacity int
	TotalCapacity     int
	IsLimited         bool
}

// GetAvailableSlots lists bookable slots for one date. serviceDuration, when
// positive, drops slots shorter than the requested service.
func (s *Service) GetAvailableSlots(ctx context.Context, agentID string, date time.Time, serviceDuration int) ([]AvailableSlot, error) {
	agentID, err := requireAgent(agentID)
	if err != nil {
		return nil, err
	}
	if date.IsZero() {
		return nil, model.Invalid("date", "required")
	}
	if serviceDuration < 0 {
		return nil, model.Invalid("service_duration", "must be positive")
	}
	var views []model.SlotView
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetSettings(ctx, agentID); err != nil {
			return err
		}
		day := storage.Between(date, date)
		slots, err := tx.ListAvailability(ctx, agentID, day)
		if err != nil {
			return err
		}
		ledger, err := tx.ListLedger(ctx, agentID, day)
		if err != nil {
			return err
		}
		views = joinLedger(slots, ledger)
		return nil
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]availability.Candidate, 0, len(views))
	for _, v := range views {
		candidates = append(candidates, availability.Candidate{
			Start:         v.Start,
			End:           v.End,
			IsAvailable:   v.IsAvailable,
			TotalCapacity: v.TotalCapacity,
			BookedCount:   v.BookedCount,
		})
	}
	open := availability.Bookable(date, candidates, serviceDuration, s.now(), s.loc)
	out := make([]AvailableSlot, 0, len(open))
	for _, o := range open {
		out = append(out, AvailableSlot{
			Start:             o.Start,
			End:               o.End,
			Display:           o.Start.Display(),
			AvailableCapacity: o.AvailableCapacity,
			TotalCapacity:     o.TotalCapacity,
			IsLimited:         o.IsLimited,
		})
	}
	return out, nil
}
