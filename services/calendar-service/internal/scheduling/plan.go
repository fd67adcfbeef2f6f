package scheduling

import (
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/availability"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
)

// DayOverride replaces the weekly rule for a single date.
type DayOverride struct {
	IsClosed bool
	Start    model.Clock
	End      model.Clock
}

// PlanInput is everything needed to compute the slot set for a date range.
type PlanInput struct {
	AgentID         string
	From            time.Time
	To              time.Time
	DurationMinutes int
	IntervalMinutes int
	SpecialistCount int
	Rules           []model.WorkingHourRule
	Overrides       map[string]DayOverride
	Availability    []model.AvailabilitySlot
	Ledger          []model.LedgerEntry
}

// Plan is the difference between the stored slots and the target set.
type Plan struct {
	Slots              []model.AvailabilitySlot
	Entries            []model.LedgerEntry
	RemoveAvailability []string
	RemoveLedger       []string
	// Orphaned are booked ledger entries outside the target set. They are kept.
	Orphaned []model.LedgerEntry
}

// PlanRegeneration computes the target slots for [From, To] and diffs them
// against the stored rows. It does no I/O.
func PlanRegeneration(in PlanInput) Plan {
	week := model.Week(in.AgentID, in.Rules)
	byDay := make(map[time.Weekday]model.WorkingHourRule, len(week))
	for _, r := range week {
		byDay[r.Weekday] = r
	}

	existingSlot := make(map[model.SlotKey]string, len(in.Availability))
	for _, s := range in.Availability {
		existingSlot[s.Key()] = s.ID
	}
	existingEntry := make(map[model.SlotKey]string, len(in.Ledger))
	for _, e := range in.Ledger {
		existingEntry[e.Key()] = e.ID
	}

	var plan Plan
	target := make(map[model.SlotKey]struct{})
	for d := in.From; !d.After(in.To); d = d.AddDate(0, 0, 1) {
		closed, start, end := resolveDay(byDay[d.Weekday()], in.Overrides, d)
		if closed {
			continue
		}
		for _, w := range availability.Generate(start, end, in.DurationMinutes, in.IntervalMinutes) {
			key := model.KeyOf(in.AgentID, d, w.Start)
			target[key] = struct{}{}

			slotID, ok := existingSlot[key]
			if !ok {
				slotID = uuid.NewString()
			}
			entryID, ok := existingEntry[key]
			if !ok {
				entryID = uuid.NewString()
			}
			plan.Slots = append(plan.Slots, model.AvailabilitySlot{
				ID: slotID, AgentID: in.AgentID, Date: d, Start: w.Start, End: w.End, IsAvailable: true,
			})
			plan.Entries = append(plan.Entries, model.LedgerEntry{
				ID: entryID, AgentID: in.AgentID, Date: d, Start: w.Start, End: w.End,
				TotalCapacity: in.SpecialistCount,
			})
		}
	}

	for _, s := range in.Availability {
		if _, keep := target[s.Key()]; !keep {
			plan.RemoveAvailability = append(plan.RemoveAvailability, s.ID)
		}
	}
	for _, e := range in.Ledger {
		if _, keep := target[e.Key()]; keep {
			continue
		}
		if e.BookedCount > 0 {
			plan.Orphaned = append(plan.Orphaned, e)
			continue
		}
		plan.RemoveLedger = append(plan.RemoveLedger, e.ID)
	}
	return plan
}

func resolveDay(rule model.WorkingHourRule, overrides map[string]DayOverride, date time.Time) (closed bool, start, end model.Clock) {
	if o, ok := overrides[model.FormatDate(date)]; ok {
		return o.IsClosed, o.Start, o.End
	}
	return rule.IsClosed, rule.Start, rule.End
}
