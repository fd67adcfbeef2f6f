package scheduling

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

type RegenerateInput struct {
	AgentID         string
	From            time.Time
	To              time.Time
	DurationMinutes *int
	IntervalMinutes *int
	DayOverrides    map[string]DayOverride
}

type SettingsUsed struct {
	ServiceDurationMinutes int                `json:"service_duration"`
	IntervalMinutes        int                `json:"interval_minutes"`
	SpecialistCount        int                `json:"specialist_count"`
	ProviderType           model.ProviderType `json:"provider_type"`
}

type RegenerateResult struct {
	SlotsCreated         int
	SettingsUsed         SettingsUsed
	SlotsRemoved         int
	OrphanedReservations int
}

type slotsRegenerated struct {
	AgentID      string       `json:"agent_id"`
	From         string       `json:"from"`
	To           string       `json:"to"`
	SlotsCreated int          `json:"slots_created"`
	SlotsRemoved int          `json:"slots_removed"`
	Orphaned     int          `json:"orphaned_reservations"`
	SettingsUsed SettingsUsed `json:"settings_used"`
}

func validateRegenerate(in *RegenerateInput) error {
	agentID, err := requireAgent(in.AgentID)
	if err != nil {
		return err
	}
	in.AgentID = agentID
	if in.From.IsZero() || in.To.IsZero() {
		return model.Invalid("date_range", "start and end dates are required")
	}
	if in.To.Before(in.From) {
		return model.Invalid("date_range", "end date must not be before start date")
	}
	if days := int(in.To.Sub(in.From).Hours()/24) + 1; days > maxRangeDays {
		return model.Invalid("date_range", "range must not exceed 366 days")
	}
	if in.DurationMinutes != nil && *in.DurationMinutes <= 0 {
		return model.Invalid("service_duration", "must be positive")
	}
	if in.IntervalMinutes != nil && *in.IntervalMinutes < 0 {
		return model.Invalid("interval_minutes", "must not be negative")
	}
	for day, o := range in.DayOverrides {
		if _, err := model.ParseDate(day); err != nil {
			return model.Invalid("day_override", err.Error())
		}
		if o.IsClosed {
			continue
		}
		if !o.Start.Valid() || !o.End.Valid() || o.End <= o.Start {
			return model.Invalid("day_override", day+": end time must be after start time")
		}
	}
	return nil
}

// Regenerate rebuilds the agent's slots and ledger entries for [From, To] in
// one unit of work. Booked ledger entries are never removed.
func (s *Service) Regenerate(ctx context.Context, in RegenerateInput) (RegenerateResult, error) {
	if err := validateRegenerate(&in); err != nil {
		return RegenerateResult{}, err
	}
	started := time.Now()

	var res RegenerateResult
	var orphaned []model.LedgerEntry
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.LockAgent(ctx, in.AgentID); err != nil {
			return err
		}
		settings, err := tx.GetSettings(ctx, in.AgentID)
		if err != nil {
			return err
		}
		rules, err := tx.ListWorkingHours(ctx, in.AgentID)
		if err != nil {
			return err
		}
		window := storage.Between(in.From, in.To)
		slots, err := tx.ListAvailability(ctx, in.AgentID, window)
		if err != nil {
			return err
		}
		ledger, err := tx.ListLedger(ctx, in.AgentID, window)
		if err != nil {
			return err
		}

		used := SettingsUsed{
			ServiceDurationMinutes: settings.ServiceDurationMinutes,
			IntervalMinutes:        settings.IntervalMinutes,
			SpecialistCount:        settings.SpecialistCount,
			ProviderType:           settings.ProviderType,
		}
		if in.DurationMinutes != nil {
			used.ServiceDurationMinutes = *in.DurationMinutes
		}
		if in.IntervalMinutes != nil {
			used.IntervalMinutes = *in.IntervalMinutes
		}

		plan := PlanRegeneration(PlanInput{
			AgentID:         in.AgentID,
			From:            in.From,
			To:              in.To,
			DurationMinutes: used.ServiceDurationMinutes,
			IntervalMinutes: used.IntervalMinutes,
			SpecialistCount: used.SpecialistCount,
			Rules:           rules,
			Overrides:       in.DayOverrides,
			Availability:    slots,
			Ledger:          ledger,
		})

		removed, err := tx.DeleteAvailability(ctx, plan.RemoveAvailability)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteUnbookedLedger(ctx, plan.RemoveLedger); err != nil {
			return err
		}
		for i := range plan.Slots {
			if err := tx.UpsertAvailability(ctx, plan.Slots[i]); err != nil {
				return err
			}
			if err := tx.UpsertLedger(ctx, plan.Entries[i]); err != nil {
				return err
			}
		}

		res = RegenerateResult{
			SlotsCreated:         len(plan.Slots),
			SettingsUsed:         used,
			SlotsRemoved:         removed,
			OrphanedReservations: len(plan.Orphaned),
		}
		orphaned = plan.Orphaned

		evt, err := outbox.NewEvent(outbox.SlotsRegenerated, "agent", in.AgentID, in.AgentID, slotsRegenerated{
			AgentID:      in.AgentID,
			From:         model.FormatDate(in.From),
			To:           model.FormatDate(in.To),
			SlotsCreated: res.SlotsCreated,
			SlotsRemoved: res.SlotsRemoved,
			Orphaned:     res.OrphanedReservations,
			SettingsUsed: used,
		})
		if err != nil {
			return err
		}
		return tx.InsertEvent(ctx, evt)
	})
	elapsed := time.Since(started).Seconds()
	if err != nil {
		s.metrics.ObserveRegeneration("error", elapsed, 0)
		return RegenerateResult{}, err
	}
	s.metrics.ObserveRegeneration("ok", elapsed, res.OrphanedReservations)

	for _, e := range orphaned {
		s.logger.Warn("ConsistencyWarning: booked ledger entry outside regenerated slots",
			"agent_id", e.AgentID,
			"date", model.FormatDate(e.Date),
			"start", e.Start.String(),
			"booked_count", e.BookedCount,
		)
	}
	s.logger.Info("slots regenerated",
		"agent_id", in.AgentID,
		"from", model.FormatDate(in.From),
		"to", model.FormatDate(in.To),
		"slots_created", res.SlotsCreated,
		"slots_removed", res.SlotsRemoved,
	)
	return res, nil
}
