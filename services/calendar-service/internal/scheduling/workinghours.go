package scheduling

import (
	"context"
	"strings"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

// DayHours is one entry of a working-hours update as callers send it.
type DayHours struct {
	Day     string
	Start   string
	End     string
	Enabled bool
}

func parseDayHours(agentID string, d DayHours) (model.WorkingHourRule, error) {
	wd, err := model.ParseWeekday(d.Day)
	if err != nil {
		return model.WorkingHourRule{}, err
	}
	rule := model.DefaultRule(agentID, wd)
	rule.IsClosed = !d.Enabled

	if strings.TrimSpace(d.Start) != "" || d.Enabled {
		if rule.Start, err = model.ParseClock(d.Start); err != nil {
			return model.WorkingHourRule{}, model.Invalid(wd.String()+".start", err.Error())
		}
	}
	if strings.TrimSpace(d.End) != "" || d.Enabled {
		if rule.End, err = model.ParseClock(d.End); err != nil {
			return model.WorkingHourRule{}, model.Invalid(wd.String()+".end", err.Error())
		}
	}
	if rule.IsClosed && rule.End <= rule.Start {
		// Closed days keep a well-formed window so reopening them is a one-field change.
		rule.Start, rule.End = model.DefaultOpen, model.DefaultClose
	}
	if err := rule.Validate(); err != nil {
		return model.WorkingHourRule{}, err
	}
	return rule, nil
}

// SetWorkingHours upserts the given days and announces the change. Every day is
// validated before anything is written.
func (s *Service) SetWorkingHours(ctx context.Context, agentID string, days []DayHours) ([]model.WorkingHourRule, error) {
	agentID, err := requireAgent(agentID)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, model.Invalid("working_hours", "at least one day is required")
	}
	rules := make([]model.WorkingHourRule, 0, len(days))
	for _, d := range days {
		rule, err := parseDayHours(agentID, d)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	changed := model.WorkingHoursChanged{AgentID: agentID, ChangedAt: s.now().UTC()}
	var week []model.WorkingHourRule
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetSettings(ctx, agentID); err != nil {
			return err
		}
		for _, rule := range rules {
			if err := tx.UpsertWorkingHour(ctx, rule); err != nil {
				return err
			}
		}
		stored, err := tx.ListWorkingHours(ctx, agentID)
		if err != nil {
			return err
		}
		week = model.Week(agentID, stored)

		evt, err := outbox.NewEvent(outbox.WorkingHoursChanged, "agent", agentID, agentID, changed)
		if err != nil {
			return err
		}
		return tx.InsertEvent(ctx, evt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("working hours updated", "agent_id", agentID, "days", len(rules))
	if s.trigger != nil {
		s.trigger.WorkingHoursChanged(ctx, changed)
	}
	return week, nil
}

// GetWorkingHours returns Monday..Sunday with defaults for unconfigured days.
func (s *Service) GetWorkingHours(ctx context.Context, agentID string) ([]model.WorkingHourRule, error) {
	agentID, err := requireAgent(agentID)
	if err != nil {
		return nil, err
	}
	var week []model.WorkingHourRule
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetSettings(ctx, agentID); err != nil {
			return err
		}
		stored, err := tx.ListWorkingHours(ctx, agentID)
		if err != nil {
			return err
		}
		week = model.Week(agentID, stored)
		return nil
	})
	return week, err
}
