package regen

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/consumer"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/scheduling"
	"github.com/segmentio/kafka-go"
)

// Regenerator is the part of scheduling.Service the scheduler drives.
type Regenerator interface {
	Regenerate(ctx context.Context, in scheduling.RegenerateInput) (scheduling.RegenerateResult, error)
	Today() time.Time
	HorizonDays() int
}

// Scheduler rebuilds an agent's upcoming slots after its working hours change.
type Scheduler struct {
	svc    Regenerator
	logger *slog.Logger
}

func NewScheduler(svc Regenerator, logger *slog.Logger) *Scheduler {
	return &Scheduler{svc: svc, logger: logger}
}

// Handle regenerates [today, today+horizon) for the agent.
func (s *Scheduler) Handle(ctx context.Context, evt model.WorkingHoursChanged) error {
	from := s.svc.Today()
	to := from.AddDate(0, 0, s.svc.HorizonDays()-1)
	res, err := s.svc.Regenerate(ctx, scheduling.RegenerateInput{AgentID: evt.AgentID, From: from, To: to})
	if err != nil {
		return err
	}
	s.logger.Info("working hours change applied",
		"agent_id", evt.AgentID,
		"changed_at", evt.ChangedAt,
		"slots_created", res.SlotsCreated,
	)
	return nil
}

// KafkaHandler decodes calendar.workinghours.changed.v1 messages. Malformed
// messages are logged and skipped so they do not block the partition.
func (s *Scheduler) KafkaHandler() consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt model.WorkingHoursChanged
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			s.logger.Error("invalid working hours event", "err", err)
			return nil
		}
		if strings.TrimSpace(evt.AgentID) == "" {
			s.logger.Error("working hours event without agent_id")
			return nil
		}
		return s.Handle(ctx, evt)
	}
}
