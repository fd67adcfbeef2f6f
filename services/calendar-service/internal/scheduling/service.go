package scheduling

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/metrics"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/refund"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

// Trigger receives working-hours changes after they commit. It is nil when the
// change is delivered through the outbox and Kafka instead.
type Trigger interface {
	WorkingHoursChanged(ctx context.Context, evt model.WorkingHoursChanged)
}

type Config struct {
	Location       *time.Location
	HorizonDays    int
	RefundTimeline string
	Policy         decision.Policy
	Trigger        Trigger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Service implements the calendar operations on top of a Store.
type Service struct {
	store          storage.Store
	logger         *slog.Logger
	loc            *time.Location
	horizonDays    int
	refundTimeline string
	policy         decision.Policy
	trigger        Trigger
	metrics        *metrics.Metrics
	now            func() time.Time
}

const (
	DefaultHorizonDays = 30
	maxRangeDays       = 366
)

func NewService(store storage.Store, logger *slog.Logger, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}
	if strings.TrimSpace(cfg.RefundTimeline) == "" {
		cfg.RefundTimeline = refund.DefaultTimeline
	}
	if cfg.Policy == nil {
		cfg.Policy = decision.NewRandom(decision.DefaultDelay, 0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:          store,
		logger:         logger,
		loc:            cfg.Location,
		horizonDays:    cfg.HorizonDays,
		refundTimeline: cfg.RefundTimeline,
		policy:         cfg.Policy,
		trigger:        cfg.Trigger,
		metrics:        cfg.Metrics,
		now:            cfg.Now,
	}
}

// SetTrigger wires the in-process regeneration queue after construction.
func (s *Service) SetTrigger(t Trigger) { s.trigger = t }

func (s *Service) Location() *time.Location { return s.loc }

// Today is the current calendar date in the service's time zone.
func (s *Service) Today() time.Time {
	return model.DateOf(s.now(), s.loc)
}

// HorizonDays is how far ahead a working-hours change regenerates slots.
func (s *Service) HorizonDays() int { return s.horizonDays }

func newID() string { return uuid.NewString() }

func requireAgent(agentID string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", model.Invalid("agent_id", "required")
	}
	return agentID, nil
}
