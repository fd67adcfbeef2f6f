package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/agentcal/libs/config"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/refund"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/scheduling"
)

type serviceConfig struct {
	Service     string
	Port        string
	GRPCPort    string
	DatabaseURL string

	KafkaBrokers []string
	KafkaGroupID string

	RedisAddr          string
	RateLimitPerMinute int

	Location       *time.Location
	Policy         string
	PolicySeed     int
	DecisionDelay  time.Duration
	HorizonDays    int
	RefundTimeline string

	WorkerInterval      time.Duration
	DecisionMaxAttempts int
	DecisionBackoff     time.Duration
}

func loadConfig() (serviceConfig, error) {
	if err := config.LoadDotEnv(); err != nil {
		return serviceConfig{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := serviceConfig{
		Service:        config.String("SERVICE_NAME", "calendar-service"),
		DatabaseURL:    config.String("DATABASE_URL", ""),
		KafkaBrokers:   config.List("KAFKA_BROKERS"),
		KafkaGroupID:   config.String("KAFKA_GROUP_ID", "calendar-service"),
		RedisAddr:      config.String("REDIS_ADDR", ""),
		Policy:         config.String("RESCHEDULE_POLICY", "random"),
		RefundTimeline: config.String("REFUND_TIMELINE", refund.DefaultTimeline),
	}

	var err error
	if cfg.Port, err = config.Port("PORT", "8080"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9090"); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return cfg, err
	}
	if cfg.Location, err = config.Location("CALENDAR_TIMEZONE", "UTC"); err != nil {
		return cfg, err
	}
	if cfg.PolicySeed, err = config.Int("RESCHEDULE_POLICY_SEED", 0); err != nil {
		return cfg, err
	}
	if cfg.DecisionDelay, err = config.Seconds("RESCHEDULE_DECISION_DELAY_SECONDS", decision.DefaultDelay); err != nil {
		return cfg, err
	}
	if cfg.HorizonDays, err = config.Int("REGENERATION_HORIZON_DAYS", scheduling.DefaultHorizonDays); err != nil {
		return cfg, err
	}
	if cfg.HorizonDays < 1 || cfg.HorizonDays > 366 {
		return cfg, fmt.Errorf("REGENERATION_HORIZON_DAYS must be between 1 and 366 (got %d)", cfg.HorizonDays)
	}
	if cfg.WorkerInterval, err = config.Seconds("DECISION_POLL_SECONDS", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.DecisionMaxAttempts, err = config.Int("DECISION_MAX_ATTEMPTS", 5); err != nil {
		return cfg, err
	}
	if cfg.DecisionBackoff, err = config.Seconds("DECISION_BACKOFF_SECONDS", 30*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}
