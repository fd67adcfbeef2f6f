package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
)

// Decider is the part of scheduling.Service the worker drives.
type Decider interface {
	DecideNext(ctx context.Context) (model.RescheduleRequest, bool, error)
	RecordDecisionFailure(ctx context.Context, requestID string, cause error, maxAttempts int, retryIn time.Duration) (bool, error)
	CompletePastBookings(ctx context.Context) (int, error)
}

type Worker struct {
	svc         Decider
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
}

type WorkerConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func NewWorker(svc Decider, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = 10 * time.Minute
	}
	return &Worker{
		svc:         svc,
		logger:      logger,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				w.logger.Error("decision batch failed", "err", err)
			}
		}
	}
}

// Tick decides up to one batch of due reschedule requests and completes past
// bookings. It returns how many requests were decided.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	decided := 0
	for i := 0; i < w.batchSize; i++ {
		req, ok, err := w.svc.DecideNext(ctx)
		if !ok {
			if err != nil {
				return decided, err
			}
			break
		}
		if err != nil {
			if _, ferr := w.svc.RecordDecisionFailure(ctx, req.ID, err, w.maxAttempts, w.retryIn(req.Attempts+1)); ferr != nil {
				return decided, ferr
			}
			continue
		}
		decided++
	}
	if _, err := w.svc.CompletePastBookings(ctx); err != nil {
		return decided, err
	}
	return decided, nil
}

// retryIn doubles the base backoff per attempt up to the cap.
func (w *Worker) retryIn(attempt int) time.Duration {
	d := w.backoff
	for i := 1; i < attempt && d < w.maxBackoff; i++ {
		d *= 2
	}
	return min(d, w.maxBackoff)
}
