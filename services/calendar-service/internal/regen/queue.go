package regen

import (
	"context"
	"log/slog"
	"sync"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
)

// Queue delivers working-hours changes to a Scheduler from a single goroutine.
// Changes for an agent that is already waiting are coalesced.
type Queue struct {
	sched  *Scheduler
	logger *slog.Logger

	mu      sync.Mutex
	order   []string
	pending map[string]model.WorkingHoursChanged
	wake    chan struct{}
}

func NewQueue(sched *Scheduler, logger *slog.Logger) *Queue {
	return &Queue{
		sched:   sched,
		logger:  logger,
		pending: map[string]model.WorkingHoursChanged{},
		wake:    make(chan struct{}, 1),
	}
}

// WorkingHoursChanged enqueues evt without blocking.
func (q *Queue) WorkingHoursChanged(_ context.Context, evt model.WorkingHoursChanged) {
	q.mu.Lock()
	if _, queued := q.pending[evt.AgentID]; !queued {
		q.order = append(q.order, evt.AgentID)
	}
	q.pending[evt.AgentID] = evt
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) next() (model.WorkingHoursChanged, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return model.WorkingHoursChanged{}, false
	}
	agentID := q.order[0]
	q.order = q.order[1:]
	evt := q.pending[agentID]
	delete(q.pending, agentID)
	return evt, true
}

// Len reports how many agents are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

func (q *Queue) Run(ctx context.Context) {
	for {
		for {
			evt, ok := q.next()
			if !ok {
				break
			}
			if err := q.sched.Handle(ctx, evt); err != nil {
				q.logger.Error("slot regeneration failed", "agent_id", evt.AgentID, "err", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}
