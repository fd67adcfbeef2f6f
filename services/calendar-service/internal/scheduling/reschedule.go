package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/agentcal/libs/otel"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

type RescheduleInput struct {
	// Booking is a booking id or booking code.
	Booking string
	Date    time.Time
	Start   model.Clock
	Reason  string
}

type rescheduleEvent struct {
	RequestID      string `json:"request_id"`
	BookingID      string `json:"booking_id"`
	Status         string `json:"status"`
	RequestedDate  string `json:"requested_date"`
	RequestedStart string `json:"requested_time"`
	Reason         string `json:"reason,omitempty"`
	DecisionReason string `json:"decision_reason,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

func newRescheduleEvent(eventType, agentID string, req model.RescheduleRequest) (outbox.Event, error) {
	return outbox.NewEvent(eventType, "reschedule_request", req.ID, agentID, rescheduleEvent{
		RequestID:      req.ID,
		BookingID:      req.BookingID,
		Status:         string(req.Status),
		RequestedDate:  model.FormatDate(req.RequestedDate),
		RequestedStart: req.RequestedStart.String(),
		Reason:         req.Reason,
		DecisionReason: req.DecisionReason,
		Attempts:       req.Attempts,
		LastError:      req.LastError,
	})
}

func findBooking(ctx context.Context, tx storage.Tx, ref string) (model.Booking, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return tx.GetBooking(ctx, ref)
	}
	return tx.GetBookingByCode(ctx, ref)
}

func requireBooking(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", model.Invalid("booking_id", "required")
	}
	return ref, nil
}

// RequestReschedule opens a pending request to move a booking. Only one request
// may be pending per booking. Capacity is not touched.
func (s *Service) RequestReschedule(ctx context.Context, in RescheduleInput) (model.RescheduleRequest, error) {
	ref, err := requireBooking(in.Booking)
	if err != nil {
		return model.RescheduleRequest{}, err
	}
	if in.Date.IsZero() {
		return model.RescheduleRequest{}, model.Invalid("date", "required")
	}
	if !in.Start.Valid() {
		return model.RescheduleRequest{}, model.Invalid("time", "out of range")
	}
	now := s.now()
	if in.Start.On(in.Date, s.loc).Before(now) {
		return model.RescheduleRequest{}, model.Invalid("time", "requested time is in the past")
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)

	var req model.RescheduleRequest
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		b, err := findBooking(ctx, tx, ref)
		if err != nil {
			return err
		}
		if b.Status != model.BookingUpcoming {
			return fmt.Errorf("booking %s is %s: %w", b.Code, b.Status, model.ErrInvalidState)
		}
		pending, err := tx.LatestPendingReschedule(ctx, b.ID)
		switch {
		case err == nil:
			return fmt.Errorf("booking %s has request %s: %w", b.Code, pending.ID, model.ErrPendingReschedule)
		case !errors.Is(err, model.ErrNotFound):
			return err
		}

		req = model.RescheduleRequest{
			ID:             uuid.NewString(),
			BookingID:      b.ID,
			RequestedDate:  in.Date,
			RequestedStart: in.Start,
			Reason:         strings.TrimSpace(in.Reason),
			Status:         model.ReschedulePending,
			RequestedAt:    now.UTC(),
			DecisionDueAt:  now.Add(s.policy.Delay()).UTC(),
			Traceparent:    traceparent,
			Tracestate:     tracestate,
		}
		if err := tx.InsertReschedule(ctx, req); err != nil {
			return err
		}
		evt, err := newRescheduleEvent(outbox.RescheduleRequested, b.AgentID, req)
		if err != nil {
			return err
		}
		return tx.InsertEvent(ctx, evt)
	})
	if err != nil {
		return model.RescheduleRequest{}, err
	}
	s.logger.Info("reschedule requested",
		"booking_id", req.BookingID,
		"request_id", req.ID,
		"decision_due_at", req.DecisionDueAt,
	)
	return req, nil
}

// CancelRescheduleRequest withdraws the booking's pending request.
func (s *Service) CancelRescheduleRequest(ctx context.Context, booking string) (model.RescheduleRequest, error) {
	ref, err := requireBooking(booking)
	if err != nil {
		return model.RescheduleRequest{}, err
	}
	now := s.now()
	var req model.RescheduleRequest
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		b, err := findBooking(ctx, tx, ref)
		if err != nil {
			return err
		}
		req, err = tx.LatestPendingReschedule(ctx, b.ID)
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("booking %s has no pending reschedule request: %w", b.Code, model.ErrInvalidState)
		}
		if err != nil {
			return err
		}
		req, err = closeReschedule(ctx, tx, b.AgentID, req, decision.ReasonCancelled, now)
		return err
	})
	if err != nil {
		return model.RescheduleRequest{}, err
	}
	s.logger.Info("reschedule request cancelled", "booking_id", req.BookingID, "request_id", req.ID)
	return req, nil
}

func (s *Service) cancelPendingReschedule(ctx context.Context, tx storage.Tx, b model.Booking, reason string, now time.Time) error {
	req, err := tx.LatestPendingReschedule(ctx, b.ID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = closeReschedule(ctx, tx, b.AgentID, req, reason, now)
	return err
}

func closeReschedule(ctx context.Context, tx storage.Tx, agentID string, req model.RescheduleRequest, reason string, now time.Time) (model.RescheduleRequest, error) {
	at := now.UTC()
	req.Status = model.RescheduleCancelled
	req.DecisionReason = reason
	req.DecisionAt = &at
	if err := tx.UpdateReschedule(ctx, req); err != nil {
		return req, err
	}
	evt, err := newRescheduleEvent(outbox.RescheduleCancelled, agentID, req)
	if err != nil {
		return req, err
	}
	return req, tx.InsertEvent(ctx, evt)
}

// decide settles one pending request. A booking that is gone or no longer
// upcoming is rejected without consulting the policy.
func (s *Service) decide(ctx context.Context, tx storage.Tx, req model.RescheduleRequest, now time.Time) (model.RescheduleRequest, error) {
	var outcome decision.Outcome
	b, err := tx.GetBooking(ctx, req.BookingID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		outcome = decision.Outcome{Reason: decision.ReasonBookingGone}
	case err != nil:
		return req, err
	case b.Status != model.BookingUpcoming:
		outcome = decision.Outcome{Reason: decision.ReasonInactive}
	default:
		pctx := otelx.ContextWithTraceContext(ctx, req.Traceparent, req.Tracestate)
		if outcome, err = s.policy.Decide(pctx, req, b); err != nil {
			return req, fmt.Errorf("%s policy: %w", s.policy.Name(), err)
		}
	}

	if outcome.Approved {
		b.Date = req.RequestedDate
		b.Start = req.RequestedStart
		b.StartsAt = req.RequestedStart.On(req.RequestedDate, s.loc)
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return req, err
		}
		req.Status = model.RescheduleApproved
	} else {
		req.Status = model.RescheduleRejected
	}
	at := now.UTC()
	req.DecisionReason = outcome.Reason
	req.DecisionAt = &at
	if err := tx.UpdateReschedule(ctx, req); err != nil {
		return req, err
	}
	evt, err := newRescheduleEvent(outbox.RescheduleDecided, b.AgentID, req)
	if err != nil {
		return req, err
	}
	return req, tx.InsertEvent(ctx, evt)
}

func (s *Service) observeDecision(req model.RescheduleRequest) {
	s.metrics.ObserveDecision(string(req.Status))
	s.logger.Info("reschedule decided",
		"booking_id", req.BookingID,
		"request_id", req.ID,
		"status", req.Status,
		"reason", req.DecisionReason,
	)
}

// DecideReschedule settles the latest pending request for a booking now,
// regardless of its due time.
func (s *Service) DecideReschedule(ctx context.Context, booking string) (model.RescheduleRequest, error) {
	ref, err := requireBooking(booking)
	if err != nil {
		return model.RescheduleRequest{}, err
	}
	now := s.now()
	var req model.RescheduleRequest
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		b, err := findBooking(ctx, tx, ref)
		if err != nil {
			return err
		}
		if req, err = tx.LatestPendingReschedule(ctx, b.ID); err != nil {
			return err
		}
		req, err = s.decide(ctx, tx, req, now)
		return err
	})
	if err != nil {
		return model.RescheduleRequest{}, err
	}
	s.observeDecision(req)
	return req, nil
}

// DecideNext claims the oldest due request and decides it. ok is false when
// nothing was due. On error the claimed request is returned so the caller can
// record the failure.
func (s *Service) DecideNext(ctx context.Context) (req model.RescheduleRequest, ok bool, err error) {
	now := s.now()
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		ok = false
		due, err := tx.ClaimDueReschedules(ctx, now, 1)
		if err != nil || len(due) == 0 {
			return err
		}
		req, ok = due[0], true
		decided, err := s.decide(ctx, tx, req, now)
		if err != nil {
			return err
		}
		req = decided
		return nil
	})
	if err == nil && ok {
		s.observeDecision(req)
	}
	return req, ok, err
}

// RecordDecisionFailure counts a failed decision attempt. The request is retried
// after retryIn until maxAttempts is reached, then it is rejected and a
// dead-letter event is written. dead reports the latter.
func (s *Service) RecordDecisionFailure(ctx context.Context, requestID string, cause error, maxAttempts int, retryIn time.Duration) (dead bool, err error) {
	now := s.now()
	var req model.RescheduleRequest
	var changed bool
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		dead, changed = false, false
		r, err := tx.GetReschedule(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status != model.ReschedulePending {
			return nil
		}
		req, changed = r, true
		req.Attempts++
		req.LastError = cause.Error()
		if req.Attempts < maxAttempts {
			req.DecisionDueAt = now.Add(retryIn).UTC()
			return tx.UpdateReschedule(ctx, req)
		}

		dead = true
		at := now.UTC()
		req.Status = model.RescheduleRejected
		req.DecisionReason = decision.ReasonExhausted
		req.DecisionAt = &at
		if err := tx.UpdateReschedule(ctx, req); err != nil {
			return err
		}
		agentID := ""
		if b, err := tx.GetBooking(ctx, req.BookingID); err == nil {
			agentID = b.AgentID
		}
		for _, eventType := range []string{outbox.RescheduleDecided, outbox.RescheduleDLQ} {
			evt, err := newRescheduleEvent(eventType, agentID, req)
			if err != nil {
				return err
			}
			if err := tx.InsertEvent(ctx, evt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || !changed {
		return false, err
	}
	if dead {
		s.metrics.ObserveDecision("dead_letter")
		s.logger.Error("reschedule decision exhausted",
			"request_id", req.ID,
			"booking_id", req.BookingID,
			"attempts", req.Attempts,
			"err", req.LastError,
		)
	} else {
		s.logger.Warn("reschedule decision failed",
			"request_id", req.ID,
			"attempts", req.Attempts,
			"retry_at", req.DecisionDueAt,
			"err", cause,
		)
	}
	return dead, nil
}
