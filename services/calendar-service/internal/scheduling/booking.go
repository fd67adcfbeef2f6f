package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/refund"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

type CreateBookingInput struct {
	AgentID         string
	Date            time.Time
	Start           model.Clock
	CustomerName    string
	TotalPrice      float64
	ReminderEnabled bool
	// IdempotencyKey, when set, makes a retried request return the first booking.
	IdempotencyKey string
}

type BookingConfirmation struct {
	BookingID   string `json:"booking_id"`
	BookingCode string `json:"booking_code"`
	ReceiptID   string `json:"receipt_id"`
	Replayed    bool   `json:"-"`
}

type bookingEvent struct {
	BookingID   string  `json:"booking_id"`
	BookingCode string  `json:"booking_code"`
	AgentID     string  `json:"agent_id"`
	Date        string  `json:"date"`
	Start       string  `json:"start_time"`
	TotalPrice  float64 `json:"total_price"`
}

type cancellationEvent struct {
	BookingID     string  `json:"booking_id"`
	BookingCode   string  `json:"booking_code"`
	AgentID       string  `json:"agent_id"`
	RefundPercent int     `json:"refund_percent"`
	RefundAmount  float64 `json:"refund_amount"`
}

func newBookingCode() string {
	return "BK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func newReceiptID() string {
	return "RCPT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func reservationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, model.ErrSlotNotFound):
		return "slot_not_found"
	default:
		return "error"
	}
}

// CreateBooking reserves one unit of capacity and records the booking. The
// reservation, the booking row and its event commit together or not at all.
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (BookingConfirmation, error) {
	agentID, err := requireAgent(in.AgentID)
	if err != nil {
		return BookingConfirmation{}, err
	}
	if in.Date.IsZero() {
		return BookingConfirmation{}, model.Invalid("date", "required")
	}
	if !in.Start.Valid() {
		return BookingConfirmation{}, model.Invalid("time", "out of range")
	}
	if in.TotalPrice < 0 {
		return BookingConfirmation{}, model.Invalid("total_price", "must not be negative")
	}
	startsAt := in.Start.On(in.Date, s.loc)
	if startsAt.Before(s.now()) {
		return BookingConfirmation{}, model.Invalid("time", "slot is in the past")
	}
	key := strings.TrimSpace(in.IdempotencyKey)

	var out BookingConfirmation
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if key != "" {
			rec, _, err := tx.LockIdempotencyKey(ctx, agentID, key)
			if err != nil {
				return err
			}
			if rec.BookingID != "" {
				if err := json.Unmarshal(rec.ResponsePayload, &out); err != nil {
					return fmt.Errorf("decode idempotent response: %w", err)
				}
				out.Replayed = true
				return nil
			}
		}

		slots, err := tx.ListAvailability(ctx, agentID, storage.Between(in.Date, in.Date))
		if err != nil {
			return err
		}
		offered := false
		for _, slot := range slots {
			if slot.Start == in.Start {
				offered = slot.IsAvailable
				break
			}
		}
		if !offered {
			return fmt.Errorf("%s %s: %w", model.FormatDate(in.Date), in.Start, model.ErrSlotNotFound)
		}

		if _, err := tx.Reserve(ctx, agentID, in.Date, in.Start); err != nil {
			return err
		}

		b := model.Booking{
			ID:              uuid.NewString(),
			Code:            newBookingCode(),
			ReceiptID:       newReceiptID(),
			AgentID:         agentID,
			Date:            in.Date,
			Start:           in.Start,
			SlotDate:        in.Date,
			SlotStart:       in.Start,
			StartsAt:        startsAt,
			Status:          model.BookingUpcoming,
			TotalPrice:      in.TotalPrice,
			ReminderEnabled: in.ReminderEnabled,
			CustomerName:    strings.TrimSpace(in.CustomerName),
		}
		if err := tx.InsertBooking(ctx, &b); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(outbox.BookingCreated, "booking", b.ID, agentID, bookingEvent{
			BookingID:   b.ID,
			BookingCode: b.Code,
			AgentID:     agentID,
			Date:        model.FormatDate(b.Date),
			Start:       b.Start.String(),
			TotalPrice:  b.TotalPrice,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return err
		}

		out = BookingConfirmation{BookingID: b.ID, BookingCode: b.Code, ReceiptID: b.ReceiptID}
		if key != "" {
			payload, err := json.Marshal(out)
			if err != nil {
				return err
			}
			return tx.FinalizeIdempotency(ctx, agentID, key, b.ID, 201, payload)
		}
		return nil
	})
	if out.Replayed {
		return out, err
	}
	s.metrics.ObserveReservation(reservationOutcome(err))
	if err != nil {
		return BookingConfirmation{}, err
	}
	s.logger.Info("booking created",
		"agent_id", agentID,
		"booking_code", out.BookingCode,
		"date", model.FormatDate(in.Date),
		"start", in.Start.String(),
	)
	return out, nil
}

func (s *Service) GetBooking(ctx context.Context, code string) (model.Booking, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.Booking{}, model.Invalid("code", "required")
	}
	var b model.Booking
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		b, err = tx.GetBookingByCode(ctx, code)
		return err
	})
	return b, err
}

func (s *Service) ListBookings(ctx context.Context, agentID string, limit int) ([]model.Booking, error) {
	agentID, err := requireAgent(agentID)
	if err != nil {
		return nil, err
	}
	var out []model.Booking
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		out, err = tx.ListBookings(ctx, agentID, limit)
		return err
	})
	return out, err
}

type CancelResult struct {
	BookingCode    string
	RefundPercent  int
	RefundAmount   float64
	RefundTimeline string
}

// CancelBooking cancels an upcoming booking, returns its capacity and prices
// the refund. Cancelling twice returns the first refund.
func (s *Service) CancelBooking(ctx context.Context, code string) (CancelResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CancelResult{}, model.Invalid("booking_code", "required")
	}
	now := s.now()

	var out CancelResult
	var fresh, unreleased bool
	var held model.Booking
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		fresh, unreleased = false, false
		b, err := tx.GetBookingByCode(ctx, code)
		if err != nil {
			return err
		}
		switch b.Status {
		case model.BookingCancelled:
			out = CancelResult{BookingCode: b.Code, RefundPercent: b.RefundPercent, RefundAmount: b.RefundAmount}
			return nil
		case model.BookingCompleted:
			return fmt.Errorf("booking %s is completed: %w", b.Code, model.ErrInvalidState)
		}

		quote := refund.Compute(b.TotalPrice, b.StartsAt, now)
		if err := tx.Release(ctx, b.AgentID, b.SlotDate, b.SlotStart); err != nil {
			if !errors.Is(err, model.ErrSlotNotFound) {
				return err
			}
			unreleased = true
		}
		held = b

		if err := s.cancelPendingReschedule(ctx, tx, b, decision.ReasonBookingGone, now); err != nil {
			return err
		}

		cancelledAt := now.UTC()
		b.Status = model.BookingCancelled
		b.ReminderEnabled = false
		b.RefundPercent = quote.Percent
		b.RefundAmount = quote.Amount
		b.CancelledAt = &cancelledAt
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(outbox.BookingCancelled, "booking", b.ID, b.AgentID, cancellationEvent{
			BookingID:     b.ID,
			BookingCode:   b.Code,
			AgentID:       b.AgentID,
			RefundPercent: quote.Percent,
			RefundAmount:  quote.Amount,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return err
		}
		out = CancelResult{BookingCode: b.Code, RefundPercent: quote.Percent, RefundAmount: quote.Amount}
		fresh = true
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	out.RefundTimeline = s.refundTimeline
	if unreleased {
		s.logger.Warn("ConsistencyWarning: no ledger entry to release",
			"booking_code", held.Code,
			"slot_date", model.FormatDate(held.SlotDate),
			"slot_start", held.SlotStart.String(),
		)
	}
	if fresh {
		s.metrics.ObserveCancellation(strconv.Itoa(out.RefundPercent))
		s.logger.Info("booking cancelled",
			"booking_code", out.BookingCode,
			"refund_percent", out.RefundPercent,
			"refund_amount", out.RefundAmount,
		)
	}
	return out, nil
}

// CompletePastBookings marks upcoming bookings whose start time has passed as completed.
func (s *Service) CompletePastBookings(ctx context.Context) (int, error) {
	now := s.now()
	var n int
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.CompletePastBookings(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.ObserveCompleted(n)
	if n > 0 {
		s.logger.Info("bookings completed", "count", n)
	}
	return n, nil
}
