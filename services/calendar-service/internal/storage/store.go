package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/outbox"
)

// Store runs units of work. Every mutation that spans tables goes through one
// InTx call so a failure leaves no partial state behind.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

// DateRange is inclusive on both ends; a nil bound is open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

func Between(from, to time.Time) DateRange {
	return DateRange{From: &from, To: &to}
}

func (r DateRange) Contains(d time.Time) bool {
	if r.From != nil && d.Before(*r.From) {
		return false
	}
	if r.To != nil && d.After(*r.To) {
		return false
	}
	return true
}

type IdempotencyRecord struct {
	AgentID         string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

// Tx is the set of operations available inside a unit of work.
// Lookups of missing rows return errors matching model.ErrNotFound.
type Tx interface {
	GetSettings(ctx context.Context, agentID string) (model.ProviderSettings, error)
	UpsertSettings(ctx context.Context, s model.ProviderSettings) (model.ProviderSettings, error)
	// LockAgent serializes slot regeneration for one agent until the unit of work ends.
	LockAgent(ctx context.Context, agentID string) error

	ListWorkingHours(ctx context.Context, agentID string) ([]model.WorkingHourRule, error)
	UpsertWorkingHour(ctx context.Context, rule model.WorkingHourRule) error

	ListAvailability(ctx context.Context, agentID string, r DateRange) ([]model.AvailabilitySlot, error)
	GetAvailability(ctx context.Context, slotID string) (model.AvailabilitySlot, error)
	// UpsertAvailability keeps a manual disable when the slot boundary is unchanged.
	UpsertAvailability(ctx context.Context, slot model.AvailabilitySlot) error
	SetAvailability(ctx context.Context, slotID string, available bool) error
	DeleteAvailability(ctx context.Context, ids []string) (int, error)

	ListLedger(ctx context.Context, agentID string, r DateRange) ([]model.LedgerEntry, error)
	// UpsertLedger never lowers total capacity below the booked count and never touches booked_count.
	UpsertLedger(ctx context.Context, entry model.LedgerEntry) error
	// DeleteUnbookedLedger removes only entries whose booked_count is zero.
	DeleteUnbookedLedger(ctx context.Context, ids []string) (int, error)
	// Reserve consumes one unit of capacity or fails with ErrSlotNotFound / ErrCapacityExceeded.
	Reserve(ctx context.Context, agentID string, date time.Time, start model.Clock) (model.LedgerEntry, error)
	// Release returns one unit of capacity, flooring booked_count at zero.
	Release(ctx context.Context, agentID string, date time.Time, start model.Clock) error

	InsertBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (model.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (model.Booking, error)
	ListBookings(ctx context.Context, agentID string, limit int) ([]model.Booking, error)
	UpdateBooking(ctx context.Context, b model.Booking) error
	CompletePastBookings(ctx context.Context, now time.Time) (int, error)

	LockIdempotencyKey(ctx context.Context, agentID, key string) (IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, agentID, key, bookingID string, statusCode int, response []byte) error

	InsertReschedule(ctx context.Context, req model.RescheduleRequest) error
	GetReschedule(ctx context.Context, id string) (model.RescheduleRequest, error)
	LatestPendingReschedule(ctx context.Context, bookingID string) (model.RescheduleRequest, error)
	UpdateReschedule(ctx context.Context, req model.RescheduleRequest) error
	// ClaimDueReschedules locks pending requests whose decision time has passed.
	// Requests locked by another worker are skipped.
	ClaimDueReschedules(ctx context.Context, now time.Time, limit int) ([]model.RescheduleRequest, error)

	InsertEvent(ctx context.Context, evt outbox.Event) error
}
