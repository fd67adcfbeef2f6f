package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/agentcal/libs/db"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/outbox"
)

// Postgres is the production Store. Units of work that fail with a transient
// error are retried as a whole.
type Postgres struct {
	conn   db.Conn
	outbox *outbox.Repository
	retry  db.RetryPolicy
}

func NewPostgres(conn db.Conn, retry db.RetryPolicy) *Postgres {
	return &Postgres{conn: conn, outbox: outbox.NewRepository(), retry: retry}
}

func (s *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	return db.RetryTx(ctx, s.conn, s.retry, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, outbox: s.outbox})
	})
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func notFound(err error, what string) error {
	if db.IsNotFound(err) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

func (t *pgTx) GetSettings(ctx context.Context, agentID string) (model.ProviderSettings, error) {
	var s model.ProviderSettings
	var providerType string
	err := t.tx.QueryRow(ctx, `
		SELECT agent_id, provider_type, specialist_count, interval_minutes, service_duration_minutes, updated_at
		FROM provider_settings
		WHERE agent_id = $1
	`, agentID).Scan(&s.AgentID, &providerType, &s.SpecialistCount, &s.IntervalMinutes, &s.ServiceDurationMinutes, &s.UpdatedAt)
	if err != nil {
		return model.ProviderSettings{}, notFound(err, "agent "+agentID)
	}
	s.ProviderType = model.ProviderType(providerType)
	return s, nil
}

func (t *pgTx) UpsertSettings(ctx context.Context, s model.ProviderSettings) (model.ProviderSettings, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO provider_settings (agent_id, provider_type, specialist_count, interval_minutes, service_duration_minutes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE
		SET provider_type = EXCLUDED.provider_type,
			specialist_count = EXCLUDED.specialist_count,
			interval_minutes = EXCLUDED.interval_minutes,
			service_duration_minutes = EXCLUDED.service_duration_minutes,
			updated_at = now()
		RETURNING updated_at
	`, s.AgentID, string(s.ProviderType), s.SpecialistCount, s.IntervalMinutes, s.ServiceDurationMinutes).Scan(&s.UpdatedAt)
	return s, err
}

func (t *pgTx) LockAgent(ctx context.Context, agentID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('agentcal.regenerate:' || $1))`, agentID)
	return err
}

func (t *pgTx) ListWorkingHours(ctx context.Context, agentID string) ([]model.WorkingHourRule, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT weekday, is_closed, start_minute, end_minute
		FROM working_hours
		WHERE agent_id = $1
		ORDER BY weekday
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.WorkingHourRule
	for rows.Next() {
		var weekday int16
		var start, end int
		rule := model.WorkingHourRule{AgentID: agentID}
		if err := rows.Scan(&weekday, &rule.IsClosed, &start, &end); err != nil {
			return nil, err
		}
		rule.Weekday = time.Weekday(weekday)
		rule.Start, rule.End = model.Clock(start), model.Clock(end)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (t *pgTx) UpsertWorkingHour(ctx context.Context, rule model.WorkingHourRule) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO working_hours (agent_id, weekday, is_closed, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id, weekday) DO UPDATE
		SET is_closed = EXCLUDED.is_closed,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			updated_at = now()
	`, rule.AgentID, int16(rule.Weekday), rule.IsClosed, int(rule.Start), int(rule.End))
	return err
}

const availabilityColumns = `id::text, agent_id, slot_date, start_minute, end_minute, is_available`

func scanAvailability(row pgx.Row) (model.AvailabilitySlot, error) {
	var s model.AvailabilitySlot
	var start, end int
	if err := row.Scan(&s.ID, &s.AgentID, &s.Date, &start, &end, &s.IsAvailable); err != nil {
		return model.AvailabilitySlot{}, err
	}
	s.Start, s.End = model.Clock(start), model.Clock(end)
	return s, nil
}

func (t *pgTx) ListAvailability(ctx context.Context, agentID string, r DateRange) ([]model.AvailabilitySlot, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM availability_slots
		WHERE agent_id = $1
			AND ($2::date IS NULL OR slot_date >= $2::date)
			AND ($3::date IS NULL OR slot_date <= $3::date)
		ORDER BY slot_date, start_minute
	`, agentID, r.From, r.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilitySlot
	for rows.Next() {
		s, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) GetAvailability(ctx context.Context, slotID string) (model.AvailabilitySlot, error) {
	s, err := scanAvailability(t.tx.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM availability_slots
		WHERE id = $1
	`, slotID))
	if err != nil {
		return model.AvailabilitySlot{}, notFound(err, "slot "+slotID)
	}
	return s, nil
}

func (t *pgTx) UpsertAvailability(ctx context.Context, slot model.AvailabilitySlot) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO availability_slots (id, agent_id, slot_date, start_minute, end_minute, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id, slot_date, start_minute) DO UPDATE
		SET is_available = EXCLUDED.is_available,
			end_minute = EXCLUDED.end_minute
	`, slot.ID, slot.AgentID, slot.Date, int(slot.Start), int(slot.End), slot.IsAvailable)
	return err
}

func (t *pgTx) SetAvailability(ctx context.Context, slotID string, available bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE availability_slots SET is_available = $2 WHERE id = $1`, slotID, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("slot %s: %w", slotID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteAvailability(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM availability_slots WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const ledgerColumns = `id::text, agent_id, slot_date, start_minute, end_minute, total_capacity, booked_count`

func scanLedger(row pgx.Row) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	var start, end int
	if err := row.Scan(&e.ID, &e.AgentID, &e.Date, &start, &end, &e.TotalCapacity, &e.BookedCount); err != nil {
		return model.LedgerEntry{}, err
	}
	e.Start, e.End = model.Clock(start), model.Clock(end)
	return e, nil
}

func (t *pgTx) ListLedger(ctx context.Context, agentID string, r DateRange) ([]model.LedgerEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM booking_slots
		WHERE agent_id = $1
			AND ($2::date IS NULL OR slot_date >= $2::date)
			AND ($3::date IS NULL OR slot_date <= $3::date)
		ORDER BY slot_date, start_minute
	`, agentID, r.From, r.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) UpsertLedger(ctx context.Context, entry model.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_slots (id, agent_id, slot_date, start_minute, end_minute, total_capacity)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id, slot_date, start_minute) DO UPDATE
		SET end_minute = EXCLUDED.end_minute,
			total_capacity = GREATEST(EXCLUDED.total_capacity, booking_slots.booked_count),
			updated_at = now()
	`, entry.ID, entry.AgentID, entry.Date, int(entry.Start), int(entry.End), entry.TotalCapacity)
	return err
}

func (t *pgTx) DeleteUnbookedLedger(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM booking_slots WHERE id = ANY($1::uuid[]) AND booked_count = 0`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) Reserve(ctx context.Context, agentID string, date time.Time, start model.Clock) (model.LedgerEntry, error) {
	e, err := scanLedger(t.tx.QueryRow(ctx, `
		UPDATE booking_slots
		SET booked_count = booked_count + 1, updated_at = now()
		WHERE agent_id = $1 AND slot_date = $2 AND start_minute = $3
			AND booked_count < total_capacity
		RETURNING `+ledgerColumns, agentID, date, int(start)))
	if err == nil {
		return e, nil
	}
	if !db.IsNotFound(err) {
		return model.LedgerEntry{}, err
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM booking_slots
			WHERE agent_id = $1 AND slot_date = $2 AND start_minute = $3
		)
	`, agentID, date, int(start)).Scan(&exists); err != nil {
		return model.LedgerEntry{}, err
	}
	if exists {
		return model.LedgerEntry{}, model.ErrCapacityExceeded
	}
	return model.LedgerEntry{}, model.ErrSlotNotFound
}

func (t *pgTx) Release(ctx context.Context, agentID string, date time.Time, start model.Clock) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE booking_slots
		SET booked_count = GREATEST(booked_count - 1, 0), updated_at = now()
		WHERE agent_id = $1 AND slot_date = $2 AND start_minute = $3
	`, agentID, date, int(start))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrSlotNotFound
	}
	return nil
}

const bookingColumns = `id::text, code, receipt_id, agent_id, booking_date, start_minute, slot_date, slot_start_minute,
	starts_at, status, total_price::float8, reminder_enabled, customer_name, refund_percent, refund_amount::float8,
	cancelled_at, created_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var start, slotStart int
	var status string
	if err := row.Scan(&b.ID, &b.Code, &b.ReceiptID, &b.AgentID, &b.Date, &start, &b.SlotDate, &slotStart,
		&b.StartsAt, &status, &b.TotalPrice, &b.ReminderEnabled, &b.CustomerName, &b.RefundPercent, &b.RefundAmount,
		&b.CancelledAt, &b.CreatedAt); err != nil {
		return model.Booking{}, err
	}
	b.Start, b.SlotStart = model.Clock(start), model.Clock(slotStart)
	b.Status = model.BookingStatus(status)
	return b, nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, code, receipt_id, agent_id, booking_date, start_minute, slot_date, slot_start_minute,
			 starts_at, status, total_price, reminder_enabled, customer_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`, b.ID, b.Code, b.ReceiptID, b.AgentID, b.Date, int(b.Start), b.SlotDate, int(b.SlotStart),
		b.StartsAt, string(b.Status), b.TotalPrice, b.ReminderEnabled, b.CustomerName).Scan(&b.CreatedAt)
}

func (t *pgTx) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Booking{}, notFound(err, "booking "+id)
	}
	return b, nil
}

func (t *pgTx) GetBookingByCode(ctx context.Context, code string) (model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE code = $1 FOR UPDATE`, code))
	if err != nil {
		return model.Booking{}, notFound(err, "booking "+code)
	}
	return b, nil
}

func (t *pgTx) ListBookings(ctx context.Context, agentID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE agent_id = $1
		ORDER BY booking_date DESC, start_minute DESC
		LIMIT $2
	`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateBooking(ctx context.Context, b model.Booking) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET booking_date = $2,
			start_minute = $3,
			starts_at = $4,
			status = $5,
			reminder_enabled = $6,
			refund_percent = $7,
			refund_amount = $8,
			cancelled_at = $9,
			updated_at = now()
		WHERE id = $1
	`, b.ID, b.Date, int(b.Start), b.StartsAt, string(b.Status), b.ReminderEnabled, b.RefundPercent, b.RefundAmount, b.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) CompletePastBookings(ctx context.Context, now time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'completed', updated_at = now()
		WHERE status = 'upcoming' AND starts_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) LockIdempotencyKey(ctx context.Context, agentID, key string) (IdempotencyRecord, bool, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, agentID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (agent_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (agent_id, idempotency_key) DO NOTHING
	`, agentID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = t.selectIdempotencyForUpdate(ctx, agentID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (t *pgTx) FinalizeIdempotency(ctx context.Context, agentID, key, bookingID string, statusCode int, response []byte) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE agent_id = $1 AND idempotency_key = $2
	`, agentID, key, bookingID, statusCode, response)
	return err
}

func (t *pgTx) selectIdempotencyForUpdate(ctx context.Context, agentID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := t.tx.QueryRow(ctx, `
		SELECT agent_id,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE agent_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, agentID, key).Scan(&rec.AgentID, &rec.IdempotencyKey, &rec.BookingID, &rec.StatusCode, &responseText)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

const rescheduleColumns = `id::text, booking_id::text, requested_date, requested_start_minute, reason, status,
	decision_reason, requested_at, decision_due_at, decision_at, attempts, last_error, traceparent, tracestate`

func scanReschedule(row pgx.Row) (model.RescheduleRequest, error) {
	var r model.RescheduleRequest
	var start int
	var status string
	if err := row.Scan(&r.ID, &r.BookingID, &r.RequestedDate, &start, &r.Reason, &status,
		&r.DecisionReason, &r.RequestedAt, &r.DecisionDueAt, &r.DecisionAt, &r.Attempts, &r.LastError,
		&r.Traceparent, &r.Tracestate); err != nil {
		return model.RescheduleRequest{}, err
	}
	r.RequestedStart = model.Clock(start)
	r.Status = model.RescheduleStatus(status)
	return r, nil
}

func (t *pgTx) InsertReschedule(ctx context.Context, req model.RescheduleRequest) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reschedule_requests
			(id, booking_id, requested_date, requested_start_minute, reason, status, requested_at, decision_due_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.BookingID, req.RequestedDate, int(req.RequestedStart), req.Reason, string(req.Status),
		req.RequestedAt, req.DecisionDueAt, req.Traceparent, req.Tracestate)
	return err
}

func (t *pgTx) GetReschedule(ctx context.Context, id string) (model.RescheduleRequest, error) {
	r, err := scanReschedule(t.tx.QueryRow(ctx, `SELECT `+rescheduleColumns+` FROM reschedule_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.RescheduleRequest{}, notFound(err, "reschedule request "+id)
	}
	return r, nil
}

func (t *pgTx) LatestPendingReschedule(ctx context.Context, bookingID string) (model.RescheduleRequest, error) {
	r, err := scanReschedule(t.tx.QueryRow(ctx, `
		SELECT `+rescheduleColumns+`
		FROM reschedule_requests
		WHERE booking_id = $1 AND status = 'pending'
		ORDER BY requested_at DESC
		LIMIT 1
		FOR UPDATE
	`, bookingID))
	if err != nil {
		return model.RescheduleRequest{}, notFound(err, "pending reschedule for booking "+bookingID)
	}
	return r, nil
}

func (t *pgTx) UpdateReschedule(ctx context.Context, req model.RescheduleRequest) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE reschedule_requests
		SET status = $2,
			decision_reason = $3,
			decision_at = $4,
			decision_due_at = $5,
			attempts = $6,
			last_error = $7
		WHERE id = $1
	`, req.ID, string(req.Status), req.DecisionReason, req.DecisionAt, req.DecisionDueAt, req.Attempts, req.LastError)
	return err
}

func (t *pgTx) ClaimDueReschedules(ctx context.Context, now time.Time, limit int) ([]model.RescheduleRequest, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+rescheduleColumns+`
		FROM reschedule_requests
		WHERE status = 'pending' AND decision_due_at <= $1
		ORDER BY decision_due_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RescheduleRequest
	for rows.Next() {
		r, err := scanReschedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
)
