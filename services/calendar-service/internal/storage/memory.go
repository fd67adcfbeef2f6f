package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/outbox"
)

// Memory is a process-local Store used when no database is configured and in
// tests. Units of work run one at a time against a copy of the state, which
// replaces the live state only when fn succeeds.
type Memory struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{state: newMemState(), now: now}
}

func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{s: work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Events returns the outbox events committed so far.
func (m *Memory) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbox.Event(nil), m.state.events...)
}

type memState struct {
	settings      map[string]model.ProviderSettings
	hours         map[string]map[time.Weekday]model.WorkingHourRule
	slots         map[string]model.AvailabilitySlot
	slotByKey     map[model.SlotKey]string
	ledger        map[string]model.LedgerEntry
	ledgerByKey   map[model.SlotKey]string
	bookings      map[string]model.Booking
	bookingByCode map[string]string
	reschedules   map[string]model.RescheduleRequest
	rescheduleSeq map[string]int64
	idempotency   map[[2]string]IdempotencyRecord
	events        []outbox.Event
	seq           int64
}

func newMemState() *memState {
	return &memState{
		settings:      map[string]model.ProviderSettings{},
		hours:         map[string]map[time.Weekday]model.WorkingHourRule{},
		slots:         map[string]model.AvailabilitySlot{},
		slotByKey:     map[model.SlotKey]string{},
		ledger:        map[string]model.LedgerEntry{},
		ledgerByKey:   map[model.SlotKey]string{},
		bookings:      map[string]model.Booking{},
		bookingByCode: map[string]string{},
		reschedules:   map[string]model.RescheduleRequest{},
		rescheduleSeq: map[string]int64{},
		idempotency:   map[[2]string]IdempotencyRecord{},
	}
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *memState) clone() *memState {
	c := &memState{
		settings:      copyMap(s.settings),
		hours:         make(map[string]map[time.Weekday]model.WorkingHourRule, len(s.hours)),
		slots:         copyMap(s.slots),
		slotByKey:     copyMap(s.slotByKey),
		ledger:        copyMap(s.ledger),
		ledgerByKey:   copyMap(s.ledgerByKey),
		bookings:      copyMap(s.bookings),
		bookingByCode: copyMap(s.bookingByCode),
		reschedules:   copyMap(s.reschedules),
		rescheduleSeq: copyMap(s.rescheduleSeq),
		idempotency:   copyMap(s.idempotency),
		events:        append([]outbox.Event(nil), s.events...),
		seq:           s.seq,
	}
	for agent, days := range s.hours {
		c.hours[agent] = copyMap(days)
	}
	return c
}

type memTx struct {
	s   *memState
	now func() time.Time
}

func (t *memTx) GetSettings(_ context.Context, agentID string) (model.ProviderSettings, error) {
	s, ok := t.s.settings[agentID]
	if !ok {
		return model.ProviderSettings{}, fmt.Errorf("agent %s: %w", agentID, model.ErrNotFound)
	}
	return s, nil
}

func (t *memTx) UpsertSettings(_ context.Context, s model.ProviderSettings) (model.ProviderSettings, error) {
	s.UpdatedAt = t.now().UTC()
	t.s.settings[s.AgentID] = s
	return s, nil
}

func (t *memTx) LockAgent(context.Context, string) error { return nil }

func (t *memTx) ListWorkingHours(_ context.Context, agentID string) ([]model.WorkingHourRule, error) {
	var out []model.WorkingHourRule
	for _, r := range t.s.hours[agentID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

func (t *memTx) UpsertWorkingHour(_ context.Context, rule model.WorkingHourRule) error {
	days, ok := t.s.hours[rule.AgentID]
	if !ok {
		days = map[time.Weekday]model.WorkingHourRule{}
		t.s.hours[rule.AgentID] = days
	}
	days[rule.Weekday] = rule
	return nil
}

func slotLess(ad, bd time.Time, as, bs model.Clock) bool {
	if !ad.Equal(bd) {
		return ad.Before(bd)
	}
	return as < bs
}

func (t *memTx) ListAvailability(_ context.Context, agentID string, r DateRange) ([]model.AvailabilitySlot, error) {
	var out []model.AvailabilitySlot
	for _, s := range t.s.slots {
		if s.AgentID == agentID && r.Contains(s.Date) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return slotLess(out[i].Date, out[j].Date, out[i].Start, out[j].Start) })
	return out, nil
}

func (t *memTx) GetAvailability(_ context.Context, slotID string) (model.AvailabilitySlot, error) {
	s, ok := t.s.slots[slotID]
	if !ok {
		return model.AvailabilitySlot{}, fmt.Errorf("slot %s: %w", slotID, model.ErrNotFound)
	}
	return s, nil
}

func (t *memTx) UpsertAvailability(_ context.Context, slot model.AvailabilitySlot) error {
	key := slot.Key()
	if id, ok := t.s.slotByKey[key]; ok {
		existing := t.s.slots[id]
		existing.End = slot.End
		existing.IsAvailable = slot.IsAvailable
		t.s.slots[id] = existing
		return nil
	}
	t.s.slots[slot.ID] = slot
	t.s.slotByKey[key] = slot.ID
	return nil
}

func (t *memTx) SetAvailability(_ context.Context, slotID string, available bool) error {
	s, ok := t.s.slots[slotID]
	if !ok {
		return fmt.Errorf("slot %s: %w", slotID, model.ErrNotFound)
	}
	s.IsAvailable = available
	t.s.slots[slotID] = s
	return nil
}

func (t *memTx) DeleteAvailability(_ context.Context, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		s, ok := t.s.slots[id]
		if !ok {
			continue
		}
		delete(t.s.slots, id)
		delete(t.s.slotByKey, s.Key())
		n++
	}
	return n, nil
}

func (t *memTx) ListLedger(_ context.Context, agentID string, r DateRange) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	for _, e := range t.s.ledger {
		if e.AgentID == agentID && r.Contains(e.Date) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return slotLess(out[i].Date, out[j].Date, out[i].Start, out[j].Start) })
	return out, nil
}

func (t *memTx) UpsertLedger(_ context.Context, entry model.LedgerEntry) error {
	key := entry.Key()
	if id, ok := t.s.ledgerByKey[key]; ok {
		existing := t.s.ledger[id]
		existing.End = entry.End
		existing.TotalCapacity = max(entry.TotalCapacity, existing.BookedCount)
		t.s.ledger[id] = existing
		return nil
	}
	entry.BookedCount = 0
	t.s.ledger[entry.ID] = entry
	t.s.ledgerByKey[key] = entry.ID
	return nil
}

func (t *memTx) DeleteUnbookedLedger(_ context.Context, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		e, ok := t.s.ledger[id]
		if !ok || e.BookedCount != 0 {
			continue
		}
		delete(t.s.ledger, id)
		delete(t.s.ledgerByKey, e.Key())
		n++
	}
	return n, nil
}

func (t *memTx) Reserve(_ context.Context, agentID string, date time.Time, start model.Clock) (model.LedgerEntry, error) {
	id, ok := t.s.ledgerByKey[model.KeyOf(agentID, date, start)]
	if !ok {
		return model.LedgerEntry{}, model.ErrSlotNotFound
	}
	e := t.s.ledger[id]
	if e.BookedCount >= e.TotalCapacity {
		return model.LedgerEntry{}, model.ErrCapacityExceeded
	}
	e.BookedCount++
	t.s.ledger[id] = e
	return e, nil
}

func (t *memTx) Release(_ context.Context, agentID string, date time.Time, start model.Clock) error {
	id, ok := t.s.ledgerByKey[model.KeyOf(agentID, date, start)]
	if !ok {
		return model.ErrSlotNotFound
	}
	e := t.s.ledger[id]
	if e.BookedCount > 0 {
		e.BookedCount--
	}
	t.s.ledger[id] = e
	return nil
}

func (t *memTx) InsertBooking(_ context.Context, b *model.Booking) error {
	if _, dup := t.s.bookingByCode[b.Code]; dup {
		return fmt.Errorf("booking code %s already exists", b.Code)
	}
	b.CreatedAt = t.now().UTC()
	t.s.bookings[b.ID] = *b
	t.s.bookingByCode[b.Code] = b.ID
	return nil
}

func (t *memTx) GetBooking(_ context.Context, id string) (model.Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	return b, nil
}

func (t *memTx) GetBookingByCode(ctx context.Context, code string) (model.Booking, error) {
	id, ok := t.s.bookingByCode[code]
	if !ok {
		return model.Booking{}, fmt.Errorf("booking %s: %w", code, model.ErrNotFound)
	}
	return t.GetBooking(ctx, id)
}

func (t *memTx) ListBookings(_ context.Context, agentID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.Booking
	for _, b := range t.s.bookings {
		if b.AgentID == agentID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return slotLess(out[j].Date, out[i].Date, out[j].Start, out[i].Start) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) UpdateBooking(_ context.Context, b model.Booking) error {
	if _, ok := t.s.bookings[b.ID]; !ok {
		return fmt.Errorf("booking %s: %w", b.ID, model.ErrNotFound)
	}
	t.s.bookings[b.ID] = b
	return nil
}

func (t *memTx) CompletePastBookings(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, b := range t.s.bookings {
		if b.Status == model.BookingUpcoming && b.StartsAt.Before(now) {
			b.Status = model.BookingCompleted
			t.s.bookings[id] = b
			n++
		}
	}
	return n, nil
}

func (t *memTx) LockIdempotencyKey(_ context.Context, agentID, key string) (IdempotencyRecord, bool, error) {
	k := [2]string{agentID, key}
	if rec, ok := t.s.idempotency[k]; ok {
		return rec, true, nil
	}
	rec := IdempotencyRecord{AgentID: agentID, IdempotencyKey: key}
	t.s.idempotency[k] = rec
	return rec, false, nil
}

func (t *memTx) FinalizeIdempotency(_ context.Context, agentID, key, bookingID string, statusCode int, response []byte) error {
	k := [2]string{agentID, key}
	rec := t.s.idempotency[k]
	rec.AgentID, rec.IdempotencyKey = agentID, key
	rec.BookingID = bookingID
	rec.StatusCode = statusCode
	rec.ResponsePayload = append([]byte(nil), response...)
	t.s.idempotency[k] = rec
	return nil
}

func (t *memTx) InsertReschedule(_ context.Context, req model.RescheduleRequest) error {
	t.s.seq++
	t.s.reschedules[req.ID] = req
	t.s.rescheduleSeq[req.ID] = t.s.seq
	return nil
}

func (t *memTx) GetReschedule(_ context.Context, id string) (model.RescheduleRequest, error) {
	r, ok := t.s.reschedules[id]
	if !ok {
		return model.RescheduleRequest{}, fmt.Errorf("reschedule request %s: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (t *memTx) LatestPendingReschedule(_ context.Context, bookingID string) (model.RescheduleRequest, error) {
	var latest model.RescheduleRequest
	var latestSeq int64 = -1
	for id, r := range t.s.reschedules {
		if r.BookingID != bookingID || r.Status != model.ReschedulePending {
			continue
		}
		if seq := t.s.rescheduleSeq[id]; seq > latestSeq {
			latest, latestSeq = r, seq
		}
	}
	if latestSeq < 0 {
		return model.RescheduleRequest{}, fmt.Errorf("pending reschedule for booking %s: %w", bookingID, model.ErrNotFound)
	}
	return latest, nil
}

func (t *memTx) UpdateReschedule(_ context.Context, req model.RescheduleRequest) error {
	if _, ok := t.s.reschedules[req.ID]; !ok {
		return fmt.Errorf("reschedule request %s: %w", req.ID, model.ErrNotFound)
	}
	t.s.reschedules[req.ID] = req
	return nil
}

func (t *memTx) ClaimDueReschedules(_ context.Context, now time.Time, limit int) ([]model.RescheduleRequest, error) {
	var due []model.RescheduleRequest
	for _, r := range t.s.reschedules {
		if r.Status == model.ReschedulePending && !r.DecisionDueAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DecisionDueAt.Equal(due[j].DecisionDueAt) {
			return due[i].DecisionDueAt.Before(due[j].DecisionDueAt)
		}
		return t.s.rescheduleSeq[due[i].ID] < t.s.rescheduleSeq[due[j].ID]
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (t *memTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.s.events = append(t.s.events, evt)
	return nil
}

var (
	_ Store = (*Memory)(nil)
	_ Tx    = (*memTx)(nil)
)
