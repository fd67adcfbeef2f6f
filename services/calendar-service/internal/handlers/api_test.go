package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/agentcal/libs/httpx"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/scheduling"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

// Sunday 2026-03-01 08:00 UTC.
var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestMux(t *testing.T, public httpx.Middleware) *http.ServeMux {
	t.Helper()
	now := func() time.Time { return testNow }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := scheduling.NewService(storage.NewMemory(now), logger, scheduling.Config{
		Policy: decision.Approve(time.Minute),
		Now:    now,
	})
	mux := http.NewServeMux()
	NewAPI(svc, logger).Register(mux, public)
	return mux
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func setupAgent(t *testing.T, h http.Handler) {
	t.Helper()
	rec := do(t, h, http.MethodPut, "/api/v1/agents/settings", map[string]any{
		"agent_id": "agent-1", "provider_type": "solo", "service_duration_minutes": 60,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("settings: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPut, "/api/v1/agents/working-hours", map[string]any{
		"agent_id": "agent-1",
		"working_hours": []map[string]any{
			{"day": "Monday", "start_time": "09:00", "end_time": "13:00", "enabled": true},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("working hours: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/api/v1/agents/slots/generate", map[string]any{
		"agent_id": "agent-1", "start_date": "2026-03-02", "end_date": "2026-03-02",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", rec.Code, rec.Body.String())
	}
	var gen generateSlotsResponse
	decodeBody(t, rec, &gen)
	if gen.SlotsCreated != 4 || gen.SettingsUsed.ServiceDurationMinutes != 60 {
		t.Fatalf("unexpected generate response %+v", gen)
	}
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	mux := newTestMux(t, nil)
	setupAgent(t, mux)

	rec := do(t, mux, http.MethodGet, "/api/v1/public/slots?agent_id=agent-1&date=2026-03-02", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public slots: %d %s", rec.Code, rec.Body.String())
	}
	var avail struct {
		Slots []availableSlotItem `json:"slots"`
	}
	decodeBody(t, rec, &avail)
	if len(avail.Slots) != 4 || avail.Slots[0].DisplayTime != "9:00 AM" || avail.Slots[0].StartTime != "09:00:00" {
		t.Fatalf("unexpected slots %+v", avail.Slots)
	}

	book := map[string]any{"agent_id": "agent-1", "date": "2026-03-02", "time": "10:00", "customer_name": "Nadia", "total_price": 200}
	rec = do(t, mux, http.MethodPost, "/api/v1/public/book", book)
	if rec.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}
	var conf scheduling.BookingConfirmation
	decodeBody(t, rec, &conf)
	if conf.BookingCode == "" || conf.ReceiptID == "" {
		t.Fatalf("missing identifiers: %+v", conf)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/public/book", book)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for full slot, got %d %s", rec.Code, rec.Body.String())
	}
	var apiErr errorResponse
	decodeBody(t, rec, &apiErr)
	if apiErr.Error == "" {
		t.Fatal("expected error message")
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/bookings?code="+conf.BookingCode, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get booking: %d", rec.Code)
	}
	var b bookingItem
	decodeBody(t, rec, &b)
	if b.Status != "upcoming" || b.Time != "10:00:00" || b.RefundPercent != nil {
		t.Fatalf("unexpected booking %+v", b)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/bookings/reschedule", map[string]any{"booking_code": conf.BookingCode, "date": "2026-03-02", "time": "12:00"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reschedule: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodPost, "/api/v1/bookings/reschedule", map[string]any{"booking_code": conf.BookingCode, "date": "2026-03-02", "time": "11:00"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second reschedule, got %d", rec.Code)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/bookings/cancel", map[string]any{"booking_code": conf.BookingCode})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	var cancel cancelBookingResponse
	decodeBody(t, rec, &cancel)
	if cancel.RefundPercent != 100 || cancel.RefundAmount != 200 || cancel.RefundTimeline != "5-7 business days" {
		t.Fatalf("unexpected refund %+v", cancel)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/bookings/reschedule/cancel", map[string]any{"booking_code": conf.BookingCode})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 once the booking closed its request, got %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/bookings?agent_id=agent-1", nil)
	var list struct {
		Bookings []bookingItem `json:"bookings"`
	}
	decodeBody(t, rec, &list)
	if len(list.Bookings) != 1 || list.Bookings[0].Status != "cancelled" || *list.Bookings[0].RefundPercent != 100 {
		t.Fatalf("unexpected listing %+v", list.Bookings)
	}
}

func TestCreateBookingReplaysIdempotencyKey(t *testing.T) {
	mux := newTestMux(t, nil)
	setupAgent(t, mux)

	book := map[string]any{"agent_id": "agent-1", "date": "2026-03-02", "time": "09:00", "total_price": 50}
	first := do(t, mux, http.MethodPost, "/api/v1/public/book", book, "Idempotency-Key", "abc")
	second := do(t, mux, http.MethodPost, "/api/v1/public/book", book, "Idempotency-Key", "abc")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay header")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body differs: %s vs %s", first.Body.String(), second.Body.String())
	}
}

func TestSlotAdministration(t *testing.T) {
	mux := newTestMux(t, nil)
	setupAgent(t, mux)

	rec := do(t, mux, http.MethodGet, "/api/v1/agents/slots?agent_id=agent-1&start_date=2026-03-02&end_date=2026-03-02", nil)
	var listing struct {
		Slots []slotItem `json:"slots"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(listing.Slots))
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/slots/availability", map[string]any{"slot_id": listing.Slots[0].ID, "is_available": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("availability: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodPost, "/api/v1/slots/availability", map[string]any{"slot_id": listing.Slots[0].ID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without is_available, got %d", rec.Code)
	}
	rec = do(t, mux, http.MethodPost, "/api/v1/slots/delete", map[string]any{"slot_id": listing.Slots[1].ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodPost, "/api/v1/slots/delete", map[string]any{"slot_id": listing.Slots[1].ID})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/public/slots?agent_id=agent-1&date=2026-03-02", nil)
	var avail struct {
		Slots []availableSlotItem `json:"slots"`
	}
	decodeBody(t, rec, &avail)
	if len(avail.Slots) != 2 {
		t.Fatalf("expected 2 bookable slots, got %+v", avail.Slots)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/agents/slots/clear", map[string]any{"agent_id": "agent-1"})
	var cleared map[string]int
	decodeBody(t, rec, &cleared)
	if cleared["slots_removed"] != 3 {
		t.Fatalf("expected 3 cleared, got %v", cleared)
	}
}

func TestRequestValidation(t *testing.T) {
	mux := newTestMux(t, nil)
	cases := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodDelete, "/api/v1/agents/settings", nil, http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/agents/settings?agent_id=ghost", nil, http.StatusNotFound},
		{http.MethodGet, "/api/v1/agents/working-hours", nil, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/agents/slots/generate", map[string]any{"agent_id": "a", "start_date": "03/02/2026", "end_date": "2026-03-02"}, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/agents/slots/generate", map[string]any{"agent_id": "a", "start_date": "2026-03-05", "end_date": "2026-03-02"}, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/public/slots?agent_id=a&date=2026-03-02&service_duration=-1", nil, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/public/book", map[string]any{"agent_id": "a", "date": "2026-03-02", "time": "25:00"}, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/bookings/cancel", map[string]any{"booking_code": "BK-NOPE"}, http.StatusNotFound},
		{http.MethodGet, "/api/v1/bookings?agent_id=a&limit=0", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := do(t, mux, tc.method, tc.path, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d (%s)", tc.method, tc.path, tc.want, rec.Code, rec.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestPublicMiddlewareOnlyWrapsPublicRoutes(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	mux := newTestMux(t, deny)
	if rec := do(t, mux, http.MethodGet, "/api/v1/public/slots?agent_id=a&date=2026-03-02", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected public route limited, got %d", rec.Code)
	}
	if rec := do(t, mux, http.MethodGet, "/api/v1/agents/settings?agent_id=a", nil); rec.Code == http.StatusTooManyRequests {
		t.Fatal("admin route must not be limited")
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		model.Invalid("x", "bad"):                          http.StatusBadRequest,
		fmt.Errorf("wrap: %w", model.ErrNotFound):          http.StatusNotFound,
		model.ErrSlotNotFound:                              http.StatusNotFound,
		model.ErrCapacityExceeded:                          http.StatusConflict,
		model.ErrPendingReschedule:                         http.StatusConflict,
		model.ErrInvalidState:                              http.StatusConflict,
		fmt.Errorf("%w: timeout", model.ErrTransientStore): http.StatusServiceUnavailable,
		errors.New("boom"):                                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("%v: expected %d, got %d", err, want, got)
		}
	}
}

// encodeFailStore fails every unit of work the way pgx does when a parameter
// cannot be encoded for a uuid column.
type encodeFailStore struct{ calls int }

func (s *encodeFailStore) InTx(context.Context, func(storage.Tx) error) error {
	s.calls++
	return errors.New("failed to encode args[0]: cannot find encode plan")
}

func TestMalformedSlotIDIsNotFound(t *testing.T) {
	store := &encodeFailStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := scheduling.NewService(store, logger, scheduling.Config{
		Policy: decision.Approve(time.Minute),
		Now:    func() time.Time { return testNow },
	})
	mux := http.NewServeMux()
	NewAPI(svc, logger).Register(mux, nil)

	if rec := do(t, mux, http.MethodPost, "/api/v1/slots/delete", map[string]any{"slot_id": "abc"}); rec.Code != http.StatusNotFound {
		t.Fatalf("delete: expected 404, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, mux, http.MethodPost, "/api/v1/slots/availability", map[string]any{"slot_id": "abc", "is_available": true}); rec.Code != http.StatusNotFound {
		t.Fatalf("availability: expected 404, got %d %s", rec.Code, rec.Body.String())
	}
	if store.calls != 0 {
		t.Fatalf("malformed ids must not reach the store, got %d calls", store.calls)
	}
}
