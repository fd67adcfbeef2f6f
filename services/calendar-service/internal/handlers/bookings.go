package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/scheduling"
)

const idempotencyHeader = "Idempotency-Key"

type createBookingRequest struct {
	AgentID         string  `json:"agent_id"`
	Date            string  `json:"date"`
	Time            string  `json:"time"`
	CustomerName    string  `json:"customer_name"`
	TotalPrice      float64 `json:"total_price"`
	ReminderEnabled bool    `json:"reminder_enabled"`
}

func (a *API) CreateBooking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req createBookingRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	start, err := parseClock("time", req.Time)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	conf, err := a.svc.CreateBooking(r.Context(), scheduling.CreateBookingInput{
		AgentID:         strings.TrimSpace(req.AgentID),
		Date:            date,
		Start:           start,
		CustomerName:    req.CustomerName,
		TotalPrice:      req.TotalPrice,
		ReminderEnabled: req.ReminderEnabled,
		IdempotencyKey:  r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if conf.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, http.StatusCreated, conf)
}

type bookingItem struct {
	BookingID       string   `json:"booking_id"`
	BookingCode     string   `json:"booking_code"`
	ReceiptID       string   `json:"receipt_id"`
	AgentID         string   `json:"agent_id"`
	Date            string   `json:"date"`
	Time            string   `json:"time"`
	Status          string   `json:"status"`
	TotalPrice      float64  `json:"total_price"`
	ReminderEnabled bool     `json:"reminder_enabled"`
	CustomerName    string   `json:"customer_name,omitempty"`
	RefundPercent   *int     `json:"refund_percent,omitempty"`
	RefundAmount    *float64 `json:"refund_amount,omitempty"`
	CancelledAt     string   `json:"cancelled_at,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

func bookingView(b model.Booking) bookingItem {
	out := bookingItem{
		BookingID:       b.ID,
		BookingCode:     b.Code,
		ReceiptID:       b.ReceiptID,
		AgentID:         b.AgentID,
		Date:            model.FormatDate(b.Date),
		Time:            b.Start.String(),
		Status:          string(b.Status),
		TotalPrice:      b.TotalPrice,
		ReminderEnabled: b.ReminderEnabled,
		CustomerName:    b.CustomerName,
		CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.CancelledAt != nil {
		pct, amt := b.RefundPercent, b.RefundAmount
		out.RefundPercent, out.RefundAmount = &pct, &amt
		out.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
	}
	return out
}

// Bookings serves ?code= for a single booking and ?agent_id= for a listing.
func (a *API) Bookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	if code := strings.TrimSpace(q.Get("code")); code != "" {
		b, err := a.svc.GetBooking(r.Context(), code)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingView(b))
		return
	}

	limit := 50
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			badRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	list, err := a.svc.ListBookings(r.Context(), q.Get("agent_id"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]bookingItem, 0, len(list))
	for _, b := range list {
		items = append(items, bookingView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": items})
}

type cancelBookingRequest struct {
	BookingCode string `json:"booking_code"`
}

type cancelBookingResponse struct {
	BookingCode    string  `json:"booking_code"`
	Status         string  `json:"status"`
	RefundPercent  int     `json:"refund_percent"`
	RefundAmount   float64 `json:"refund_amount"`
	RefundTimeline string  `json:"refund_timeline"`
}

func (a *API) CancelBooking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req cancelBookingRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.svc.CancelBooking(r.Context(), req.BookingCode)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelBookingResponse{
		BookingCode:    res.BookingCode,
		Status:         string(model.BookingCancelled),
		RefundPercent:  res.RefundPercent,
		RefundAmount:   res.RefundAmount,
		RefundTimeline: res.RefundTimeline,
	})
}

type rescheduleRequest struct {
	BookingID   string `json:"booking_id"`
	BookingCode string `json:"booking_code"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Reason      string `json:"reason"`
}

func (req rescheduleRequest) booking() string {
	if id := strings.TrimSpace(req.BookingID); id != "" {
		return id
	}
	return strings.TrimSpace(req.BookingCode)
}

type rescheduleItem struct {
	RequestID      string `json:"request_id"`
	BookingID      string `json:"booking_id"`
	RequestedDate  string `json:"requested_date"`
	RequestedTime  string `json:"requested_time"`
	Reason         string `json:"reason,omitempty"`
	Status         string `json:"status"`
	DecisionReason string `json:"decision_reason,omitempty"`
	RequestedAt    string `json:"requested_at"`
	DecisionDueAt  string `json:"decision_due_at"`
	DecisionAt     string `json:"decision_at,omitempty"`
}

func rescheduleView(req model.RescheduleRequest) rescheduleItem {
	out := rescheduleItem{
		RequestID:      req.ID,
		BookingID:      req.BookingID,
		RequestedDate:  model.FormatDate(req.RequestedDate),
		RequestedTime:  req.RequestedStart.String(),
		Reason:         req.Reason,
		Status:         string(req.Status),
		DecisionReason: req.DecisionReason,
		RequestedAt:    req.RequestedAt.UTC().Format(time.RFC3339),
		DecisionDueAt:  req.DecisionDueAt.UTC().Format(time.RFC3339),
	}
	if req.DecisionAt != nil {
		out.DecisionAt = req.DecisionAt.UTC().Format(time.RFC3339)
	}
	return out
}

func (a *API) RequestReschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req rescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	start, err := parseClock("time", req.Time)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := a.svc.RequestReschedule(r.Context(), scheduling.RescheduleInput{
		Booking: req.booking(),
		Date:    date,
		Start:   start,
		Reason:  req.Reason,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rescheduleView(out))
}

func (a *API) CancelReschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req rescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.svc.CancelRescheduleRequest(r.Context(), req.booking())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rescheduleView(out))
}

// DecideReschedule settles a booking's pending request immediately.
func (a *API) DecideReschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req rescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.svc.DecideReschedule(r.Context(), req.booking())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rescheduleView(out))
}
