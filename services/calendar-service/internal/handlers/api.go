package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agentcal/libs/httpx"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/scheduling"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
)

type API struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewAPI(svc *scheduling.Service, logger *slog.Logger) *API {
	return &API{svc: svc, logger: logger}
}

// Register mounts every route on mux. Routes under /api/v1/public are wrapped
// with public, typically a rate limiter.
func (a *API) Register(mux *http.ServeMux, public httpx.Middleware) {
	mux.HandleFunc("/api/v1/agents/settings", a.Settings)
	mux.HandleFunc("/api/v1/agents/working-hours", a.WorkingHours)
	mux.HandleFunc("/api/v1/agents/slots/generate", a.GenerateSlots)
	mux.HandleFunc("/api/v1/agents/slots/clear", a.ClearSlots)
	mux.HandleFunc("/api/v1/agents/slots", a.ListSlots)
	mux.HandleFunc("/api/v1/slots/availability", a.SetSlotAvailability)
	mux.HandleFunc("/api/v1/slots/delete", a.DeleteSlot)
	mux.HandleFunc("/api/v1/bookings", a.Bookings)
	mux.HandleFunc("/api/v1/bookings/cancel", a.CancelBooking)
	mux.HandleFunc("/api/v1/bookings/reschedule", a.RequestReschedule)
	mux.HandleFunc("/api/v1/bookings/reschedule/cancel", a.CancelReschedule)
	mux.HandleFunc("/api/v1/bookings/reschedule/decide", a.DecideReschedule)

	mux.Handle("/api/v1/public/slots", httpx.Chain(http.HandlerFunc(a.AvailableSlots), public))
	mux.Handle("/api/v1/public/book", httpx.Chain(http.HandlerFunc(a.CreateBooking), public))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrSlotNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrCapacityExceeded),
		errors.Is(err, model.ErrPendingReschedule),
		errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, model.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		a.logger.Error("request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		msg = "internal error"
	case http.StatusServiceUnavailable:
		a.logger.Warn("store unavailable", "path", r.URL.Path, "err", err)
		msg = "store temporarily unavailable"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "invalid json body")
		return false
	}
	return true
}

func parseDate(field, raw string) (time.Time, error) {
	d, err := model.ParseDate(raw)
	if err != nil {
		return time.Time{}, model.Invalid(field, err.Error())
	}
	return d, nil
}

func parseClock(field, raw string) (model.Clock, error) {
	c, err := model.ParseClock(raw)
	if err != nil {
		return 0, model.Invalid(field, err.Error())
	}
	return c, nil
}

// parseRange reads optional inclusive date bounds.
func parseRange(fromRaw, toRaw string) (storage.DateRange, error) {
	var r storage.DateRange
	if s := strings.TrimSpace(fromRaw); s != "" {
		d, err := parseDate("start_date", s)
		if err != nil {
			return r, err
		}
		r.From = &d
	}
	if s := strings.TrimSpace(toRaw); s != "" {
		d, err := parseDate("end_date", s)
		if err != nil {
			return r, err
		}
		r.To = &d
	}
	return r, nil
}
