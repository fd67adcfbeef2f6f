package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
)

type slotItem struct {
	ID                string `json:"id"`
	AgentID           string `json:"agent_id"`
	Date              string `json:"date"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	IsAvailable       bool   `json:"is_available"`
	TotalCapacity     int    `json:"total_capacity"`
	BookedCount       int    `json:"booked_count"`
	AvailableCapacity int    `json:"available_capacity"`
}

func slotView(v model.SlotView) slotItem {
	return slotItem{
		ID:                v.ID,
		AgentID:           v.AgentID,
		Date:              model.FormatDate(v.Date),
		StartTime:         v.Start.String(),
		EndTime:           v.End.String(),
		IsAvailable:       v.IsAvailable,
		TotalCapacity:     v.TotalCapacity,
		BookedCount:       v.BookedCount,
		AvailableCapacity: v.AvailableCapacity(),
	}
}

func (a *API) ListSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	rng, err := parseRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views, err := a.svc.ListSlots(r.Context(), q.Get("agent_id"), rng)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]slotItem, 0, len(views))
	for _, v := range views {
		items = append(items, slotView(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items})
}

type clearSlotsRequest struct {
	AgentID   string `json:"agent_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (a *API) ClearSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req clearSlotsRequest
	if !decode(w, r, &req) {
		return
	}
	rng, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	removed, err := a.svc.ClearSlots(r.Context(), req.AgentID, rng)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"slots_removed": removed})
}

type slotAvailabilityRequest struct {
	SlotID      string `json:"slot_id"`
	IsAvailable *bool  `json:"is_available"`
}

func (a *API) SetSlotAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req slotAvailabilityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IsAvailable == nil {
		badRequest(w, "is_available is required")
		return
	}
	slot, err := a.svc.SetSlotAvailability(r.Context(), req.SlotID, *req.IsAvailable)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slot_id": slot.ID, "is_available": slot.IsAvailable})
}

type deleteSlotRequest struct {
	SlotID string `json:"slot_id"`
}

func (a *API) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req deleteSlotRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.svc.DeleteSlot(r.Context(), req.SlotID); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slot_id": strings.TrimSpace(req.SlotID), "status": "deleted"})
}

type availableSlotItem struct {
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	DisplayTime       string `json:"display_time"`
	AvailableCapacity int    `json:"available_capacity"`
	TotalCapacity     int    `json:"total_capacity"`
	IsLimited         bool   `json:"is_limited"`
}

func (a *API) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	date, err := parseDate("date", q.Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	duration := 0
	if raw := strings.TrimSpace(q.Get("service_duration")); raw != "" {
		if duration, err = strconv.Atoi(raw); err != nil || duration <= 0 {
			badRequest(w, "service_duration must be a positive integer")
			return
		}
	}
	open, err := a.svc.GetAvailableSlots(r.Context(), q.Get("agent_id"), date, duration)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]availableSlotItem, 0, len(open))
	for _, o := range open {
		items = append(items, availableSlotItem{
			StartTime:         o.Start.String(),
			EndTime:           o.End.String(),
			DisplayTime:       o.Display,
			AvailableCapacity: o.AvailableCapacity,
			TotalCapacity:     o.TotalCapacity,
			IsLimited:         o.IsLimited,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": model.FormatDate(date), "slots": items})
}
