package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/scheduling"
)

type settingsBody struct {
	AgentID                string `json:"agent_id"`
	ProviderType           string `json:"provider_type"`
	SpecialistCount        int    `json:"specialist_count"`
	IntervalMinutes        int    `json:"interval_minutes"`
	ServiceDurationMinutes int    `json:"service_duration_minutes"`
	UpdatedAt              string `json:"updated_at,omitempty"`
}

func settingsView(s model.ProviderSettings) settingsBody {
	out := settingsBody{
		AgentID:                s.AgentID,
		ProviderType:           string(s.ProviderType),
		SpecialistCount:        s.SpecialistCount,
		IntervalMinutes:        s.IntervalMinutes,
		ServiceDurationMinutes: s.ServiceDurationMinutes,
	}
	if !s.UpdatedAt.IsZero() {
		out.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func (a *API) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s, err := a.svc.GetProviderSettings(r.Context(), r.URL.Query().Get("agent_id"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settingsView(s))
	case http.MethodPut:
		var req settingsBody
		if !decode(w, r, &req) {
			return
		}
		s, err := a.svc.SetProviderSettings(r.Context(), model.ProviderSettings{
			AgentID:                strings.TrimSpace(req.AgentID),
			ProviderType:           model.ProviderType(strings.ToLower(strings.TrimSpace(req.ProviderType))),
			SpecialistCount:        req.SpecialistCount,
			IntervalMinutes:        req.IntervalMinutes,
			ServiceDurationMinutes: req.ServiceDurationMinutes,
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settingsView(s))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

type dayHours struct {
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Enabled   bool   `json:"enabled"`
}

type workingHoursBody struct {
	AgentID      string     `json:"agent_id"`
	WorkingHours []dayHours `json:"working_hours"`
}

func weekView(agentID string, week []model.WorkingHourRule) workingHoursBody {
	out := workingHoursBody{AgentID: agentID, WorkingHours: make([]dayHours, 0, len(week))}
	for _, rule := range week {
		out.WorkingHours = append(out.WorkingHours, dayHours{
			Day:       rule.Weekday.String(),
			StartTime: rule.Start.String(),
			EndTime:   rule.End.String(),
			Enabled:   !rule.IsClosed,
		})
	}
	return out
}

func (a *API) WorkingHours(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agentID := strings.TrimSpace(r.URL.Query().Get("agent_id"))
		week, err := a.svc.GetWorkingHours(r.Context(), agentID)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, weekView(agentID, week))
	case http.MethodPut:
		var req workingHoursBody
		if !decode(w, r, &req) {
			return
		}
		days := make([]scheduling.DayHours, 0, len(req.WorkingHours))
		for _, d := range req.WorkingHours {
			days = append(days, scheduling.DayHours{Day: d.Day, Start: d.StartTime, End: d.EndTime, Enabled: d.Enabled})
		}
		agentID := strings.TrimSpace(req.AgentID)
		week, err := a.svc.SetWorkingHours(r.Context(), agentID, days)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, weekView(agentID, week))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

type dayOverride struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsClosed  bool   `json:"is_closed"`
}

type generateSlotsRequest struct {
	AgentID         string        `json:"agent_id"`
	StartDate       string        `json:"start_date"`
	EndDate         string        `json:"end_date"`
	ServiceDuration *int          `json:"service_duration"`
	IntervalMinutes *int          `json:"interval_minutes"`
	DayOverrides    []dayOverride `json:"day_overrides"`
}

type generateSlotsResponse struct {
	SlotsCreated         int                     `json:"slots_created"`
	SettingsUsed         scheduling.SettingsUsed `json:"settings_used"`
	SlotsRemoved         int                     `json:"slots_removed"`
	OrphanedReservations int                     `json:"orphaned_reservations"`
}

func (a *API) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req generateSlotsRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.svc.Regenerate(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateSlotsResponse{
		SlotsCreated:         res.SlotsCreated,
		SettingsUsed:         res.SettingsUsed,
		SlotsRemoved:         res.SlotsRemoved,
		OrphanedReservations: res.OrphanedReservations,
	})
}

func (req generateSlotsRequest) input() (scheduling.RegenerateInput, error) {
	in := scheduling.RegenerateInput{
		AgentID:         strings.TrimSpace(req.AgentID),
		DurationMinutes: req.ServiceDuration,
		IntervalMinutes: req.IntervalMinutes,
	}
	var err error
	if in.From, err = parseDate("start_date", req.StartDate); err != nil {
		return in, err
	}
	if in.To, err = parseDate("end_date", req.EndDate); err != nil {
		return in, err
	}
	if len(req.DayOverrides) > 0 {
		in.DayOverrides = make(map[string]scheduling.DayOverride, len(req.DayOverrides))
	}
	for _, o := range req.DayOverrides {
		day, err := parseDate("day_overrides.date", o.Date)
		if err != nil {
			return in, err
		}
		override := scheduling.DayOverride{IsClosed: o.IsClosed}
		if !o.IsClosed {
			if override.Start, err = parseClock("day_overrides.start_time", o.StartTime); err != nil {
				return in, err
			}
			if override.End, err = parseClock("day_overrides.end_time", o.EndTime); err != nil {
				return in, err
			}
		}
		in.DayOverrides[model.FormatDate(day)] = override
	}
	return in, nil
}
