package model

import (
	"fmt"
	"time"
)

var (
	DefaultOpen  = NewClock(9, 0)
	DefaultClose = NewClock(18, 0)
)

const DefaultServiceDurationMinutes = 60

type WorkingHourRule struct {
	AgentID  string
	Weekday  time.Weekday
	IsClosed bool
	Start    Clock
	End      Clock
}

// DefaultRule is the rule assumed for a weekday the agent never configured.
func DefaultRule(agentID string, wd time.Weekday) WorkingHourRule {
	return WorkingHourRule{AgentID: agentID, Weekday: wd, Start: DefaultOpen, End: DefaultClose}
}

func (r WorkingHourRule) Validate() error {
	if r.IsClosed {
		return nil
	}
	if !r.Start.Valid() || !r.End.Valid() {
		return Invalid(r.Weekday.String(), "time out of range")
	}
	if r.End <= r.Start {
		return Invalid(r.Weekday.String(), "end time must be after start time")
	}
	return nil
}

// Week fills missing weekdays with defaults and returns Monday..Sunday.
func Week(agentID string, rules []WorkingHourRule) []WorkingHourRule {
	byDay := make(map[time.Weekday]WorkingHourRule, len(rules))
	for _, r := range rules {
		byDay[r.Weekday] = r
	}
	week := make([]WorkingHourRule, 0, len(Weekdays))
	for _, wd := range Weekdays {
		r, ok := byDay[wd]
		if !ok {
			r = DefaultRule(agentID, wd)
		}
		week = append(week, r)
	}
	return week
}

type ProviderType string

const (
	ProviderSolo   ProviderType = "solo"
	ProviderStudio ProviderType = "studio"
)

type ProviderSettings struct {
	AgentID                string
	ProviderType           ProviderType
	SpecialistCount        int
	IntervalMinutes        int
	ServiceDurationMinutes int
	UpdatedAt              time.Time
}

// Normalize applies defaults and the solo rule, then validates.
func (s *ProviderSettings) Normalize() error {
	if s.AgentID == "" {
		return Invalid("agent_id", "required")
	}
	if s.ProviderType == "" {
		s.ProviderType = ProviderSolo
	}
	switch s.ProviderType {
	case ProviderSolo:
		s.SpecialistCount = 1
	case ProviderStudio:
		if s.SpecialistCount < 1 {
			return Invalid("specialist_count", "must be at least 1")
		}
	default:
		return Invalid("provider_type", fmt.Sprintf("unknown provider type %q", s.ProviderType))
	}
	if s.IntervalMinutes < 0 {
		return Invalid("interval_minutes", "must not be negative")
	}
	if s.ServiceDurationMinutes == 0 {
		s.ServiceDurationMinutes = DefaultServiceDurationMinutes
	}
	if s.ServiceDurationMinutes < 0 {
		return Invalid("service_duration_minutes", "must be positive")
	}
	return nil
}

// SlotKey identifies both an availability slot and its ledger entry.
type SlotKey struct {
	AgentID string
	Day     string
	Start   Clock
}

func KeyOf(agentID string, date time.Time, start Clock) SlotKey {
	return SlotKey{AgentID: agentID, Day: FormatDate(date), Start: start}
}

type AvailabilitySlot struct {
	ID          string
	AgentID     string
	Date        time.Time
	Start       Clock
	End         Clock
	IsAvailable bool
}

func (s AvailabilitySlot) Key() SlotKey { return KeyOf(s.AgentID, s.Date, s.Start) }

// LedgerEntry is the capacity counter paired with an availability slot.
type LedgerEntry struct {
	ID            string
	AgentID       string
	Date          time.Time
	Start         Clock
	End           Clock
	TotalCapacity int
	BookedCount   int
}

func (e LedgerEntry) Key() SlotKey { return KeyOf(e.AgentID, e.Date, e.Start) }

func (e LedgerEntry) Available() int {
	if n := e.TotalCapacity - e.BookedCount; n > 0 {
		return n
	}
	return 0
}

// SlotView joins a slot with its capacity record for listing.
type SlotView struct {
	AvailabilitySlot
	TotalCapacity int
	BookedCount   int
}

func (v SlotView) AvailableCapacity() int {
	if n := v.TotalCapacity - v.BookedCount; n > 0 {
		return n
	}
	return 0
}

// WorkingHoursChanged is raised after an agent's weekly rules are updated.
type WorkingHoursChanged struct {
	AgentID   string    `json:"agent_id"`
	ChangedAt time.Time `json:"changed_at"`
}
