package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	for raw, want := range map[string]Clock{
		"09:00":    NewClock(9, 0),
		"18:30:00": NewClock(18, 30),
		" 00:05 ":  5,
	} {
		got, err := ParseClock(raw)
		if err != nil || got != want {
			t.Fatalf("ParseClock(%q): expected %d, got %d (%v)", raw, want, got, err)
		}
	}
	for _, raw := range []string{"", "25:00", "9am", "10:00:30"} {
		if _, err := ParseClock(raw); err == nil {
			t.Fatalf("ParseClock(%q): expected error", raw)
		}
	}
}

func TestClockFormatting(t *testing.T) {
	c := NewClock(15, 4)
	if c.String() != "15:04:00" {
		t.Fatalf("unexpected wire format %q", c.String())
	}
	if c.Display() != "3:04 PM" {
		t.Fatalf("unexpected display %q", c.Display())
	}
	if NewClock(0, 0).Display() != "12:00 AM" {
		t.Fatalf("unexpected midnight display %q", NewClock(0, 0).Display())
	}
}

func TestClockOn(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	date, _ := ParseDate("2026-03-02")
	got := NewClock(10, 0).On(date, loc)
	want := time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got.UTC())
	}
}

func TestParseWeekday(t *testing.T) {
	for raw, want := range map[string]time.Weekday{
		"Monday": time.Monday,
		"tue":    time.Tuesday,
		"SUNDAY": time.Sunday,
		" Fri ":  time.Friday,
	} {
		got, err := ParseWeekday(raw)
		if err != nil || got != want {
			t.Fatalf("ParseWeekday(%q): expected %s, got %s (%v)", raw, want, got, err)
		}
	}
	_, err := ParseWeekday("Funday")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWeekFillsDefaults(t *testing.T) {
	week := Week("agent-1", []WorkingHourRule{
		{AgentID: "agent-1", Weekday: time.Sunday, IsClosed: true},
	})
	if len(week) != 7 {
		t.Fatalf("expected 7 rules, got %d", len(week))
	}
	if week[0].Weekday != time.Monday || week[0].Start != DefaultOpen || week[0].End != DefaultClose || week[0].IsClosed {
		t.Fatalf("unexpected monday default: %+v", week[0])
	}
	if !week[6].IsClosed {
		t.Fatalf("expected configured sunday to be closed: %+v", week[6])
	}
}

func TestProviderSettingsNormalize(t *testing.T) {
	s := ProviderSettings{AgentID: "a", ProviderType: ProviderSolo, SpecialistCount: 4}
	if err := s.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if s.SpecialistCount != 1 || s.ServiceDurationMinutes != DefaultServiceDurationMinutes {
		t.Fatalf("unexpected normalized settings: %+v", s)
	}

	bad := ProviderSettings{AgentID: "a", ProviderType: ProviderStudio}
	if err := bad.Normalize(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for studio without specialists, got %v", err)
	}
	neg := ProviderSettings{AgentID: "a", IntervalMinutes: -5}
	if err := neg.Normalize(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for negative interval, got %v", err)
	}
}
