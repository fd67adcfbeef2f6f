package model

import (
	"fmt"
	"strings"
	"time"
)

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

const MinutesPerDay = 24 * 60

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts "15:04" or "15:04:05". Seconds must be zero.
func ParseClock(raw string) (Clock, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04", time.TimeOnly} {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if t.Second() != 0 {
			return 0, fmt.Errorf("time %q must be on a whole minute", raw)
		}
		return NewClock(t.Hour(), t.Minute()), nil
	}
	return 0, fmt.Errorf("invalid time %q", raw)
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) Add(minutes int) Clock { return c + Clock(minutes) }

func (c Clock) Valid() bool { return c >= 0 && c < MinutesPerDay }

// String renders the wire format, "15:04:05".
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:00", c.Hour(), c.Minute())
}

// Display renders a 12-hour label such as "3:04 PM".
func (c Clock) Display() string {
	return time.Date(2000, 1, 1, c.Hour(), c.Minute(), 0, 0, time.UTC).Format("3:04 PM")
}

// On returns the instant this clock time occurs on date in loc.
func (c Clock) On(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, loc)
}

// ParseDate parses "2006-01-02" into UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

// DateOf truncates an instant to its calendar date in loc, returned as UTC midnight.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Weekdays lists days in calendar display order, Monday first.
var Weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// ParseWeekday accepts English day names or their three-letter abbreviations, any case.
func ParseWeekday(raw string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for _, wd := range Weekdays {
		full := strings.ToLower(wd.String())
		if name == full || (len(name) == 3 && name == full[:3]) {
			return wd, nil
		}
	}
	return 0, &ValidationError{Field: "day", Reason: fmt.Sprintf("unknown weekday %q", raw)}
}
