package availability

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
)

// Window is a half-open slot boundary [Start, End).
type Window struct {
	Start model.Clock
	End   model.Clock
}

func (w Window) Minutes() int { return int(w.End - w.Start) }

// Generate splits [start, end) into back-to-back windows of duration minutes,
// leaving interval minutes between consecutive windows. No window crosses end.
func Generate(start, end model.Clock, duration, interval int) []Window {
	if duration <= 0 || interval < 0 || end <= start {
		return nil
	}
	var out []Window
	for t := start; t.Add(duration) <= end; t = t.Add(duration + interval) {
		out = append(out, Window{Start: t, End: t.Add(duration)})
	}
	return out
}

// Candidate is a stored slot together with its capacity counter.
type Candidate struct {
	Start         model.Clock
	End           model.Clock
	IsAvailable   bool
	TotalCapacity int
	BookedCount   int
}

type Open struct {
	Start             model.Clock
	End               model.Clock
	AvailableCapacity int
	TotalCapacity     int
	IsLimited         bool
}

// Bookable keeps slots on date that are offered, have spare capacity, start at or
// after now, and are at least minDuration minutes long (when minDuration > 0).
func Bookable(date time.Time, candidates []Candidate, minDuration int, now time.Time, loc *time.Location) []Open {
	var out []Open
	for _, c := range candidates {
		if !c.IsAvailable || c.BookedCount >= c.TotalCapacity {
			continue
		}
		if minDuration > 0 && int(c.End-c.Start) < minDuration {
			continue
		}
		if c.Start.On(date, loc).Before(now) {
			continue
		}
		out = append(out, Open{
			Start:             c.Start,
			End:               c.End,
			AvailableCapacity: c.TotalCapacity - c.BookedCount,
			TotalCapacity:     c.TotalCapacity,
			IsLimited:         c.BookedCount > 0,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
