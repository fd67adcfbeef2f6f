package refund

import (
	"math"
	"time"
)

const (
	FullPercent    = 100
	ShortNoticePct = 80
	ShortNotice    = 24 * time.Hour
)

// DefaultTimeline is reported to callers when REFUND_TIMELINE is unset.
const DefaultTimeline = "5-7 business days"

type Quote struct {
	Percent int
	Amount  float64
}

// Compute prices a cancellation made at now for an appointment at appointmentAt.
// Cancelling within ShortNotice of a future appointment refunds 80%; anything else
// (more notice, or an appointment already in the past) refunds in full.
func Compute(price float64, appointmentAt, now time.Time) Quote {
	pct := FullPercent
	if lead := appointmentAt.Sub(now); lead > 0 && lead <= ShortNotice {
		pct = ShortNoticePct
	}
	return Quote{Percent: pct, Amount: math.Round(price * float64(pct) / 100)}
}
