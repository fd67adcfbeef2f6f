package decision

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
)

const (
	ReasonApproved    = "Requested time confirmed by provider"
	ReasonRejected    = "Provider is unavailable at the requested time"
	ReasonInactive    = "Booking is no longer active"
	ReasonCancelled   = "Reschedule request cancelled"
	ReasonBookingGone = "Booking was cancelled"
	ReasonExhausted   = "Decision could not be processed"
)

// DefaultDelay is how long a reschedule request waits before it is decided.
const DefaultDelay = 60 * time.Second

type Outcome struct {
	Approved bool
	Reason   string
}

// Policy decides pending reschedule requests once their delay has elapsed.
type Policy interface {
	Name() string
	Delay() time.Duration
	Decide(ctx context.Context, req model.RescheduleRequest, booking model.Booking) (Outcome, error)
}

// New builds a policy by name: "random", "approve" or "reject".
func New(name string, delay time.Duration, seed int64) (Policy, error) {
	if delay < 0 {
		return nil, fmt.Errorf("decision delay must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "random":
		return NewRandom(delay, seed), nil
	case "approve":
		return Fixed{delay: delay, approve: true}, nil
	case "reject":
		return Fixed{delay: delay}, nil
	default:
		return nil, fmt.Errorf("unknown reschedule policy %q", name)
	}
}

// Random approves or rejects with equal probability.
type Random struct {
	delay time.Duration
	mu    sync.Mutex
	rng   *rand.Rand
}

func NewRandom(delay time.Duration, seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{delay: delay, rng: rand.New(rand.NewSource(seed))}
}

func (p *Random) Name() string         { return "random" }
func (p *Random) Delay() time.Duration { return p.delay }

func (p *Random) Decide(context.Context, model.RescheduleRequest, model.Booking) (Outcome, error) {
	p.mu.Lock()
	approve := p.rng.Intn(2) == 0
	p.mu.Unlock()
	if approve {
		return Outcome{Approved: true, Reason: ReasonApproved}, nil
	}
	return Outcome{Reason: ReasonRejected}, nil
}

// Fixed always returns the same outcome.
type Fixed struct {
	delay   time.Duration
	approve bool
}

func Approve(delay time.Duration) Fixed { return Fixed{delay: delay, approve: true} }
func Reject(delay time.Duration) Fixed  { return Fixed{delay: delay} }

func (p Fixed) Name() string {
	if p.approve {
		return "approve"
	}
	return "reject"
}

func (p Fixed) Delay() time.Duration { return p.delay }

func (p Fixed) Decide(context.Context, model.RescheduleRequest, model.Booking) (Outcome, error) {
	if p.approve {
		return Outcome{Approved: true, Reason: ReasonApproved}, nil
	}
	return Outcome{Reason: ReasonRejected}, nil
}
