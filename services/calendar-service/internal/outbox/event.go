package outbox

import (
	"encoding/json"
	"fmt"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	AgentID       string
	EventType     string
	Payload       []byte
}

const (
	WorkingHoursChanged = "calendar.workinghours.changed.v1"
	SlotsRegenerated    = "calendar.slots.regenerated.v1"
	BookingCreated      = "calendar.booking.created.v1"
	BookingCancelled    = "calendar.booking.cancelled.v1"
	RescheduleRequested = "calendar.reschedule.requested.v1"
	RescheduleDecided   = "calendar.reschedule.decided.v1"
	RescheduleCancelled = "calendar.reschedule.cancelled.v1"
	RescheduleDLQ       = "calendar.reschedule.dlq.v1"
)

// NewEvent marshals payload as JSON into an event envelope.
func NewEvent(eventType, aggregateType, aggregateID, agentID string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		AgentID:       agentID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
