package model

import "time"

type BookingStatus string

const (
	BookingUpcoming  BookingStatus = "upcoming"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking holds one unit of capacity on the ledger entry at (SlotDate, SlotStart).
// Date and Start are the appointment time, which a reschedule may move.
type Booking struct {
	ID              string
	Code            string
	ReceiptID       string
	AgentID         string
	Date            time.Time
	Start           Clock
	SlotDate        time.Time
	SlotStart       Clock
	StartsAt        time.Time
	Status          BookingStatus
	TotalPrice      float64
	ReminderEnabled bool
	CustomerName    string
	RefundPercent   int
	RefundAmount    float64
	CancelledAt     *time.Time
	CreatedAt       time.Time
}

type RescheduleStatus string

const (
	ReschedulePending   RescheduleStatus = "pending"
	RescheduleApproved  RescheduleStatus = "approved"
	RescheduleRejected  RescheduleStatus = "rejected"
	RescheduleCancelled RescheduleStatus = "cancelled"
)

type RescheduleRequest struct {
	ID             string
	BookingID      string
	RequestedDate  time.Time
	RequestedStart Clock
	Reason         string
	Status         RescheduleStatus
	DecisionReason string
	RequestedAt    time.Time
	DecisionDueAt  time.Time
	DecisionAt     *time.Time
	Attempts       int
	LastError      string
	Traceparent    string
	Tracestate     string
}
