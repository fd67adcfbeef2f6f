package model

import (
	"errors"

	"github.com/md-rashed-zaman/agentcal/libs/db"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrCapacityExceeded  = errors.New("slot capacity exceeded")
	ErrPendingReschedule = errors.New("a reschedule request is already pending")
	ErrInvalidState      = errors.New("invalid state")
	ErrTransientStore    = db.ErrTransient
)

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
