package booking

import (
	"errors"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

// Machine-readable codes carried in API error envelopes.
const (
	CodeActiveAppointmentExists     = "ACTIVE_APPOINTMENT_EXISTS"
	CodeSameServiceSameDayExists    = "SAME_SERVICE_SAME_DAY_EXISTS"
	CodeSlotNoLongerAvailable       = "SLOT_NO_LONGER_AVAILABLE"
	CodePlanLimitReached            = "PLAN_LIMIT_REACHED"
	CodeCustomerBlocked             = "CUSTOMER_BLOCKED"
	CodeInvalidStatusTransition     = "INVALID_STATUS_TRANSITION"
	CodeAppointmentNotCancellable   = "APPOINTMENT_NOT_CANCELLABLE"
	CodeAppointmentNotReschedulable = "APPOINTMENT_NOT_RESCHEDULABLE"
	CodeAppointmentNotFound         = "APPOINTMENT_NOT_FOUND"
	CodeServiceNotFound             = "SERVICE_NOT_FOUND"
	CodeBusinessNotFound            = "BUSINESS_NOT_FOUND"
	CodeIdempotencyKeyReused        = "IDEMPOTENCY_KEY_REUSED"
)

var (
	ErrSlotUnavailable      = errors.New("the selected time is no longer available")
	ErrPlanLimitReached     = errors.New("monthly appointment limit reached (upgrade required)")
	ErrCustomerBlocked      = errors.New("customer is blocked from booking")
	ErrInvalidTransition    = errors.New("status transition not allowed")
	ErrNotCancellable       = errors.New("appointment cannot be cancelled")
	ErrNotReschedulable     = errors.New("only booked appointments can be rescheduled")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrServiceNotFound      = errors.New("service not found")
	ErrBusinessNotFound     = errors.New("business not found")
	ErrIdempotencyKeyReused = errors.New("idempotency key was used with a different request")
)

// ConflictError is a business-rule rejection. Existing lists the appointments
// that caused it.
type ConflictError struct {
	Code     string
	Existing []model.Appointment
}

func (e *ConflictError) Error() string {
	switch e.Code {
	case CodeActiveAppointmentExists:
		return "customer already has an upcoming appointment"
	case CodeSameServiceSameDayExists:
		return "customer already booked this service on that day"
	}
	return "booking conflict"
}

// ValidationError reports malformed input per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "invalid request"
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
