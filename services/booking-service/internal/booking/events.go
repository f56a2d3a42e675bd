package booking

import (
	"context"
	"time"

	"github.com/bookwell/bookwell/libs/httpx"
	otelx "github.com/bookwell/bookwell/libs/otel"
	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/google/uuid"
)

const (
	EventBooked        = "booking.appointment.booked.v1"
	EventCancelled     = "booking.appointment.cancelled.v1"
	EventRescheduled   = "booking.appointment.rescheduled.v1"
	EventStatusChanged = "booking.appointment.status_changed.v1"
)

// appointmentEvent is the payload of every appointment topic.
type appointmentEvent struct {
	AppointmentID     string `json:"appointment_id"`
	BusinessID        string `json:"business_id"`
	ServiceID         string `json:"service_id"`
	ServiceName       string `json:"service_name"`
	CustomerID        string `json:"customer_id"`
	CustomerEmail     string `json:"customer_email,omitempty"`
	Date              string `json:"date"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	StartAt           string `json:"start_at"`
	EndAt             string `json:"end_at"`
	Status            string `json:"status"`
	Source            string `json:"source"`
	CancelledBy       string `json:"cancelled_by,omitempty"`
	PreviousStatus    string `json:"previous_status,omitempty"`
	PreviousDate      string `json:"previous_date,omitempty"`
	PreviousStartTime string `json:"previous_start_time,omitempty"`
	OccurredAt        string `json:"occurred_at"`
}

// writeEvent stores an outbox row for a. extra supplies the Previous* fields.
func writeEvent(ctx context.Context, q storage.Queries, eventType string, a model.Appointment, extra appointmentEvent) error {
	payload := extra
	payload.AppointmentID = a.ID
	payload.BusinessID = a.BusinessID
	payload.ServiceID = a.ServiceID
	payload.ServiceName = a.ServiceName
	payload.CustomerID = a.CustomerID
	payload.CustomerEmail = a.CustomerEmail
	payload.Date = a.Date
	payload.StartTime = a.StartTime
	payload.EndTime = a.EndTime
	payload.StartAt = a.StartAt.UTC().Format(time.RFC3339)
	payload.EndAt = a.EndAt.UTC().Format(time.RFC3339)
	payload.Status = string(a.Status)
	payload.Source = string(a.Source)
	payload.CancelledBy = string(a.CancelledBy)
	payload.OccurredAt = time.Now().UTC().Format(time.RFC3339)

	evt, err := outbox.NewEvent("appointment", a.ID, eventType, payload)
	if err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	return q.InsertOutboxEvent(ctx, evt, storage.OutboxMeta{
		Traceparent: traceparent,
		Tracestate:  tracestate,
		RequestID:   httpx.RequestIDFromContext(ctx),
	})
}

func newID() string {
	return uuid.NewString()
}
