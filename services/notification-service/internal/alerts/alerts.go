// Package alerts emails business owners when an appointment is booked or
// cancelled, and retries deliveries that failed.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bookwell/bookwell/libs/bookingapi"
	"github.com/bookwell/bookwell/libs/kafkax"
	"github.com/bookwell/bookwell/libs/mail"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	EventBooked    = "booking.appointment.booked.v1"
	EventCancelled = "booking.appointment.cancelled.v1"
)

// Topics lists the booking events that produce owner alerts.
var Topics = []string{EventBooked, EventCancelled}

type Kind string

const (
	KindBooked    Kind = "booked"
	KindCancelled Kind = "cancelled"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type Notification struct {
	ID            string
	EventID       string
	AppointmentID string
	BusinessID    string
	Kind          Kind
	Recipient     string
	Subject       string
	Body          string
	Status        Status
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	SentAt        *time.Time
	CreatedAt     time.Time
}

type Store interface {
	// InsertNotification reports false when a row for the same event already exists.
	InsertNotification(ctx context.Context, n Notification) (bool, error)
	UpdateNotification(ctx context.Context, n Notification) error
	// DueNotifications claims pending rows whose next attempt is at or before
	// now and moves their next attempt to leaseUntil.
	DueNotifications(ctx context.Context, now time.Time, limit int, leaseUntil time.Time) ([]Notification, error)
}

// AppointmentReader is satisfied by *bookingapi.Client.
type AppointmentReader interface {
	GetAppointment(ctx context.Context, in *bookingapi.GetAppointmentRequest) (*bookingapi.GetAppointmentReply, error)
}

type Config struct {
	MaxAttempts int
	Backoff     time.Duration
	BatchSize   int
	// Lease is how long a row being sent stays hidden from the retry loop.
	Lease time.Duration
	Now   func() time.Time
}

type Service struct {
	store  Store
	reader AppointmentReader
	sender mail.Sender
	logger *slog.Logger
	cfg    Config
}

func NewService(store Store, reader AppointmentReader, sender mail.Sender, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: store, reader: reader, sender: sender, logger: logger, cfg: cfg}
}

type eventPayload struct {
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
}

// HandleMessage turns one booking event into an owner alert. Events whose
// appointment has since moved on are skipped. The alert is stored already
// leased to this call, so the retry loop only picks it up if the first send
// never records its outcome.
func (s *Service) HandleMessage(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	kind, ok := kindFor(meta.EventType)
	if !ok {
		s.logger.Debug("event ignored", "event_type", meta.EventType)
		return nil
	}

	var p eventPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	if p.AppointmentID == "" || p.BusinessID == "" {
		return errors.New("event payload is missing appointment_id or business_id")
	}

	reply, err := s.reader.GetAppointment(ctx, &bookingapi.GetAppointmentRequest{
		BusinessID:    p.BusinessID,
		AppointmentID: p.AppointmentID,
	})
	if status.Code(err) == codes.NotFound {
		s.logger.Info("appointment gone; alert skipped", "appointment_id", p.AppointmentID, "event_id", meta.EventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read appointment %s: %w", p.AppointmentID, err)
	}
	if stale(kind, reply.Appointment.Status) {
		s.logger.Info("stale event skipped",
			"event_id", meta.EventID,
			"event_type", meta.EventType,
			"appointment_id", p.AppointmentID,
			"status", reply.Appointment.Status,
		)
		return nil
	}

	recipient := strings.TrimSpace(reply.Business.ContactEmail)
	if recipient == "" {
		s.logger.Info("business has no contact email; alert skipped", "business_id", p.BusinessID)
		return nil
	}

	now := s.cfg.Now().UTC()
	subject, body := compose(kind, reply)
	n := Notification{
		ID:            uuid.NewString(),
		EventID:       meta.EventID,
		AppointmentID: p.AppointmentID,
		BusinessID:    p.BusinessID,
		Kind:          kind,
		Recipient:     recipient,
		Subject:       subject,
		Body:          body,
		Status:        StatusPending,
		NextAttemptAt: now.Add(s.cfg.Lease),
		CreatedAt:     now,
	}
	created, err := s.store.InsertNotification(ctx, n)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if !created {
		s.logger.Info("alert already recorded", "event_id", meta.EventID)
		return nil
	}
	return s.deliver(ctx, n)
}

// RetryDue resends one batch of pending alerts and reports how many were attempted.
func (s *Service) RetryDue(ctx context.Context) (int, error) {
	now := s.cfg.Now().UTC()
	due, err := s.store.DueNotifications(ctx, now, s.cfg.BatchSize, now.Add(s.cfg.Lease))
	if err != nil {
		return 0, fmt.Errorf("load due notifications: %w", err)
	}
	for _, n := range due {
		if err := s.deliver(ctx, n); err != nil {
			s.logger.Error("notification update failed", "err", err, "notification_id", n.ID)
		}
	}
	return len(due), nil
}

// RunRetries polls for due alerts until ctx is done.
func (s *Service) RunRetries(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RetryDue(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("notification retry failed", "err", err)
			}
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) error {
	sendErr := s.sender.Send(ctx, mail.Message{To: n.Recipient, Subject: n.Subject, Body: n.Body})
	now := s.cfg.Now().UTC()
	n.Attempts++
	switch {
	case sendErr == nil:
		n.Status = StatusSent
		n.SentAt = &now
		n.LastError = ""
	case n.Attempts >= s.cfg.MaxAttempts:
		n.Status = StatusFailed
		n.LastError = sendErr.Error()
		s.logger.Error("owner alert failed permanently", "err", sendErr, "notification_id", n.ID, "attempts", n.Attempts)
	default:
		n.LastError = sendErr.Error()
		n.NextAttemptAt = now.Add(s.cfg.Backoff)
		s.logger.Warn("owner alert failed; will retry", "err", sendErr, "notification_id", n.ID, "attempts", n.Attempts)
	}
	if err := s.store.UpdateNotification(ctx, n); err != nil {
		return fmt.Errorf("update notification %s: %w", n.ID, err)
	}
	return nil
}

func kindFor(eventType string) (Kind, bool) {
	switch eventType {
	case EventBooked:
		return KindBooked, true
	case EventCancelled:
		return KindCancelled, true
	}
	return "", false
}

func stale(kind Kind, appointmentStatus string) bool {
	current := strings.ToUpper(appointmentStatus)
	switch kind {
	case KindBooked:
		return current != "BOOKED"
	case KindCancelled:
		return current != "CANCELED"
	}
	return true
}

func compose(kind Kind, reply *bookingapi.GetAppointmentReply) (string, string) {
	a := reply.Appointment
	when := fmt.Sprintf("%s %s-%s", a.Date, a.StartTime, a.EndTime)
	if tz := reply.Business.Timezone; tz != "" {
		when += " (" + tz + ")"
	}

	var subject, opening string
	if kind == KindCancelled {
		subject = fmt.Sprintf("Booking cancelled: %s on %s at %s", a.ServiceName, a.Date, a.StartTime)
		opening = "An appointment at " + reply.Business.Name + " was cancelled."
	} else {
		subject = fmt.Sprintf("New booking: %s on %s at %s", a.ServiceName, a.Date, a.StartTime)
		opening = "A new appointment was booked at " + reply.Business.Name + "."
	}

	var b strings.Builder
	b.WriteString(opening + "\n\n")
	fmt.Fprintf(&b, "Service: %s\n", a.ServiceName)
	fmt.Fprintf(&b, "When: %s\n", when)
	fmt.Fprintf(&b, "Customer: %s\n", a.CustomerFullName)
	if a.CustomerPhone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", a.CustomerPhone)
	}
	if a.CustomerEmail != "" {
		fmt.Fprintf(&b, "Email: %s\n", a.CustomerEmail)
	}
	if a.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", a.Notes)
	}
	if kind == KindCancelled && a.CancelledBy != "" {
		fmt.Fprintf(&b, "Cancelled by: %s\n", strings.ToLower(a.CancelledBy))
	}
	fmt.Fprintf(&b, "Reference: %s\n", a.ID)
	return subject, b.String()
}
