// Package notify renders customer emails for appointment changes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bookwell/bookwell/libs/mail"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

var errNoRecipient = errors.New("customer has no email address")

type Mailer struct {
	sender mail.Sender
}

func NewMailer(sender mail.Sender) *Mailer {
	return &Mailer{sender: sender}
}

func (m *Mailer) Booked(ctx context.Context, b model.Business, a model.Appointment) error {
	body := greeting(a) +
		fmt.Sprintf("Your appointment at %s is confirmed.\n\n", b.Name) +
		details(b, a) +
		footer(b)
	return m.send(ctx, a, fmt.Sprintf("Booking confirmed: %s on %s", a.ServiceName, a.Date), body)
}

func (m *Mailer) Cancelled(ctx context.Context, b model.Business, a model.Appointment) error {
	who := "has been cancelled"
	if a.CancelledBy == model.CancelledByCustomer {
		who = "was cancelled at your request"
	}
	body := greeting(a) +
		fmt.Sprintf("Your appointment at %s %s.\n\n", b.Name, who) +
		details(b, a) +
		footer(b)
	return m.send(ctx, a, fmt.Sprintf("Appointment cancelled: %s on %s", a.ServiceName, a.Date), body)
}

func (m *Mailer) Rescheduled(ctx context.Context, b model.Business, a, previous model.Appointment) error {
	body := greeting(a) +
		fmt.Sprintf("Your appointment at %s has moved from %s %s.\n\n", b.Name, previous.Date, previous.StartTime) +
		details(b, a) +
		footer(b)
	return m.send(ctx, a, fmt.Sprintf("Appointment rescheduled: %s on %s", a.ServiceName, a.Date), body)
}

func (m *Mailer) send(ctx context.Context, a model.Appointment, subject, body string) error {
	if strings.TrimSpace(a.CustomerEmail) == "" {
		return errNoRecipient
	}
	return m.sender.Send(ctx, mail.Message{To: a.CustomerEmail, Subject: subject, Body: body})
}

func greeting(a model.Appointment) string {
	name := strings.TrimSpace(a.CustomerFullName)
	if name == "" {
		return "Hello,\n\n"
	}
	return fmt.Sprintf("Hello %s,\n\n", name)
}

func details(b model.Business, a model.Appointment) string {
	zone := b.Timezone
	if zone == "" {
		zone = "UTC"
	}
	return fmt.Sprintf("Service: %s\nDate: %s\nTime: %s - %s (%s)\n", a.ServiceName, a.Date, a.StartTime, a.EndTime, zone)
}

func footer(b model.Business) string {
	if b.ContactEmail == "" {
		return "\n" + b.Name + "\n"
	}
	return fmt.Sprintf("\nQuestions? Reply to %s.\n%s\n", b.ContactEmail, b.Name)
}

// OTP sends a one-time code to a customer.
func (m *Mailer) OTP(ctx context.Context, b model.Business, to, code, purpose string, validMinutes int) error {
	subject := fmt.Sprintf("Your %s sign-in code", b.Name)
	intro := "Use this code to sign in and manage your bookings"
	if purpose == "EMAIL_CHANGE" {
		subject = fmt.Sprintf("Confirm your new email for %s", b.Name)
		intro = "Use this code to confirm your new email address"
	}
	body := fmt.Sprintf("%s:\n\n    %s\n\nThe code expires in %d minutes. If you did not ask for it, ignore this email.\n",
		intro, code, validMinutes) + footer(b)
	return m.sender.Send(ctx, mail.Message{To: to, Subject: subject, Body: body})
}
