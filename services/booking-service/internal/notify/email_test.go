package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bookwell/bookwell/libs/mail"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

type captureSender struct {
	sent []mail.Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg mail.Message) error {
	c.sent = append(c.sent, msg)
	return c.err
}

func sampleAppointment() (model.Business, model.Appointment) {
	b := model.Business{Name: "Studio Nine", Timezone: "Europe/Berlin", ContactEmail: "desk@studio.example"}
	a := model.Appointment{
		Date: "2026-03-02", StartTime: "10:00", EndTime: "10:30",
		ServiceName: "Haircut", CustomerFullName: "Ada", CustomerEmail: "ada@example.com",
	}
	return b, a
}

func TestBookedEmail(t *testing.T) {
	s := &captureSender{}
	b, a := sampleAppointment()
	if err := NewMailer(s).Booked(context.Background(), b, a); err != nil {
		t.Fatalf("Booked: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(s.sent))
	}
	msg := s.sent[0]
	if msg.To != "ada@example.com" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	for _, want := range []string{"Hello Ada", "Studio Nine", "10:00 - 10:30 (Europe/Berlin)", "desk@studio.example"} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestRescheduledMentionsPreviousTime(t *testing.T) {
	s := &captureSender{}
	b, a := sampleAppointment()
	prev := a
	prev.Date, prev.StartTime = "2026-03-01", "09:00"
	if err := NewMailer(s).Rescheduled(context.Background(), b, a, prev); err != nil {
		t.Fatalf("Rescheduled: %v", err)
	}
	if !strings.Contains(s.sent[0].Body, "from 2026-03-01 09:00") {
		t.Fatalf("unexpected body:\n%s", s.sent[0].Body)
	}
}

func TestMissingRecipientIsAnError(t *testing.T) {
	s := &captureSender{}
	b, a := sampleAppointment()
	a.CustomerEmail = ""
	if err := NewMailer(s).Cancelled(context.Background(), b, a); !errors.Is(err, errNoRecipient) {
		t.Fatalf("expected errNoRecipient, got %v", err)
	}
	if len(s.sent) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestSenderErrorIsReturned(t *testing.T) {
	s := &captureSender{err: errors.New("relay down")}
	b, a := sampleAppointment()
	if err := NewMailer(s).Cancelled(context.Background(), b, a); err == nil {
		t.Fatal("expected error")
	}
}
