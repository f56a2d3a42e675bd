package mail

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBuildMessageHeaders(t *testing.T) {
	msg := buildMessage("no-reply@bookwell.test", "ana@example.com", "Booked\r\nBcc: x@evil", "line1\nline2", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	if !strings.Contains(msg, "Subject: Booked  Bcc: x@evil\r\n") {
		t.Fatalf("subject must be folded onto one line: %q", msg)
	}
	if !strings.Contains(msg, "@bookwell.test>\r\n") {
		t.Fatalf("message id should use sender domain: %q", msg)
	}
	if !strings.HasSuffix(msg, "line1\r\nline2\r\n") {
		t.Fatalf("body should use CRLF: %q", msg)
	}
}

func TestSMTPSenderRequiresRecipient(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1"})
	if err := s.Send(context.Background(), Message{Subject: "x"}); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	// 192.0.2.0/24 is TEST-NET-1 and never routes.
	s := NewSMTPSender(SMTPConfig{Host: "192.0.2.1", Port: "25"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := s.Send(ctx, Message{To: "a@example.com", Subject: "x", Body: "y"}); err == nil {
		t.Fatal("expected dial failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("send should give up when the context expires")
	}
}
