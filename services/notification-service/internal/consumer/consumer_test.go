package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bookwell/bookwell/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type scriptedReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
	closed bool
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

type memInbox struct {
	seen map[string]bool
	err  error
}

func (m *memInbox) Record(_ context.Context, eventID, _ string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func message(id string) kafka.Message {
	return kafka.Message{
		Topic:   "booking.appointment.booked.v1",
		Headers: []kafka.Header{{Key: kafkax.HeaderEventID, Value: []byte(id)}},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSkipsDuplicatesAndSurvivesHandlerErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{
		msgs:   []kafka.Message{message("a"), message("a"), message("b"), message("c")},
		cancel: cancel,
	}

	var handled []string
	c := NewWithReader(discard(), &memInbox{seen: map[string]bool{}}, reader, func(_ context.Context, msg kafka.Message) error {
		id := kafkax.ExtractEventMeta(msg).EventID
		handled = append(handled, id)
		if id == "b" {
			return errors.New("boom")
		}
		return nil
	})
	c.Run(ctx)

	if len(handled) != 3 || handled[0] != "a" || handled[1] != "b" || handled[2] != "c" {
		t.Fatalf("unexpected handled events: %v", handled)
	}
	if !reader.closed {
		t.Fatal("expected reader to be closed")
	}
}

func TestRunDoesNotHandleWhenInboxFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{msgs: []kafka.Message{message("a")}, cancel: cancel}

	called := false
	c := NewWithReader(discard(), &memInbox{err: errors.New("db down")}, reader, func(context.Context, kafka.Message) error {
		called = true
		return nil
	})
	c.Run(ctx)

	if called {
		t.Fatal("handler should not run when the inbox write fails")
	}
}
