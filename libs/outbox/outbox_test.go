package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bookwell/bookwell/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type memorySource struct {
	pending   []Record
	published []int64
}

func (s *memorySource) ClaimBatch(_ context.Context, limit int, publish func([]Record) error) error {
	batch := s.pending
	if len(batch) > limit {
		batch = batch[:limit]
	}
	if err := publish(batch); err != nil {
		return err
	}
	for _, r := range batch {
		s.published = append(s.published, r.ID)
	}
	s.pending = s.pending[len(batch):]
	return nil
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestPublishOnceMapsRecordsToMessages(t *testing.T) {
	src := &memorySource{pending: []Record{
		{ID: 1, EventID: "e1", AggregateID: "appt-1", EventType: "booking.appointment.booked.v1", Payload: []byte(`{}`), RequestID: "req-1"},
		{ID: 2, EventID: "e2", AggregateID: "appt-2", EventType: "booking.appointment.cancelled.v1", Payload: []byte(`{}`)},
		{ID: 3, EventID: "e3", AggregateID: "appt-3", EventType: "booking.appointment.booked.v1", Payload: []byte(`{}`)},
	}}
	w := &recordingWriter{}
	p := NewPublisher(src, w, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{BatchSize: 2})

	n, err := p.PublishOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 published, got %d (err=%v)", n, err)
	}
	if len(w.msgs) != 2 || w.msgs[0].Topic != "booking.appointment.booked.v1" || string(w.msgs[0].Key) != "appt-1" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	meta := kafkax.ExtractEventMeta(w.msgs[0])
	if meta.EventID != "e1" || meta.RequestID != "req-1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if len(src.published) != 2 {
		t.Fatalf("expected two rows marked, got %v", src.published)
	}
}

func TestPublishOnceLeavesRowsOnWriterError(t *testing.T) {
	src := &memorySource{pending: []Record{{ID: 1, EventType: "x"}}}
	p := NewPublisher(src, &recordingWriter{err: errors.New("broker down")}, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{})

	if _, err := p.PublishOnce(context.Background()); err == nil {
		t.Fatal("expected writer error")
	}
	if len(src.pending) != 1 || len(src.published) != 0 {
		t.Fatal("rows must stay pending when the write fails")
	}
}

func TestNewEventMarshalsPayload(t *testing.T) {
	evt, err := NewEvent("appointment", "a1", "booking.appointment.booked.v1", map[string]string{"date": "2026-03-02"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if string(evt.Payload) != `{"date":"2026-03-02"}` {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
}
