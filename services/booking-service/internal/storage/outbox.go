package storage

import (
	"context"
	"time"

	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/google/uuid"
)

func (q *queries) InsertOutboxEvent(ctx context.Context, evt outbox.Event, meta OutboxMeta) error {
	_, err := q.exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload,
			traceparent, tracestate, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, string(evt.Payload),
		meta.Traceparent, meta.Tracestate, meta.RequestID, toUnix(time.Now()))
	return err
}
