// Package outbox relays events written in the same transaction as a state
// change to Kafka. Each service stores rows in its own outbox_events table and
// exposes them through a Source.
package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/bookwell/bookwell/libs/kafkax"
	otelx "github.com/bookwell/bookwell/libs/otel"
	"github.com/segmentio/kafka-go"
)

type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NewEvent marshals payload as JSON.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	RequestID     string
	CreatedAt     time.Time
}

// Source hands out unpublished records. Implementations keep the claimed rows
// locked while publish runs and mark them published only if it returns nil.
type Source interface {
	ClaimBatch(ctx context.Context, limit int, publish func([]Record) error) error
}

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

type Publisher struct {
	src       Source
	writer    Writer
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(src Source, writer Writer, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		src:       src,
		writer:    writer,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run polls until ctx is done. A nil writer disables publishing; rows then
// accumulate until a broker is configured.
func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishOnce relays at most one batch and reports how many records were sent.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	sent := 0
	err := p.src.ClaimBatch(ctx, p.batchSize, func(records []Record) error {
		if len(records) == 0 {
			return nil
		}
		msgs := make([]kafka.Message, 0, len(records))
		for _, r := range records {
			msgs = append(msgs, toMessage(ctx, r))
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		sent = len(records)
		return nil
	})
	return sent, err
}

func toMessage(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
	headers := []kafka.Header{
		{Key: kafkax.HeaderEventID, Value: []byte(r.EventID)},
		{Key: kafkax.HeaderEventType, Value: []byte(r.EventType)},
	}
	if r.RequestID != "" {
		headers = append(headers, kafka.Header{Key: kafkax.HeaderRequestID, Value: []byte(r.RequestID)})
	}
	return kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: kafkax.InjectTraceHeaders(msgCtx, headers),
	}
}
