// Package kafka publishes events to a Kafka topic with franz-go.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"bloodbank/pkg/platform/events"
)

// Publisher emits events to Kafka asynchronously. Delivery failures are
// logged and dropped; the events stream is observability, not ledger.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for delivery error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New creates a Kafka publisher. The topic is assumed provisioned.
func New(brokers []string, topic string, opts ...Option) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		client: client,
		topic:  topic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Publisher) Emit(ctx context.Context, event events.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("encode event", "kind", event.Kind, "error", err)
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Kind),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("publish event", "kind", event.Kind, "error", err)
		}
	})
}

// Close flushes pending records and releases the client.
func (p *Publisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return err
	}
	p.client.Close()
	return nil
}
