// Package kafka publishes audit events to a Kafka topic. Intended as a
// secondary sink behind the publisher; delivery is fire-and-forget so the
// request path never waits on the broker.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "vouch/pkg/platform/audit"
)

const defaultTopic = "vouch.audit"

type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

type Option func(*Publisher)

func WithTopic(topic string) Option {
	return func(p *Publisher) { p.topic = topic }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// New connects to the given brokers and ensures the audit topic exists.
func New(brokers []string, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		topic:  defaultTopic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(p.topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	p.client = client

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.ensureTopic(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return p, nil
}

// ensureTopic creates the audit topic if it does not already exist.
func (p *Publisher) ensureTopic(ctx context.Context) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, res := range resp.Sorted() {
		if res.Err != nil && res.Err.Error() != "TOPIC_ALREADY_EXISTS" {
			p.logger.Warn("audit topic creation reported error",
				"topic", res.Topic,
				"error", res.Err,
			)
		}
	}
	return nil
}

type wireEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id"`
	Action    string            `json:"action"`
	RequestID string            `json:"request_id,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Publish produces the event keyed by user ID so per-user events stay
// ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(wireEvent{
		Timestamp: event.Timestamp,
		UserID:    event.UserID.String(),
		Action:    event.Action,
		RequestID: event.RequestID,
		ActorID:   event.ActorID,
		Details:   event.Details,
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.UserID.String()),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("audit event publish failed",
				"action", event.Action,
				"error", err,
			)
		}
	})
	return nil
}

// Close flushes outstanding records and closes the client.
func (p *Publisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
}
