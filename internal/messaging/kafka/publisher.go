// Package kafka publishes notification events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/bytekart/internal/domain/notification"
)

// DefaultTopic receives notification events.
const DefaultTopic = "bytekart.notifications"

// messageWriter is the subset of *kafka.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements notification.Notifier. Each event becomes one message
// keyed by order id, so events of an order stay ordered within a partition.
type Publisher struct {
	w messageWriter
}

var _ notification.Notifier = (*Publisher)(nil)

// NewPublisher creates a Publisher writing to topic on brokers.
func NewPublisher(topic string, brokers ...string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Notify implements notification.Notifier.
func (p *Publisher) Notify(ctx context.Context, e notification.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	key := e.OrderID
	if key == "" {
		key = e.ID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Kind)},
			{Key: "template", Value: []byte(e.Template)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s event %s", e.Kind, e.ID)
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.w.Close()
}
