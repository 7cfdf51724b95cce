package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/telemetry"
)

// HeaderCarrier adapts Kafka headers to a propagation.TextMapCarrier so
// trace context travels with the event.
type HeaderCarrier []kafka.Header

// Get returns the value for the first header matching key, or "".
func (c HeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set writes key/value, replacing any existing header with the same key.
func (c *HeaderCarrier) Set(key, value string) {
	filtered := (*c)[:0]
	for _, h := range *c {
		if h.Key != key {
			filtered = append(filtered, h)
		}
	}
	*c = append(filtered, kafka.Header{Key: key, Value: []byte(value)})
}

// Keys returns all header keys present in the carrier.
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = h.Key
	}
	return keys
}

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes events to one topic keyed by user id, so one
// user's events stay ordered within a partition.
type KafkaNotifier struct {
	writer MessageWriter
	topic  string
}

// NewKafkaWriter returns a writer tuned for small, keyed event messages.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaNotifier writes to topic through w.
func NewKafkaNotifier(w MessageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, userID string, ev Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}

	headers := make(HeaderCarrier, 0, 2)
	telemetry.InjectContext(ctx, &headers)

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Topic:   n.topic,
		Key:     []byte(userID),
		Value:   data,
		Headers: []kafka.Header(headers),
		Time:    ev.At,
	})
	if err != nil {
		return errors.Unavailable("kafka publish to "+n.topic, err, errors.WithTaskID(ev.ID))
	}
	return nil
}

// Close closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
