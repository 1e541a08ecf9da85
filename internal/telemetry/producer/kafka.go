package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

// messageWriter is the subset of *kafka.Writer used by KafkaProducer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer messageWriter
	topic  string
}

// NewKafkaProducer creates a Kafka producer for topic. Returns nil when brokers or topic are empty,
// which callers treat as publishing disabled. Call Close when shutting down.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: writer, topic: topic}
}

// Topic returns the topic records are written to.
func (p *KafkaProducer) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// Publish writes value as a JSON message. The hash balancer keeps one key on one partition.
// The write is bounded by a short timeout so slow Kafka does not block callers indefinitely.
func (p *KafkaProducer) Publish(ctx context.Context, key string, value any) error {
	if p == nil || p.writer == nil || value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "kafka: marshal")
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	msg := kafka.Message{Value: payload, Time: time.Now().UTC()}
	if key != "" {
		msg.Key = []byte(key)
	}
	return errors.Wrapf(p.writer.WriteMessages(writeCtx, msg), "kafka: write to %s", p.topic)
}

// Close closes the Kafka writer. Safe to call multiple times.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
