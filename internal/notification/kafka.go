package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes ledger events as JSON, keyed by user id so one
// user's events keep their order within a partition.
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaWriter builds the producer used by KafkaNotifier. Writes are
// asynchronous: WriteMessages only enqueues, and failed batches are reported
// to logger once the writer gives up on them.
func NewKafkaWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: SendTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil || logger == nil {
				return
			}
			logger.Warn("notification batch dropped",
				slog.String("topic", topic),
				slog.Int("messages", len(msgs)),
				slog.Any("error", err),
			)
		},
	}
}

// NewKafkaNotifier wraps a kafka writer.
func NewKafkaNotifier(writer *kafka.Writer) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Send encodes and publishes one message.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Destination),
		Value: payload,
		Time:  message.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(message.Kind)},
		},
	})
}

// Close flushes pending messages and releases the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
