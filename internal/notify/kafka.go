package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes notifications to a topic consumed by the
// messaging service. Messages are keyed by order id.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaWriter returns a writer for topic with acknowledgement from all replicas.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaNotifier creates a KafkaNotifier.
func NewKafkaNotifier(writer *kafka.Writer) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Notify implements Notifier.
func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(newPayload(n, time.Now().UTC()))
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(n.Order.ID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
			{Key: "event_id", Value: []byte(n.EventID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
