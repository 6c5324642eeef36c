package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/veloria/fraudguard/pkg/metrics"
)

// KafkaChannel publishes alerts to a Kafka topic. Notification transport
// beyond the broker (email, SMS, webhooks) is downstream of this topic.
type KafkaChannel struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaChannel creates a channel writing to the given brokers and topic.
func NewKafkaChannel(brokers []string, topic string, logger *zap.Logger) *KafkaChannel {
	return &KafkaChannel{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 2 * time.Second,
		},
		logger: logger.Named("alerts"),
	}
}

// SendAlert implements Channel. Publish failures are logged and returned
// so callers can count them, but callers never abort on them.
func (c *KafkaChannel) SendAlert(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(a.Severity),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		metrics.CollaboratorFailures.WithLabelValues("notify").Inc()
		c.logger.Error("failed to publish alert", zap.Error(err), zap.String("title", a.Title))
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (c *KafkaChannel) Close() error {
	return c.writer.Close()
}
