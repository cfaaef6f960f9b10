// Package kafka publishes observation-window events to Kafka.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/config"
	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	json "github.com/goccy/go-json"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces window events to a Kafka topic.
// It implements domain.WindowPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured window topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaWindowTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: 5 * time.Second,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishWindows writes one event keyed by object id, so every event for an
// object lands on the same partition in order.
func (w *Writer) PublishWindows(ctx context.Context, event domain.WindowEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish window event for %s: %w", event.ObjectID, err)
	}
	w.logger.Debug("window event published", "object_id", event.ObjectID, "windows", len(event.Windows), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a WindowEvent into a Kafka message.
func serializeToMessage(event domain.WindowEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize window event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.ObjectID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("observation_window")},
			{Key: "window_count", Value: []byte(strconv.Itoa(len(event.Windows)))},
			{Key: "generated_at", Value: []byte(event.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
