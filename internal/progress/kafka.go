package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds Kafka progress sink configuration.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// messageWriter is the kafka.Writer surface used by the sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each progress record as a JSON message keyed by run ID,
// so one run's records land on one partition in order.
type KafkaSink struct {
	writer messageWriter
	logger zerolog.Logger
}

// NewKafkaSink creates a KafkaSink writing to the configured topic.
func NewKafkaSink(cfg KafkaConfig, logger zerolog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}
	return &KafkaSink{
		writer: writer,
		logger: logger.With().Str("component", "progress_kafka").Logger(),
	}
}

// Emit publishes the record.
func (s *KafkaSink) Emit(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.RunID),
		Value: payload,
		Time:  time.Now(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Int("iteration", rec.Iteration).Msg("failed to publish progress record")
		return fmt.Errorf("write progress message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
