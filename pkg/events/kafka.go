package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/platinummonkey/lineage/pkg/observability"
)

// KafkaConfig configures the Kafka producer
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int
	MaxAttempts  int
	WriteTimeout time.Duration
	// Compression is one of "", "gzip", "snappy", "lz4", "zstd"
	Compression string
}

const (
	DefaultKafkaMaxAttempts  = 3
	DefaultKafkaWriteTimeout = 10 * time.Second
)

// messageWriter is the part of *kafka.Writer the sink needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a topic. Messages are keyed by schema ref so
// every event for one version lands on the same partition in order.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a synchronous producer
func NewKafkaSink(config KafkaConfig, logger *observability.Logger) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultKafkaMaxAttempts
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultKafkaWriteTimeout
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	acks := kafka.RequireAll
	switch config.RequiredAcks {
	case 0:
	case 1:
		acks = kafka.RequireOne
	default:
		acks = kafka.RequiredAcks(config.RequiredAcks)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		MaxAttempts:  config.MaxAttempts,
		WriteTimeout: config.WriteTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.WithField("component", "kafka").Errorf(msg, args...)
		}),
	}
	codec, err := compressionCodec(config.Compression)
	if err != nil {
		return nil, err
	}
	writer.Compression = codec

	return &KafkaSink{writer: writer, topic: config.Topic}, nil
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("unknown kafka compression %q", name)
}

// Emit implements Sink
func (s *KafkaSink) Emit(ctx context.Context, event DomainEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Ref.Key()),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
	}
	if id := observability.GetRequestID(ctx); id != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "request-id", Value: []byte(id)})
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and closes the producer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
