package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/platinummonkey/lineage/pkg/observability"
)

// AMQPConfig configures the RabbitMQ publisher
type AMQPConfig struct {
	URL          string
	Exchange     string
	ExchangeType string
	// RoutingKeyPrefix is prepended to the event type, e.g. "lineage." gives
	// routing keys like "lineage.schema.deprecated".
	RoutingKeyPrefix string
}

// publisher is the part of *amqp.Channel the sink needs
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a topic exchange
type AMQPSink struct {
	conn     *amqp.Connection
	channel  publisher
	exchange string
	prefix   string
}

// NewAMQPSink dials the broker and declares the exchange
func NewAMQPSink(config AMQPConfig, logger *observability.Logger) (*AMQPSink, error) {
	if config.Exchange == "" {
		return nil, fmt.Errorf("amqp sink requires an exchange")
	}
	if config.ExchangeType == "" {
		config.ExchangeType = amqp.ExchangeTopic
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(config.Exchange, config.ExchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", config.Exchange, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			logger.WithError(err).WithField("exchange", config.Exchange).Error("AMQP connection closed")
		}
	}()

	sink := newAMQPSink(ch, config)
	sink.conn = conn
	return sink, nil
}

func newAMQPSink(ch publisher, config AMQPConfig) *AMQPSink {
	return &AMQPSink{channel: ch, exchange: config.Exchange, prefix: config.RoutingKeyPrefix}
}

// Emit implements Sink
func (s *AMQPSink) Emit(ctx context.Context, event DomainEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	headers := amqp.Table{
		"ref":        event.Ref.String(),
		"event_type": string(event.Type),
	}
	if id := observability.GetRequestID(ctx); id != "" {
		headers["request_id"] = id
	}

	err = s.channel.PublishWithContext(ctx, s.exchange, s.prefix+string(event.Type), false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         string(event.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %s: %w", s.exchange, err)
	}
	return nil
}

// Close closes the channel and connection
func (s *AMQPSink) Close() error {
	err := s.channel.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
