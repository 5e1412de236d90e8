package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lineage/pkg/observability"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaSink_Emit(t *testing.T) {
	writer := &fakeWriter{}
	sink := &KafkaSink{writer: writer, topic: "schema-events"}

	event := testEvent(EventActivated)
	ctx := observability.WithRequestID(context.Background(), "req-9")
	require.NoError(t, sink.Emit(ctx, event))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, testRef.Key(), string(msg.Key))
	assert.Equal(t, event.Timestamp, msg.Time)
	assert.Equal(t, "schema.activated", headerValue(msg, "event-type"))
	assert.Equal(t, event.ID, headerValue(msg, "event-id"))
	assert.Equal(t, "req-9", headerValue(msg, "request-id"))

	var decoded DomainEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}

func TestKafkaSink_WriteError(t *testing.T) {
	boom := errors.New("leader not available")
	sink := &KafkaSink{writer: &fakeWriter{err: boom}, topic: "schema-events"}

	err := sink.Emit(context.Background(), testEvent(EventActivated))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "schema-events")
}

func TestNewKafkaSink(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)

	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "brotli"}, nil)
	assert.Error(t, err)

	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "zstd"}, nil)
	require.NoError(t, err)
	w, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "t", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.Equal(t, kafka.Zstd, w.Compression)
	assert.Equal(t, DefaultKafkaMaxAttempts, w.MaxAttempts)
	assert.NoError(t, sink.Close())
}
