package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []published
	err       error
	closed    bool
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPSink_Emit(t *testing.T) {
	ch := &fakeChannel{}
	sink := newAMQPSink(ch, AMQPConfig{Exchange: "lineage", RoutingKeyPrefix: "lineage."})

	event := testEvent(EventRolledBack)
	require.NoError(t, sink.Emit(context.Background(), event))

	require.Len(t, ch.published, 1)
	p := ch.published[0]
	assert.Equal(t, "lineage", p.exchange)
	assert.Equal(t, "lineage.schema.rolled_back", p.key)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, event.ID, p.msg.MessageId)
	assert.Equal(t, "acme/user@1.2.0", p.msg.Headers["ref"])

	var decoded DomainEvent
	require.NoError(t, json.Unmarshal(p.msg.Body, &decoded))
	assert.Equal(t, EventRolledBack, decoded.Type)

	require.NoError(t, sink.Close())
	assert.True(t, ch.closed)
}

func TestAMQPSink_PublishError(t *testing.T) {
	boom := errors.New("channel closed")
	sink := newAMQPSink(&fakeChannel{err: boom}, AMQPConfig{Exchange: "lineage"})

	err := sink.Emit(context.Background(), testEvent(EventRegistered))
	assert.ErrorIs(t, err, boom)
}

func TestNewAMQPSink_RequiresExchange(t *testing.T) {
	_, err := NewAMQPSink(AMQPConfig{URL: "amqp://localhost"}, nil)
	assert.Error(t, err)
}
