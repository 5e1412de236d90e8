package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/lineage/pkg/schema"
)

// EventType names a lifecycle event
type EventType string

const (
	EventRegistered            EventType = "schema.registered"
	EventActivated             EventType = "schema.activated"
	EventDeprecated            EventType = "schema.deprecated"
	EventArchived              EventType = "schema.archived"
	EventCompatibilityRejected EventType = "schema.compatibility_rejected"
	EventRolledBack            EventType = "schema.rolled_back"
	EventValidationFailed      EventType = "schema.validation_failed"
	EventReactivated           EventType = "schema.reactivated"
	EventAbandoned             EventType = "schema.abandoned"
)

// EventTypes lists every event the coordinator emits
func EventTypes() []EventType {
	return []EventType{
		EventRegistered,
		EventActivated,
		EventDeprecated,
		EventArchived,
		EventCompatibilityRejected,
		EventRolledBack,
		EventValidationFailed,
		EventReactivated,
		EventAbandoned,
	}
}

// DomainEvent is published after a lifecycle transition commits
type DomainEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Ref       schema.Ref             `json:"ref"`
	From      schema.State           `json:"from,omitempty"`
	To        schema.State           `json:"to,omitempty"`
	Actor     string                 `json:"actor"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent builds an event with a fresh ID
func NewEvent(eventType EventType, ref schema.Ref, actor string, at time.Time) DomainEvent {
	return DomainEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Ref:       ref,
		Actor:     actor,
		Timestamp: at,
	}
}

// WithTransition records the state change that produced the event
func (e DomainEvent) WithTransition(from, to schema.State) DomainEvent {
	e.From = from
	e.To = to
	return e
}

// WithData adds a payload field. The map is copied so events stay immutable
// once handed to a sink.
func (e DomainEvent) WithData(key string, value interface{}) DomainEvent {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Sink receives domain events
type Sink interface {
	Emit(ctx context.Context, event DomainEvent) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, event DomainEvent) error

// Emit calls f
func (f SinkFunc) Emit(ctx context.Context, event DomainEvent) error {
	return f(ctx, event)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(context.Context, DomainEvent) error { return nil })
