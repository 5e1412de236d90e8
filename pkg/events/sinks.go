package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/lineage/pkg/observability"
)

// LogSink writes each event as a structured log line
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *observability.Logger) *LogSink {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink
func (s *LogSink) Emit(ctx context.Context, event DomainEvent) error {
	fields := map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"ref":        event.Ref.String(),
		"actor":      event.Actor,
	}
	if event.From != "" || event.To != "" {
		fields["from"] = string(event.From)
		fields["to"] = string(event.To)
	}
	if id := observability.GetRequestID(ctx); id != "" {
		fields["request_id"] = id
	}
	s.logger.WithFields(fields).Info("Lifecycle event")
	return nil
}

// MultiSink fans an event out to every sink and joins their errors
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit implements Sink
func (m *MultiSink) Emit(ctx context.Context, event DomainEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FilterSink forwards only the listed event types
type FilterSink struct {
	next  Sink
	types map[EventType]bool
}

// NewFilterSink forwards events of the given types to next. With no types
// every event passes.
func NewFilterSink(next Sink, types ...EventType) *FilterSink {
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return &FilterSink{next: next, types: set}
}

// Emit implements Sink
func (f *FilterSink) Emit(ctx context.Context, event DomainEvent) error {
	if len(f.types) > 0 && !f.types[event.Type] {
		return nil
	}
	return f.next.Emit(ctx, event)
}

// Recorder keeps emitted events in memory. Useful in tests and for the
// embedded single node mode.
type Recorder struct {
	mu     sync.Mutex
	events []DomainEvent
	notify chan struct{}
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Emit implements Sink
func (r *Recorder) Emit(_ context.Context, event DomainEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order
func (r *Recorder) Types() []EventType {
	events := r.Events()
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// WaitFor blocks until at least n events were recorded or timeout elapses
func (r *Recorder) WaitFor(n int, timeout time.Duration) ([]DomainEvent, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if events := r.Events(); len(events) >= n {
			return events, nil
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			events := r.Events()
			return events, fmt.Errorf("timed out waiting for %d events, got %d", n, len(events))
		}
	}
}

// Reset drops recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
