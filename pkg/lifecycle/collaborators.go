package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
)

// DefaultActor is recorded when a request carries no actor
const DefaultActor = "system"

// Clock supplies transition timestamps
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FakeClock is a manually advanced Clock for tests and simulations
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts a clock at now
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Identity resolves who is performing an operation
type Identity interface {
	Actor(ctx context.Context) string
}

// ContextIdentity reads the actor stored by observability.WithActor
type ContextIdentity struct {
	// Default is used when the context has no actor; empty means DefaultActor
	Default string
}

func (i ContextIdentity) Actor(ctx context.Context) string {
	if actor := observability.GetActor(ctx); actor != "" {
		return actor
	}
	if i.Default != "" {
		return i.Default
	}
	return DefaultActor
}

// ConsumerRegistry knows which services still read a schema version
type ConsumerRegistry interface {
	ActiveConsumers(ctx context.Context, ref schema.Ref) ([]string, error)
}

// MemoryConsumers is an in-process ConsumerRegistry
type MemoryConsumers struct {
	mu        sync.RWMutex
	consumers map[string]map[string]struct{}
}

// NewMemoryConsumers creates an empty registry
func NewMemoryConsumers() *MemoryConsumers {
	return &MemoryConsumers{consumers: make(map[string]map[string]struct{})}
}

// Register records consumer as reading ref
func (m *MemoryConsumers) Register(_ context.Context, ref schema.Ref, consumer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.consumers[ref.Key()]
	if !ok {
		set = make(map[string]struct{})
		m.consumers[ref.Key()] = set
	}
	set[consumer] = struct{}{}
	return nil
}

// Unregister removes consumer from ref
func (m *MemoryConsumers) Unregister(_ context.Context, ref schema.Ref, consumer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.consumers[ref.Key()]; ok {
		delete(set, consumer)
		if len(set) == 0 {
			delete(m.consumers, ref.Key())
		}
	}
	return nil
}

// ActiveConsumers implements ConsumerRegistry
func (m *MemoryConsumers) ActiveConsumers(_ context.Context, ref schema.Ref) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.consumers[ref.Key()]))
	for c := range m.consumers[ref.Key()] {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// Health is the outcome of a post-rollback verification
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
)

// Router moves consumer traffic between versions during a rollback
type Router interface {
	// Notify tells the consumers of from that traffic is moving to to
	Notify(ctx context.Context, from, to schema.Ref, consumers []string) error
	Disable(ctx context.Context, ref schema.Ref) error
	Enable(ctx context.Context, ref schema.Ref) error
	// Route points the subject's traffic at ref
	Route(ctx context.Context, subject schema.Subject, ref schema.Ref) error
	Verify(ctx context.Context, ref schema.Ref) (Health, error)
}

// Notification is one Notify call recorded by MemoryRouter
type Notification struct {
	From      schema.Ref
	To        schema.Ref
	Consumers []string
}

// MemoryRouter is an in-process Router. Every version is healthy and
// enabled unless told otherwise.
type MemoryRouter struct {
	mu            sync.Mutex
	routes        map[schema.Subject]schema.Ref
	disabled      map[string]bool
	health        map[string]Health
	notifications []Notification
}

// NewMemoryRouter creates a router with no routes
func NewMemoryRouter() *MemoryRouter {
	return &MemoryRouter{
		routes:   make(map[schema.Subject]schema.Ref),
		disabled: make(map[string]bool),
		health:   make(map[string]Health),
	}
}

func (r *MemoryRouter) Notify(_ context.Context, from, to schema.Ref, consumers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, Notification{
		From:      from,
		To:        to,
		Consumers: append([]string(nil), consumers...),
	})
	return nil
}

func (r *MemoryRouter) Disable(_ context.Context, ref schema.Ref) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[ref.Key()] = true
	return nil
}

func (r *MemoryRouter) Enable(_ context.Context, ref schema.Ref) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, ref.Key())
	return nil
}

func (r *MemoryRouter) Route(_ context.Context, subject schema.Subject, ref schema.Ref) error {
	if ref.Subject() != subject {
		return fmt.Errorf("cannot route %s to %s", subject, ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[subject] = ref
	return nil
}

func (r *MemoryRouter) Verify(_ context.Context, ref schema.Ref) (Health, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[ref.Key()]; ok {
		return h, nil
	}
	return HealthHealthy, nil
}

// SetHealth fixes what Verify reports for ref
func (r *MemoryRouter) SetHealth(ref schema.Ref, h Health) {
	r.mu.Lock()
	r.health[ref.Key()] = h
	r.mu.Unlock()
}

// Current returns where the subject's traffic is routed
func (r *MemoryRouter) Current(subject schema.Subject) (schema.Ref, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.routes[subject]
	return ref, ok
}

// Enabled reports whether ref accepts traffic
func (r *MemoryRouter) Enabled(ref schema.Ref) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.disabled[ref.Key()]
}

// Notifications returns every Notify call in order
func (r *MemoryRouter) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}
