package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/lineage/pkg/schema"
)

// Consumers tracks which services read a schema version. It shares the
// store's connections and satisfies lifecycle.ConsumerRegistry.
type Consumers struct {
	store *Store
}

// Consumers returns the consumer registry backed by this store
func (s *Store) Consumers() *Consumers {
	return &Consumers{store: s}
}

// Register records consumer as reading ref. Registering twice is a no-op.
func (c *Consumers) Register(ctx context.Context, ref schema.Ref, consumer string) (err error) {
	s := c.store
	ctx, done := s.observe(ctx, "register_consumer")
	defer func() { done(err) }()

	_, err = s.conns.Primary().ExecContext(ctx,
		s.q(`INSERT INTO schema_consumers (namespace, name, version, consumer, registered_at) VALUES (?, ?, ?, ?, ?)`),
		ref.Namespace, ref.Name, ref.Version.String(), consumer, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to register consumer %s of %s: %w", consumer, ref, err)
	}
	return nil
}

// Unregister removes consumer from ref
func (c *Consumers) Unregister(ctx context.Context, ref schema.Ref, consumer string) (err error) {
	s := c.store
	ctx, done := s.observe(ctx, "unregister_consumer")
	defer func() { done(err) }()

	_, err = s.conns.Primary().ExecContext(ctx,
		s.q(`DELETE FROM schema_consumers WHERE namespace = ? AND name = ? AND version = ? AND consumer = ?`),
		ref.Namespace, ref.Name, ref.Version.String(), consumer,
	)
	if err != nil {
		return fmt.Errorf("failed to unregister consumer %s of %s: %w", consumer, ref, err)
	}
	return nil
}

// ActiveConsumers lists the consumers of ref in name order
func (c *Consumers) ActiveConsumers(ctx context.Context, ref schema.Ref) (consumers []string, err error) {
	s := c.store
	ctx, done := s.observe(ctx, "active_consumers")
	defer func() { done(err) }()

	rows, err := s.conns.Replica().QueryContext(ctx,
		s.q(`SELECT consumer FROM schema_consumers WHERE namespace = ? AND name = ? AND version = ? ORDER BY consumer`),
		ref.Namespace, ref.Name, ref.Version.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumers of %s: %w", ref, err)
	}
	defer rows.Close()

	consumers = make([]string, 0)
	for rows.Next() {
		var consumer string
		if err := rows.Scan(&consumer); err != nil {
			return nil, fmt.Errorf("failed to scan consumer: %w", err)
		}
		consumers = append(consumers, consumer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consumers: %w", err)
	}
	return consumers, nil
}
