package sqlstore

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schemas (
		namespace    TEXT NOT NULL,
		name         TEXT NOT NULL,
		version      TEXT NOT NULL,
		format       TEXT NOT NULL,
		fingerprint  TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		document     {{blob}} NOT NULL,
		created_at   {{timestamp}} NOT NULL,
		PRIMARY KEY (namespace, name, version)
	)`,
	`CREATE INDEX IF NOT EXISTS schemas_fingerprint_idx ON schemas (namespace, name, fingerprint)`,
	`CREATE TABLE IF NOT EXISTS schema_references (
		namespace TEXT NOT NULL,
		name      TEXT NOT NULL,
		version   TEXT NOT NULL,
		ref_key   TEXT NOT NULL,
		PRIMARY KEY (namespace, name, version, ref_key)
	)`,
	`CREATE INDEX IF NOT EXISTS schema_references_ref_idx ON schema_references (ref_key)`,
	`CREATE TABLE IF NOT EXISTS lifecycles (
		namespace     TEXT NOT NULL,
		name          TEXT NOT NULL,
		version       TEXT NOT NULL,
		current_state TEXT NOT NULL,
		revision      INTEGER NOT NULL,
		document      {{blob}} NOT NULL,
		updated_at    {{timestamp}} NOT NULL,
		PRIMARY KEY (namespace, name, version)
	)`,
	`CREATE INDEX IF NOT EXISTS lifecycles_state_idx ON lifecycles (current_state)`,
	`CREATE TABLE IF NOT EXISTS lifecycle_transitions (
		id           {{serial}},
		namespace    TEXT NOT NULL,
		name         TEXT NOT NULL,
		version      TEXT NOT NULL,
		revision     INTEGER NOT NULL,
		from_state   TEXT NOT NULL,
		to_state     TEXT NOT NULL,
		trigger_name TEXT NOT NULL,
		actor        TEXT NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		occurred_at  {{timestamp}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schema_consumers (
		namespace     TEXT NOT NULL,
		name          TEXT NOT NULL,
		version       TEXT NOT NULL,
		consumer      TEXT NOT NULL,
		registered_at {{timestamp}} NOT NULL,
		PRIMARY KEY (namespace, name, version, consumer)
	)`,
}

// Migrate creates the tables and indexes when they do not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	db := s.conns.Primary()
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, s.dialect.ddl(stmt)); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}
