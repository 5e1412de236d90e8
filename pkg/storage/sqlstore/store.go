// Package sqlstore implements storage.Store on PostgreSQL (lib/pq) and SQLite
// (go-sqlite3). Schemas and lifecycles are stored as JSON documents next to
// the columns used for lookups; every transition is also appended to the
// lifecycle_transitions audit table inside the same transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/storage"
)

// Store implements storage.Store on a SQL database
type Store struct {
	conns   *ConnectionManager
	dialect Dialect
	content storage.ContentStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Store
type Option func(*Store)

// WithContentStore offloads schema content to cs; the schemas table then only
// keeps the content hash.
func WithContentStore(cs storage.ContentStore) Option {
	return func(s *Store) { s.content = cs }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics records storage operation metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Store) { s.metrics = metrics }
}

// Open connects to the database described by config and applies migrations
func Open(ctx context.Context, config ConnectionConfig, opts ...Option) (*Store, error) {
	s := newStore(nil, config.Dialect, opts...)
	conns, err := NewConnectionManager(config, s.logger)
	if err != nil {
		return nil, err
	}
	s.conns = conns

	if err := s.Migrate(ctx); err != nil {
		conns.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. It does not run migrations.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := newStore(nil, dialect, opts...)
	s.conns = newSingleConnectionManager(db, s.logger)
	return s
}

func newStore(conns *ConnectionManager, dialect Dialect, opts ...Option) *Store {
	s := &Store{conns: conns, dialect: dialect}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	return s
}

// observe starts a span for op and returns the function that records its
// outcome.
func (s *Store) observe(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "sqlstore."+op,
		attribute.String("db.system", s.dialect.String()),
		attribute.String("db.operation", op),
	)
	return ctx, func(err error) {
		observability.EndSpan(span, err)
		s.metrics.RecordStorageOperation(op, s.dialect.String(), time.Since(start), err)
	}
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

// Put implements storage.Store.Put
func (s *Store) Put(ctx context.Context, sc *schema.Schema) (err error) {
	ctx, done := s.observe(ctx, "put")
	defer func() { done(err) }()

	doc, hash, err := s.encodeSchema(ctx, sc)
	if err != nil {
		return err
	}

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO schemas (namespace, name, version, format, fingerprint, content_hash, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		sc.Ref.Namespace, sc.Ref.Name, sc.Ref.Version.String(),
		sc.Format.String(), sc.Fingerprint, hash, doc, sc.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("schema %s: %w", sc.Ref, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert schema: %w", err)
	}

	if err := s.insertReferences(ctx, tx, sc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) insertReferences(ctx context.Context, tx *sql.Tx, sc *schema.Schema) error {
	seen := make(map[string]bool, len(sc.References))
	for _, ref := range sc.References {
		key := ref.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO schema_references (namespace, name, version, ref_key) VALUES (?, ?, ?, ?)`),
			sc.Ref.Namespace, sc.Ref.Name, sc.Ref.Version.String(), key,
		)
		if err != nil {
			return fmt.Errorf("failed to insert schema reference: %w", err)
		}
	}
	return nil
}

// Get implements storage.Store.Get
func (s *Store) Get(ctx context.Context, ref schema.Ref) (result *schema.Schema, err error) {
	ctx, done := s.observe(ctx, "get")
	defer func() { done(err) }()

	var (
		doc  []byte
		hash string
	)
	err = s.conns.Replica().QueryRowContext(ctx,
		s.q(`SELECT document, content_hash FROM schemas WHERE namespace = ? AND name = ? AND version = ?`),
		ref.Namespace, ref.Name, ref.Version.String(),
	).Scan(&doc, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schema %s: %w", ref, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query schema: %w", err)
	}
	return s.decodeSchema(ctx, doc, hash)
}

// GetByFingerprint implements storage.Store.GetByFingerprint
func (s *Store) GetByFingerprint(ctx context.Context, subject schema.Subject, fingerprint string) (result []*schema.Schema, err error) {
	ctx, done := s.observe(ctx, "get_by_fingerprint")
	defer func() { done(err) }()

	rows, err := s.conns.Primary().QueryContext(ctx,
		s.q(`SELECT document, content_hash FROM schemas WHERE namespace = ? AND name = ? AND fingerprint = ?`),
		subject.Namespace, subject.Name, fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query schemas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			doc  []byte
			hash string
		)
		if err := rows.Scan(&doc, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}
		sc, err := s.decodeSchema(ctx, doc, hash)
		if err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schemas: %w", err)
	}

	sortSchemas(result)
	return result, nil
}

// ListVersions implements storage.Store.ListVersions
func (s *Store) ListVersions(ctx context.Context, subject schema.Subject) (versions []schema.SemanticVersion, err error) {
	ctx, done := s.observe(ctx, "list_versions")
	defer func() { done(err) }()

	rows, err := s.conns.Primary().QueryContext(ctx,
		s.q(`SELECT version FROM schemas WHERE namespace = ? AND name = ?`),
		subject.Namespace, subject.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v, err := schema.ParseVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("stored version %q is invalid: %w", raw, err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}

	schema.SortVersions(versions)
	return versions, nil
}

// FindDependents implements storage.Store.FindDependents
func (s *Store) FindDependents(ctx context.Context, ref schema.Ref) (refs []schema.Ref, err error) {
	ctx, done := s.observe(ctx, "find_dependents")
	defer func() { done(err) }()

	rows, err := s.conns.Replica().QueryContext(ctx,
		s.q(`SELECT namespace, name, version FROM schema_references WHERE ref_key = ?`),
		ref.Key(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ns, name, raw string
		if err := rows.Scan(&ns, &name, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		v, err := schema.ParseVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("stored version %q is invalid: %w", raw, err)
		}
		refs = append(refs, schema.Ref{Namespace: ns, Name: name, Version: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate references: %w", err)
	}

	storage.SortRefs(refs)
	return refs, nil
}

// ReplaceDraft implements storage.Store.ReplaceDraft
func (s *Store) ReplaceDraft(ctx context.Context, sc *schema.Schema) (err error) {
	ctx, done := s.observe(ctx, "replace_draft")
	defer func() { done(err) }()

	doc, hash, err := s.encodeSchema(ctx, sc)
	if err != nil {
		return err
	}

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var state string
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT current_state FROM lifecycles WHERE namespace = ? AND name = ? AND version = ?`+s.dialect.lockRow()),
		sc.Ref.Namespace, sc.Ref.Name, sc.Ref.Version.String(),
	).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("schema %s: %w", sc.Ref, storage.ErrNotFound)
		}
		return fmt.Errorf("failed to query lifecycle: %w", err)
	}
	if schema.State(state) != schema.StateDraft {
		return fmt.Errorf("%w: schema %s is not a draft", storage.ErrConflict, sc.Ref)
	}

	res, err := tx.ExecContext(ctx,
		s.q(`UPDATE schemas SET format = ?, fingerprint = ?, content_hash = ?, document = ? WHERE namespace = ? AND name = ? AND version = ?`),
		sc.Format.String(), sc.Fingerprint, hash, doc,
		sc.Ref.Namespace, sc.Ref.Name, sc.Ref.Version.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update schema: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("schema %s: %w", sc.Ref, storage.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		s.q(`DELETE FROM schema_references WHERE namespace = ? AND name = ? AND version = ?`),
		sc.Ref.Namespace, sc.Ref.Name, sc.Ref.Version.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to clear schema references: %w", err)
	}
	if err := s.insertReferences(ctx, tx, sc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateLifecycle implements storage.Store.CreateLifecycle
func (s *Store) CreateLifecycle(ctx context.Context, lc *schema.Lifecycle) (err error) {
	ctx, done := s.observe(ctx, "create_lifecycle")
	defer func() { done(err) }()

	doc, err := json.Marshal(lc)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle: %w", err)
	}

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		s.q(`INSERT INTO lifecycles (namespace, name, version, current_state, revision, document, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		lc.Ref.Namespace, lc.Ref.Name, lc.Ref.Version.String(),
		string(lc.CurrentState), lc.Revision, doc, lc.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("lifecycle %s: %w", lc.Ref, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert lifecycle: %w", err)
	}

	for i, rec := range lc.History {
		if err := s.appendTransition(ctx, tx, lc.Ref, i, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetLifecycle implements storage.Store.GetLifecycle
func (s *Store) GetLifecycle(ctx context.Context, ref schema.Ref) (lc *schema.Lifecycle, err error) {
	ctx, done := s.observe(ctx, "get_lifecycle")
	defer func() { done(err) }()

	var doc []byte
	err = s.conns.Primary().QueryRowContext(ctx,
		s.q(`SELECT document FROM lifecycles WHERE namespace = ? AND name = ? AND version = ?`),
		ref.Namespace, ref.Name, ref.Version.String(),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lifecycle %s: %w", ref, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query lifecycle: %w", err)
	}
	return decodeLifecycle(doc)
}

// CommitTransition implements storage.Store.CommitTransition. The lifecycle
// row is locked for the duration of the transaction and the update is
// guarded by the revision it was read at.
func (s *Store) CommitTransition(ctx context.Context, ref schema.Ref, expected schema.State, t storage.Transition) (lc *schema.Lifecycle, err error) {
	ctx, done := s.observe(ctx, "commit_transition")
	defer func() { done(err) }()

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT document FROM lifecycles WHERE namespace = ? AND name = ? AND version = ?`+s.dialect.lockRow()),
		ref.Namespace, ref.Name, ref.Version.String(),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lifecycle %s: %w", ref, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query lifecycle: %w", err)
	}

	lc, err = decodeLifecycle(doc)
	if err != nil {
		return nil, err
	}
	readRevision := lc.Revision
	if err := storage.ApplyTransition(lc, expected, t); err != nil {
		return nil, err
	}

	next, err := json.Marshal(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lifecycle: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		s.q(`UPDATE lifecycles SET current_state = ?, revision = ?, document = ?, updated_at = ?
		WHERE namespace = ? AND name = ? AND version = ? AND revision = ?`),
		string(lc.CurrentState), lc.Revision, next, lc.UpdatedAt.UTC(),
		ref.Namespace, ref.Name, ref.Version.String(), readRevision,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update lifecycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s changed concurrently", storage.ErrConflict, ref)
	}

	if err := s.appendTransition(ctx, tx, ref, lc.Revision, t.Record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return lc, nil
}

func (s *Store) appendTransition(ctx context.Context, tx *sql.Tx, ref schema.Ref, revision int, rec schema.TransitionRecord) error {
	_, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO lifecycle_transitions (namespace, name, version, revision, from_state, to_state, trigger_name, actor, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ref.Namespace, ref.Name, ref.Version.String(), revision,
		string(rec.From), string(rec.To), string(rec.Trigger), rec.Actor, rec.Reason, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// ListDue implements storage.Store.ListDue
func (s *Store) ListDue(ctx context.Context, now time.Time) (refs []schema.Ref, err error) {
	ctx, done := s.observe(ctx, "list_due")
	defer func() { done(err) }()

	rows, err := s.conns.Primary().QueryContext(ctx,
		s.q(`SELECT document FROM lifecycles WHERE current_state = ?`),
		string(schema.StateDeprecated),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query lifecycles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle: %w", err)
		}
		lc, err := decodeLifecycle(doc)
		if err != nil {
			return nil, err
		}
		if lc.Deprecation.Due(now) {
			refs = append(refs, lc.Ref)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lifecycles: %w", err)
	}

	storage.SortRefs(refs)
	return refs, nil
}

// HealthCheck pings the primary and replicas
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// DB returns the primary database handle
func (s *Store) DB() *sql.DB {
	return s.conns.Primary()
}

// Close closes all connections
func (s *Store) Close() error {
	return s.conns.Close()
}

func (s *Store) encodeSchema(ctx context.Context, sc *schema.Schema) ([]byte, string, error) {
	var hash string
	stored := sc
	if s.content != nil {
		var err error
		hash, err = s.content.PutContent(ctx, sc.Content)
		if err != nil {
			return nil, "", fmt.Errorf("failed to store schema content: %w", err)
		}
		stored = sc.Clone()
		stored.Content = nil
	}
	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return doc, hash, nil
}

func (s *Store) decodeSchema(ctx context.Context, doc []byte, hash string) (*schema.Schema, error) {
	var sc schema.Schema
	if err := json.Unmarshal(doc, &sc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	if hash != "" {
		if s.content == nil {
			return nil, fmt.Errorf("schema %s content is offloaded but no content store is configured", sc.Ref)
		}
		content, err := s.content.GetContent(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema content: %w", err)
		}
		sc.Content = content
	}
	return &sc, nil
}

func decodeLifecycle(doc []byte) (*schema.Lifecycle, error) {
	var lc schema.Lifecycle
	if err := json.Unmarshal(doc, &lc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lifecycle: %w", err)
	}
	return &lc, nil
}

func sortSchemas(schemas []*schema.Schema) {
	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Ref.Version.Less(schemas[j].Ref.Version)
	})
}
