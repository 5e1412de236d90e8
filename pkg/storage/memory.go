package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/lineage/pkg/schema"
)

// MemoryStore implements Store in process. Values are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	schemas    map[string]*schema.Schema
	lifecycles map[string]*schema.Lifecycle
	subjects   map[schema.Subject][]schema.SemanticVersion
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schemas:    make(map[string]*schema.Schema),
		lifecycles: make(map[string]*schema.Lifecycle),
		subjects:   make(map[schema.Subject][]schema.SemanticVersion),
	}
}

// Put implements Store.Put
func (m *MemoryStore) Put(ctx context.Context, s *schema.Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.Ref.Key()
	if _, exists := m.schemas[key]; exists {
		return fmt.Errorf("schema %s: %w", s.Ref, ErrAlreadyExists)
	}
	m.schemas[key] = s.Clone()

	subject := s.Ref.Subject()
	versions := append(m.subjects[subject], s.Ref.Version)
	schema.SortVersions(versions)
	m.subjects[subject] = versions
	return nil
}

// Get implements Store.Get
func (m *MemoryStore) Get(ctx context.Context, ref schema.Ref) (*schema.Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schemas[ref.Key()]
	if !ok {
		return nil, fmt.Errorf("schema %s: %w", ref, ErrNotFound)
	}
	return s.Clone(), nil
}

// GetByFingerprint implements Store.GetByFingerprint
func (m *MemoryStore) GetByFingerprint(ctx context.Context, subject schema.Subject, fingerprint string) ([]*schema.Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.Schema
	for _, v := range m.subjects[subject] {
		s := m.schemas[subject.Version(v).Key()]
		if s != nil && s.Fingerprint == fingerprint {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// ListVersions implements Store.ListVersions
func (m *MemoryStore) ListVersions(ctx context.Context, subject schema.Subject) ([]schema.SemanticVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]schema.SemanticVersion(nil), m.subjects[subject]...), nil
}

// FindDependents implements Store.FindDependents
func (m *MemoryStore) FindDependents(ctx context.Context, ref schema.Ref) ([]schema.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []schema.Ref
	for _, s := range m.schemas {
		if s.DependsOn(ref) {
			out = append(out, s.Ref)
		}
	}
	SortRefs(out)
	return out, nil
}

// ReplaceDraft implements Store.ReplaceDraft
func (m *MemoryStore) ReplaceDraft(ctx context.Context, s *schema.Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.Ref.Key()
	if _, ok := m.schemas[key]; !ok {
		return fmt.Errorf("schema %s: %w", s.Ref, ErrNotFound)
	}
	lc, ok := m.lifecycles[key]
	if !ok || lc.CurrentState != schema.StateDraft {
		return fmt.Errorf("%w: schema %s is not a draft", ErrConflict, s.Ref)
	}
	m.schemas[key] = s.Clone()
	return nil
}

// CreateLifecycle implements Store.CreateLifecycle
func (m *MemoryStore) CreateLifecycle(ctx context.Context, lc *schema.Lifecycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lc.Ref.Key()
	if _, exists := m.lifecycles[key]; exists {
		return fmt.Errorf("lifecycle %s: %w", lc.Ref, ErrAlreadyExists)
	}
	m.lifecycles[key] = lc.Clone()
	return nil
}

// GetLifecycle implements Store.GetLifecycle
func (m *MemoryStore) GetLifecycle(ctx context.Context, ref schema.Ref) (*schema.Lifecycle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	lc, ok := m.lifecycles[ref.Key()]
	if !ok {
		return nil, fmt.Errorf("lifecycle %s: %w", ref, ErrNotFound)
	}
	return lc.Clone(), nil
}

// CommitTransition implements Store.CommitTransition
func (m *MemoryStore) CommitTransition(ctx context.Context, ref schema.Ref, expected schema.State, t Transition) (*schema.Lifecycle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.lifecycles[ref.Key()]
	if !ok {
		return nil, fmt.Errorf("lifecycle %s: %w", ref, ErrNotFound)
	}
	next := stored.Clone()
	if err := ApplyTransition(next, expected, t); err != nil {
		return nil, err
	}
	m.lifecycles[ref.Key()] = next
	return next.Clone(), nil
}

// ListDue implements Store.ListDue
func (m *MemoryStore) ListDue(ctx context.Context, now time.Time) ([]schema.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []schema.Ref
	for _, lc := range m.lifecycles {
		if lc.CurrentState == schema.StateDeprecated && lc.Deprecation.Due(now) {
			out = append(out, lc.Ref)
		}
	}
	SortRefs(out)
	return out, nil
}

// SortRefs orders refs by namespace, name and version.
func SortRefs(refs []schema.Ref) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version.Less(b.Version)
	})
}
