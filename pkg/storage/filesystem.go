package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/platinummonkey/lineage/pkg/schema"
)

const (
	schemaFile    = "schema.json"
	lifecycleFile = "lifecycle.json"
)

// FileSystemStore implements Store using the local filesystem. Each version
// lives in <root>/<namespace>/<name>/<version>/ with one JSON file for the
// schema and one for its lifecycle. Writes are serialized within the process
// and land through a rename so readers never see a partial file.
type FileSystemStore struct {
	rootDir string
	mu      sync.RWMutex
}

// NewFileSystemStore creates a new filesystem-based store
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{rootDir: rootDir}, nil
}

func (s *FileSystemStore) subjectDir(subject schema.Subject) string {
	return filepath.Join(s.rootDir, subject.Namespace, subject.Name)
}

func (s *FileSystemStore) versionDir(ref schema.Ref) string {
	return filepath.Join(s.subjectDir(ref.Subject()), ref.Version.String())
}

// Put implements Store.Put
func (s *FileSystemStore) Put(ctx context.Context, sc *schema.Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.versionDir(sc.Ref)
	path := filepath.Join(dir, schemaFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("schema %s: %w", sc.Ref, ErrAlreadyExists)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create version directory: %w", err)
	}
	return writeJSON(path, sc)
}

// Get implements Store.Get
func (s *FileSystemStore) Get(ctx context.Context, ref schema.Ref) (*schema.Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readSchema(ref)
}

func (s *FileSystemStore) readSchema(ref schema.Ref) (*schema.Schema, error) {
	var sc schema.Schema
	if err := readJSON(filepath.Join(s.versionDir(ref), schemaFile), &sc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("schema %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read schema %s: %w", ref, err)
	}
	return &sc, nil
}

// GetByFingerprint implements Store.GetByFingerprint
func (s *FileSystemStore) GetByFingerprint(ctx context.Context, subject schema.Subject, fingerprint string) ([]*schema.Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, err := s.listVersions(subject)
	if err != nil {
		return nil, err
	}
	var out []*schema.Schema
	for _, v := range versions {
		sc, err := s.readSchema(subject.Version(v))
		if err != nil {
			return nil, err
		}
		if sc.Fingerprint == fingerprint {
			out = append(out, sc)
		}
	}
	return out, nil
}

// ListVersions implements Store.ListVersions
func (s *FileSystemStore) ListVersions(ctx context.Context, subject schema.Subject) ([]schema.SemanticVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listVersions(subject)
}

func (s *FileSystemStore) listVersions(subject schema.Subject) ([]schema.SemanticVersion, error) {
	entries, err := os.ReadDir(s.subjectDir(subject))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read subject directory: %w", err)
	}

	var versions []schema.SemanticVersion
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := schema.ParseVersion(entry.Name())
		if err != nil {
			continue // Not a version directory
		}
		versions = append(versions, v)
	}
	schema.SortVersions(versions)
	return versions, nil
}

// FindDependents implements Store.FindDependents
func (s *FileSystemStore) FindDependents(ctx context.Context, ref schema.Ref) ([]schema.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schema.Ref
	err := s.walk(schemaFile, func(path string) error {
		var sc schema.Schema
		if err := readJSON(path, &sc); err != nil {
			return err
		}
		if sc.DependsOn(ref) {
			out = append(out, sc.Ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan schemas: %w", err)
	}
	SortRefs(out)
	return out, nil
}

// ReplaceDraft implements Store.ReplaceDraft
func (s *FileSystemStore) ReplaceDraft(ctx context.Context, sc *schema.Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readSchema(sc.Ref); err != nil {
		return err
	}
	lc, err := s.readLifecycle(sc.Ref)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if lc == nil || lc.CurrentState != schema.StateDraft {
		return fmt.Errorf("%w: schema %s is not a draft", ErrConflict, sc.Ref)
	}
	return writeJSON(filepath.Join(s.versionDir(sc.Ref), schemaFile), sc)
}

// CreateLifecycle implements Store.CreateLifecycle
func (s *FileSystemStore) CreateLifecycle(ctx context.Context, lc *schema.Lifecycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.versionDir(lc.Ref)
	path := filepath.Join(dir, lifecycleFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("lifecycle %s: %w", lc.Ref, ErrAlreadyExists)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create version directory: %w", err)
	}
	return writeJSON(path, lc)
}

// GetLifecycle implements Store.GetLifecycle
func (s *FileSystemStore) GetLifecycle(ctx context.Context, ref schema.Ref) (*schema.Lifecycle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readLifecycle(ref)
}

func (s *FileSystemStore) readLifecycle(ref schema.Ref) (*schema.Lifecycle, error) {
	var lc schema.Lifecycle
	if err := readJSON(filepath.Join(s.versionDir(ref), lifecycleFile), &lc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("lifecycle %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read lifecycle %s: %w", ref, err)
	}
	return &lc, nil
}

// CommitTransition implements Store.CommitTransition
func (s *FileSystemStore) CommitTransition(ctx context.Context, ref schema.Ref, expected schema.State, t Transition) (*schema.Lifecycle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lc, err := s.readLifecycle(ref)
	if err != nil {
		return nil, err
	}
	if err := ApplyTransition(lc, expected, t); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(s.versionDir(ref), lifecycleFile), lc); err != nil {
		return nil, err
	}
	return lc, nil
}

// ListDue implements Store.ListDue
func (s *FileSystemStore) ListDue(ctx context.Context, now time.Time) ([]schema.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schema.Ref
	err := s.walk(lifecycleFile, func(path string) error {
		var lc schema.Lifecycle
		if err := readJSON(path, &lc); err != nil {
			return err
		}
		if lc.CurrentState == schema.StateDeprecated && lc.Deprecation.Due(now) {
			out = append(out, lc.Ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan lifecycles: %w", err)
	}
	SortRefs(out)
	return out, nil
}

// walk calls fn for every file named name below the root.
func (s *FileSystemStore) walk(name string, fn func(path string) error) error {
	return filepath.WalkDir(s.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != name {
			return nil
		}
		return fn(path)
	})
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
