// Package storage provides the persistence boundary for the lineage schema
// registry.
//
// # Overview
//
// The registry engine decides what to store and whether a lifecycle
// transition is legal; a Store only persists the outcome. Store is composed of
// focused interfaces:
//
//   - SchemaReader: Get, GetByFingerprint, ListVersions, FindDependents
//   - SchemaWriter: Put, ReplaceDraft
//   - LifecycleStore: CreateLifecycle, GetLifecycle, CommitTransition, ListDue
//
// Schemas are immutable once written. The only mutation is ReplaceDraft, which
// swaps the content of a version whose lifecycle has been returned to DRAFT.
//
// # Transitions
//
// CommitTransition is the single write path for lifecycles. It verifies the
// stored state still equals the expected state, appends the transition
// record, applies deprecation and metadata changes and persists the result in
// one write. A mismatch returns ErrConflict and nothing is written. All
// backends share ApplyTransition so history rules are identical everywhere.
//
// # Backends
//
// MemoryStore keeps everything in process and is the default for tests and
// single-node development.
//
//	store := storage.NewMemoryStore()
//
// FileSystemStore keeps one directory per version with schema.json and
// lifecycle.json files, replaced atomically through a rename.
//
//	store, err := storage.NewFileSystemStore("/var/lineage")
//
// The sqlstore subpackage stores schemas and lifecycles in PostgreSQL or
// SQLite with transactional commits, the cache subpackage wraps any Store with
// an in-process LRU and a Redis read-through layer, and the blob subpackage
// offloads schema content to S3 by content hash.
//
// # Configuration
//
// Backends are selected through Config, loaded from LINEAGE_* environment
// variables by pkg/config:
//
//	cfg := storage.DefaultConfig()
//	cfg.Type = "postgres"
//	cfg.PostgresURL = "postgres://localhost/lineage"
//	cfg.RedisURL = "redis://localhost:6379"
//	cfg.CacheEnabled = true
//
// # Testing
//
// The storagetest subpackage holds a behaviour suite every backend runs
// against:
//
//	func TestMemoryStore(t *testing.T) {
//		storagetest.Run(t, func(t *testing.T) storage.Store {
//			return storage.NewMemoryStore()
//		})
//	}
package storage
