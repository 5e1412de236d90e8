// Package storagetest holds the behaviour suite shared by every storage.Store
// backend.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// NewSchema builds a minimal JSON schema version for tests.
func NewSchema(namespace, name, version, fingerprint string) *schema.Schema {
	return &schema.Schema{
		Ref:               schema.Ref{Namespace: namespace, Name: name, Version: schema.MustParseVersion(version)},
		Format:            schema.FormatJSON,
		Content:           []byte(`{"type":"object"}`),
		Canonical:         []byte(`{"type":"object"}`),
		Fingerprint:       fingerprint,
		CompatibilityMode: "BACKWARD",
		CreatedAt:         epoch,
		CreatedBy:         "tester",
	}
}

// Transition builds a transition record at epoch plus offset.
func Transition(from, to schema.State, trigger schema.Trigger, offset time.Duration) storage.Transition {
	return storage.Transition{Record: schema.TransitionRecord{
		From:      from,
		To:        to,
		Trigger:   trigger,
		Timestamp: epoch.Add(offset),
		Actor:     "tester",
	}}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("PutDuplicate", func(t *testing.T) { testPutDuplicate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("ListVersions", func(t *testing.T) { testListVersions(t, newStore(t)) })
	t.Run("GetByFingerprint", func(t *testing.T) { testGetByFingerprint(t, newStore(t)) })
	t.Run("FindDependents", func(t *testing.T) { testFindDependents(t, newStore(t)) })
	t.Run("LifecycleRoundTrip", func(t *testing.T) { testLifecycleRoundTrip(t, newStore(t)) })
	t.Run("CommitTransition", func(t *testing.T) { testCommitTransition(t, newStore(t)) })
	t.Run("CommitConflict", func(t *testing.T) { testCommitConflict(t, newStore(t)) })
	t.Run("Deprecation", func(t *testing.T) { testDeprecation(t, newStore(t)) })
	t.Run("Metadata", func(t *testing.T) { testMetadata(t, newStore(t)) })
	t.Run("ReplaceDraft", func(t *testing.T) { testReplaceDraft(t, newStore(t)) })
	t.Run("ListDue", func(t *testing.T) { testListDue(t, newStore(t)) })
	t.Run("ConcurrentCommits", func(t *testing.T) { testConcurrentCommits(t, newStore(t)) })
}

func create(t *testing.T, store storage.Store, s *schema.Schema) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, s))
	require.NoError(t, store.CreateLifecycle(ctx, schema.NewLifecycle(s.Ref, epoch, "tester")))
}

// walk commits a chain of transitions starting from DRAFT.
func walk(t *testing.T, store storage.Store, ref schema.Ref, path ...schema.State) *schema.Lifecycle {
	t.Helper()
	ctx := context.Background()
	var lc *schema.Lifecycle
	from := schema.StateDraft
	for i, to := range path {
		var err error
		lc, err = store.CommitTransition(ctx, ref, from, Transition(from, to, schema.TriggerSubmit, time.Duration(i+1)*time.Second))
		require.NoError(t, err)
		from = to
	}
	return lc
}

var toActive = []schema.State{
	schema.StateValidating,
	schema.StateCompatibilityCheck,
	schema.StateRegistered,
	schema.StateActive,
}

func testPutGet(t *testing.T, store storage.Store) {
	ctx := context.Background()
	s := NewSchema("acme", "user", "1.0.0", "fp1")
	s.Description = "users"
	s.Metadata = map[string]string{"team": "identity"}
	s.Tags = []string{"pii"}
	s.Examples = []string{`{"id":1}`}
	s.References = []schema.Ref{{Namespace: "acme", Name: "address", Version: schema.MustParseVersion("2.0.0")}}
	require.NoError(t, store.Put(ctx, s))

	got, err := store.Get(ctx, s.Ref)
	require.NoError(t, err)
	assert.Equal(t, s.Ref, got.Ref)
	assert.Equal(t, s.Format, got.Format)
	assert.Equal(t, s.Content, got.Content)
	assert.Equal(t, s.Canonical, got.Canonical)
	assert.Equal(t, "fp1", got.Fingerprint)
	assert.Equal(t, "users", got.Description)
	assert.Equal(t, "BACKWARD", got.CompatibilityMode)
	assert.Equal(t, s.Metadata, got.Metadata)
	assert.Equal(t, s.Tags, got.Tags)
	assert.Equal(t, s.Examples, got.Examples)
	assert.Equal(t, s.References, got.References)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "tester", got.CreatedBy)

	got.Metadata["team"] = "changed"
	again, err := store.Get(ctx, s.Ref)
	require.NoError(t, err)
	assert.Equal(t, "identity", again.Metadata["team"], "returned schemas must not alias stored state")
}

func testPutDuplicate(t *testing.T, store storage.Store) {
	ctx := context.Background()
	s := NewSchema("acme", "user", "1.0.0", "fp1")
	require.NoError(t, store.Put(ctx, s))
	assert.ErrorIs(t, store.Put(ctx, s), storage.ErrAlreadyExists)

	require.NoError(t, store.CreateLifecycle(ctx, schema.NewLifecycle(s.Ref, epoch, "tester")))
	assert.ErrorIs(t, store.CreateLifecycle(ctx, schema.NewLifecycle(s.Ref, epoch, "tester")), storage.ErrAlreadyExists)
}

func testGetMissing(t *testing.T, store storage.Store) {
	ctx := context.Background()
	ref := schema.Ref{Namespace: "acme", Name: "missing", Version: schema.InitialVersion}

	_, err := store.Get(ctx, ref)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetLifecycle(ctx, ref)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.CommitTransition(ctx, ref, schema.StateDraft, Transition(schema.StateDraft, schema.StateValidating, schema.TriggerSubmit, time.Second))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	versions, err := store.ListVersions(ctx, ref.Subject())
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func testListVersions(t *testing.T, store storage.Store) {
	ctx := context.Background()
	for _, v := range []string{"1.10.0", "1.2.0", "2.0.0", "1.2.0-rc.1"} {
		require.NoError(t, store.Put(ctx, NewSchema("acme", "user", v, "fp-"+v)))
	}
	require.NoError(t, store.Put(ctx, NewSchema("acme", "order", "9.0.0", "fp-order")))

	versions, err := store.ListVersions(ctx, schema.Subject{Namespace: "acme", Name: "user"})
	require.NoError(t, err)
	var got []string
	for _, v := range versions {
		got = append(got, v.String())
	}
	assert.Equal(t, []string{"1.2.0-rc.1", "1.2.0", "1.10.0", "2.0.0"}, got)
}

func testGetByFingerprint(t *testing.T, store storage.Store) {
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, NewSchema("acme", "user", "1.0.0", "same")))
	require.NoError(t, store.Put(ctx, NewSchema("acme", "user", "1.1.0", "other")))
	require.NoError(t, store.Put(ctx, NewSchema("acme", "user", "2.0.0", "same")))
	require.NoError(t, store.Put(ctx, NewSchema("acme", "order", "1.0.0", "same")))

	matches, err := store.GetByFingerprint(ctx, schema.Subject{Namespace: "acme", Name: "user"}, "same")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "1.0.0", matches[0].Ref.Version.String())
	assert.Equal(t, "2.0.0", matches[1].Ref.Version.String())

	none, err := store.GetByFingerprint(ctx, schema.Subject{Namespace: "acme", Name: "user"}, "absent")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testFindDependents(t *testing.T, store storage.Store) {
	ctx := context.Background()
	address := NewSchema("acme", "address", "1.0.0", "fp-address")
	require.NoError(t, store.Put(ctx, address))

	user := NewSchema("acme", "user", "1.0.0", "fp-user")
	user.References = []schema.Ref{address.Ref}
	require.NoError(t, store.Put(ctx, user))

	order := NewSchema("acme", "order", "3.0.0", "fp-order")
	order.References = []schema.Ref{address.Ref}
	require.NoError(t, store.Put(ctx, order))

	unrelated := NewSchema("acme", "invoice", "1.0.0", "fp-invoice")
	unrelated.References = []schema.Ref{{Namespace: "acme", Name: "address", Version: schema.MustParseVersion("2.0.0")}}
	require.NoError(t, store.Put(ctx, unrelated))

	deps, err := store.FindDependents(ctx, address.Ref)
	require.NoError(t, err)
	assert.Equal(t, []schema.Ref{order.Ref, user.Ref}, deps)

	deps, err = store.FindDependents(ctx, user.Ref)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func testLifecycleRoundTrip(t *testing.T, store storage.Store) {
	ctx := context.Background()
	s := NewSchema("acme", "user", "1.0.0", "fp1")
	create(t, store, s)

	lc, err := store.GetLifecycle(ctx, s.Ref)
	require.NoError(t, err)
	assert.Equal(t, s.Ref, lc.Ref)
	assert.Equal(t, schema.StateDraft, lc.CurrentState)
	require.Len(t, lc.History, 1)
	assert.Equal(t, schema.TriggerCreate, lc.History[0].Trigger)
	assert.NoError(t, lc.CheckInvariants())
}

func testCommitTransition(t *testing.T, store storage.Store) {
	ctx := context.Background()
	s := NewSchema("acme", "user", "1.0.0", "fp1")
	create(t, store, s)

	lc := walk(t, store, s.Ref, toActive...)
	assert.Equal(t, schema.StateActive, lc.CurrentState)
	assert.Len(t, lc.History, 5)
	assert.Equal(t, 4, lc.Revision)

	stored, err := store.GetLifecycle(ctx, s.Ref)
	require.NoError(t, err)
	assert.Equal(t, schema.StateActive, stored.CurrentState)
	require.Len(t, stored.History, 5)
	assert.NoError(t, stored.CheckInvariants())
	for i, to := range toActive {
		assert.Equal(t, to, stored.History[i+1].To)
	}

	_, err = store.CommitTransition(ctx, s.Ref, schema.StateActive, Transition(schema.StateActive, schema.StateArchived, schema.TriggerArchive, time.Minute))
	assert.Error(t, err, "illegal transitions are refused")

	after, err := store.GetLifecycle(ctx, s.Ref)
	require.NoError(t, err)
	assert.Len(t, after.History, 5)
}

func testCommitConflict(t *testing.T, store storage.Store) {
	ctx := context.Background()
	s := NewSchema("acme", "user", "1.0.0", "fp1")
	create(t, store, s)
	walk(t, store, s.Ref, schema.StateValidating)

	_, err := store.CommitTransition(ctx, s.Ref, schema.StateDraft, Transition(schema.StateDraft, schema.StateValidating, schema.TriggerSubmit, time.Minute))
	assert.ErrorIs(t, err, storage.ErrConflict)

	lc, err := store.GetLifecycle(ctx, s.Ref)
	require.NoError(t, err)
	assert.Equal(t, schema.StateValidating, lc.CurrentState)
	assert.Len(t, lc.History, 2)
}

func testDeprecation(t *testing.T, store storage.Store) {
	ctx := context.Background()
	s := NewSchema("acme", "user", "1.0.0", "fp1")
	create(t, store, s)
	walk(t, store, s.Ref, toActive...)

	replacement := schema.Ref{Namespace: "acme", Name: "user", Version: schema.MustParseVersion("2.0.0")}
	tr := Transition(schema.StateActive, schema.StateDeprecated, schema.TriggerDeprecate, time.Hour)
	tr.Deprecation = &schema.DeprecationInfo{
		Reason:         "superseded",
		DeprecatedAt:   epoch.Add(time.Hour),
		DeprecatedBy:   "tester",
		SunsetDate:     epoch.Add(48 * time.Hour),
		MigrationGuide: "use 2.0.0",
		Replacement:    &replacement,
	}
	lc, err := store.CommitTransition(ctx, s.Ref, schema.StateActive, tr)
	require.NoError(t, err)
	require.NotNil(t, lc.Deprecation)

	stored, err := store.GetLifecycle(ctx, s.Ref)
	require.NoError(t, err)
	require.NotNil(t, stored.Deprecation)
	assert.Equal(t, "superseded", stored.Deprecation.Reason)
	assert.True(t, epoch.Add(48*time.Hour).Equal(stored.Deprecation.SunsetDate))
	require.NotNil(t, stored.Deprecation.Replacement)
	assert.Equal(t, replacement, *stored.Deprecation.Replacement)

	reactivate := Transition(schema.StateDeprecated, schema.StateActive, schema.TriggerReactivate, 2*time.Hour)
	reactivate.ClearDeprecation = true
	lc, err = store.CommitTransition(ctx, s.Ref, schema.StateDeprecated, reactivate)
	require.NoError(t, err)
	assert.Nil(t, lc.Deprecation)

	stored, err = store.GetLifecycle(ctx, s.Ref)
	require.NoError(t, err)
	assert.Nil(t, stored.Deprecation)
}

func testMetadata(t *testing.T, store storage.Store) {
	ctx := context.Background()
	s := NewSchema("acme", "user", "1.0.0", "fp1")
	create(t, store, s)
	walk(t, store, s.Ref, toActive...)

	tr := Transition(schema.StateActive, schema.StateActive, schema.TriggerUpdateMetadata, time.Hour)
	tr.Metadata = map[string]string{"owner": "team-a", "tier": "1"}
	_, err := store.CommitTransition(ctx, s.Ref, schema.StateActive, tr)
	require.NoError(t, err)

	tr = Transition(schema.StateActive, schema.StateActive, schema.TriggerUpdateMetadata, 2*time.Hour)
	tr.Metadata = map[string]string{"owner": "team-b", "tier": ""}
	lc, err := store.CommitTransition(ctx, s.Ref, schema.StateActive, tr)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "team-b"}, lc.Metadata)

	stored, err := store.GetLifecycle(ctx, s.Ref)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "team-b"}, stored.Metadata)
	assert.Len(t, stored.History, 7)
}

func testReplaceDraft(t *testing.T, store storage.Store) {
	ctx := context.Background()
	s := NewSchema("acme", "user", "1.0.0", "fp1")
	create(t, store, s)

	updated := NewSchema("acme", "user", "1.0.0", "fp2")
	updated.Content = []byte(`{"type":"object","properties":{}}`)
	require.NoError(t, store.ReplaceDraft(ctx, updated))

	got, err := store.Get(ctx, s.Ref)
	require.NoError(t, err)
	assert.Equal(t, "fp2", got.Fingerprint)
	assert.Equal(t, updated.Content, got.Content)

	walk(t, store, s.Ref, schema.StateValidating)
	assert.ErrorIs(t, store.ReplaceDraft(ctx, NewSchema("acme", "user", "1.0.0", "fp3")), storage.ErrConflict)

	missing := NewSchema("acme", "user", "9.9.9", "fp9")
	assert.ErrorIs(t, store.ReplaceDraft(ctx, missing), storage.ErrNotFound)
}

func testListDue(t *testing.T, store storage.Store) {
	ctx := context.Background()
	deprecate := func(version string, sunset time.Time) schema.Ref {
		s := NewSchema("acme", "user", version, "fp-"+version)
		create(t, store, s)
		walk(t, store, s.Ref, toActive...)
		tr := Transition(schema.StateActive, schema.StateDeprecated, schema.TriggerDeprecate, time.Hour)
		tr.Deprecation = &schema.DeprecationInfo{Reason: "old", DeprecatedAt: epoch, SunsetDate: sunset}
		_, err := store.CommitTransition(ctx, s.Ref, schema.StateActive, tr)
		require.NoError(t, err)
		return s.Ref
	}

	due := deprecate("1.0.0", epoch.Add(24*time.Hour))
	deprecate("1.1.0", epoch.Add(72*time.Hour))
	exact := deprecate("1.2.0", epoch.Add(48*time.Hour))

	active := NewSchema("acme", "user", "2.0.0", "fp-2")
	create(t, store, active)
	walk(t, store, active.Ref, toActive...)

	refs, err := store.ListDue(ctx, epoch.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []schema.Ref{due, exact}, refs)

	refs, err = store.ListDue(ctx, epoch)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func testConcurrentCommits(t *testing.T, store storage.Store) {
	ctx := context.Background()
	s := NewSchema("acme", "user", "1.0.0", "fp1")
	create(t, store, s)
	walk(t, store, s.Ref, toActive...)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := Transition(schema.StateActive, schema.StateDeprecated, schema.TriggerDeprecate, time.Duration(i+10)*time.Second)
			tr.Deprecation = &schema.DeprecationInfo{Reason: "race", SunsetDate: epoch.Add(time.Hour)}
			if _, err := store.CommitTransition(ctx, s.Ref, schema.StateActive, tr); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, storage.ErrConflict)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one commit wins the expected state")
	lc, err := store.GetLifecycle(ctx, s.Ref)
	require.NoError(t, err)
	assert.Equal(t, schema.StateDeprecated, lc.CurrentState)
	assert.Len(t, lc.History, 6)
	assert.NoError(t, lc.CheckInvariants())
}
