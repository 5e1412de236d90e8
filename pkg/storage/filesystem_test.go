package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/storage"
	"github.com/platinummonkey/lineage/pkg/storage/storagetest"
)

func TestFileSystemStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, err := storage.NewFileSystemStore(t.TempDir())
		require.NoError(t, err)
		return store
	})
}

func TestNewFileSystemStore(t *testing.T) {
	t.Run("creates storage with new directory", func(t *testing.T) {
		rootDir := filepath.Join(t.TempDir(), "test-storage")

		store, err := storage.NewFileSystemStore(rootDir)
		require.NoError(t, err)
		require.NotNil(t, store)

		_, err = os.Stat(rootDir)
		assert.NoError(t, err, "root directory should have been created")
	})

	t.Run("fails when root is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

		_, err := storage.NewFileSystemStore(filepath.Join(file, "nested"))
		assert.Error(t, err)
	})
}

func TestFileSystemStore_Layout(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFileSystemStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	s := storagetest.NewSchema("acme", "user", "1.2.3", "fp")
	require.NoError(t, store.Put(ctx, s))
	require.NoError(t, store.CreateLifecycle(ctx, schema.NewLifecycle(s.Ref, s.CreatedAt, "tester")))

	dir := filepath.Join(root, "acme", "user", "1.2.3")
	assert.FileExists(t, filepath.Join(dir, "schema.json"))
	assert.FileExists(t, filepath.Join(dir, "lifecycle.json"))
	assert.NoFileExists(t, filepath.Join(dir, "lifecycle.json.tmp"))
}

func TestFileSystemStore_IgnoresForeignDirectories(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFileSystemStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, storagetest.NewSchema("acme", "user", "1.0.0", "fp")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme", "user", "not-a-version"), 0755))

	versions, err := store.ListVersions(ctx, schema.Subject{Namespace: "acme", Name: "user"})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "1.0.0", versions[0].String())
}

func TestFileSystemStore_CorruptLifecycle(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFileSystemStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	s := storagetest.NewSchema("acme", "user", "1.0.0", "fp")
	require.NoError(t, store.Put(ctx, s))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acme", "user", "1.0.0", "lifecycle.json"), []byte("{"), 0644))

	_, err = store.GetLifecycle(ctx, s.Ref)
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}
