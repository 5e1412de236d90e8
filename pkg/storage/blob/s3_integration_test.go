//go:build integration

package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/lineage/pkg/storage"
)

// setupMinIO starts a MinIO container and returns a store bound to it
func setupMinIO(t *testing.T) *S3Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start MinIO container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: Failed to terminate MinIO container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	store, err := NewS3Store(ctx, storage.Config{
		S3Endpoint:     "http://" + host + ":" + port.Port(),
		S3AccessKey:    "minioadmin",
		S3SecretKey:    "minioadmin",
		S3Bucket:       "lineage-test",
		S3Region:       "us-east-1",
		S3UsePathStyle: true,
	})
	require.NoError(t, err)
	return store
}

func TestS3Store_Integration(t *testing.T) {
	store := setupMinIO(t)
	ctx := context.Background()

	require.NoError(t, store.HealthCheck(ctx))

	content := []byte(`syntax = "proto3"; message User { string id = 1; }`)
	hash, err := store.PutContent(ctx, content)
	require.NoError(t, err)

	again, err := store.PutContent(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	got, err := store.GetContent(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = store.GetContent(ctx, Hash([]byte("never stored")))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
