package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/platinummonkey/lineage/pkg/storage"
)

func TestNewRedisClient_Success(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(storage.Config{RedisURL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("Failed to create Redis client: %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	if _, err := NewRedisClient(storage.Config{RedisURL: "invalid://url"}); err == nil {
		t.Fatal("Expected error for invalid Redis URL")
	}
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisClient(storage.Config{RedisURL: "redis://" + addr, RedisMaxRetries: 1}); err == nil {
		t.Fatal("Expected connection error")
	}
}

func TestNewRedisClient_WithCustomConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(storage.Config{
		RedisURL:        "redis://" + mr.Addr(),
		RedisDB:         2,
		RedisMaxRetries: 5,
		RedisPoolSize:   20,
	})
	if err != nil {
		t.Fatalf("Failed to create Redis client: %v", err)
	}
	defer client.Close()

	opts := client.Options()
	if opts.DB != 2 {
		t.Errorf("Expected DB to be 2, got %d", opts.DB)
	}
	if opts.MaxRetries != 5 {
		t.Errorf("Expected MaxRetries to be 5, got %d", opts.MaxRetries)
	}
	if opts.PoolSize != 20 {
		t.Errorf("Expected PoolSize to be 20, got %d", opts.PoolSize)
	}
}
