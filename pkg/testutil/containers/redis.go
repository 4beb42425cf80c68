//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"replate/internal/platform/config"
	platformredis "replate/internal/platform/redis"
)

// RedisContainer is a throwaway Redis reached through the same client setup
// the server uses.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Platform  *platformredis.Client
	Client    *redis.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	client, err := platformredis.New(ctx, config.RedisConfig{
		URL:          url,
		PoolSize:     16,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to redis: %v", err)
	}

	// No t.Cleanup: the Manager shares this container across suites.
	return &RedisContainer{Container: container, URL: url, Platform: client, Client: client.Client}
}

// FlushAll clears every key; suites call it between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	if err := r.Platform.Health(ctx); err != nil {
		return err
	}
	return r.Client.FlushAll(ctx).Err()
}
