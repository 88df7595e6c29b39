package testing

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisImage is the image integration tests run against.
const RedisImage = "redis:7-alpine"

// RedisEndpoint locates a running test Redis.
type RedisEndpoint struct {
	Host string
	Port int
	URL  string
}

// StartRedis runs a disposable Redis for the lifetime of t. The test is
// skipped when no container runtime is reachable.
func StartRedis(t *testing.T, opts ...testcontainers.ContainerCustomizer) RedisEndpoint {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := TestContext(t)
	opts = append([]testcontainers.ContainerCustomizer{redis.WithLogLevel(redis.LogLevelNotice)}, opts...)
	container, err := redis.Run(ctx, RedisImage, opts...)
	if container != nil {
		t.Cleanup(func() {
			if err := container.Terminate(context.Background()); err != nil {
				t.Logf("terminate redis container: %v", err)
			}
		})
	}
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}

	var ep RedisEndpoint
	if ep.URL, err = container.ConnectionString(ctx); err != nil {
		t.Fatalf("redis connection string: %v", err)
	}
	if ep.Host, err = container.Host(ctx); err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	ep.Port = port.Int()
	return ep
}
