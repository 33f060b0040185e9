package testredis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/spacechat/internal/config"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Server is a disposable Redis.
type Server struct {
	URL string // redis://host:port
}

// Configure sends cfg's unread cache and chat events to the server.
func (s Server) Configure(cfg *config.Config) {
	cfg.CacheType = "redis"
	cfg.NotifyType = "redis"
	cfg.RedisURL = s.URL
}

// Start runs a Redis container for the lifetime of tb.
func Start(tb testing.TB) Server {
	tb.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start redis container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate redis container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "redis")
	if err != nil {
		tb.Fatalf("redis endpoint: %v", err)
	}
	return Server{URL: endpoint}
}
