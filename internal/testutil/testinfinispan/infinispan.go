package testinfinispan

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chirino/spacechat/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	username = "admin"
	password = "password"
)

// Server is a disposable Infinispan with its RESP connector enabled.
type Server struct {
	Host string // host:port
}

// Configure points cfg's unread cache at the server.
func (s Server) Configure(cfg *config.Config) {
	cfg.CacheType = "infinispan"
	cfg.InfinispanHost = s.Host
	cfg.InfinispanUsername = username
	cfg.InfinispanPassword = password
}

// Start runs an Infinispan container for the lifetime of tb.
func Start(tb testing.TB) Server {
	tb.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/infinispan/server:15.2",
			ExposedPorts: []string{"11222/tcp"},
			Env:          map[string]string{"USER": username, "PASS": password},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("11222/tcp"),
				wait.ForLog("Started connector Resp"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start infinispan container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate infinispan container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "11222/tcp", "")
	if err != nil {
		tb.Fatalf("get infinispan endpoint: %v", err)
	}
	if err := awaitRESP(ctx, endpoint); err != nil {
		tb.Fatalf("infinispan RESP not ready: %v", err)
	}
	return Server{Host: endpoint}
}

// awaitRESP pings until the RESP connector answers; it comes up after the
// listening port does.
func awaitRESP(ctx context.Context, addr string) error {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		Protocol: 2,
	})
	defer client.Close()

	var err error
	for deadline := time.Now().Add(time.Minute); time.Now().Before(deadline); time.Sleep(time.Second) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("ping: %w", err)
}
