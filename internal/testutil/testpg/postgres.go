package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/spacechat/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Server is a disposable Postgres database.
type Server struct {
	DSN string
}

// Configure points cfg's datastore at the server.
func (s Server) Configure(cfg *config.Config) {
	cfg.DatastoreType = "postgres"
	cfg.DBURL = s.DSN
}

// Start runs a Postgres container for the lifetime of tb.
func Start(tb testing.TB) Server {
	tb.Helper()

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:18",
		postgres.WithDatabase("spacechat"),
		postgres.WithUsername("spacechat"),
		postgres.WithPassword("spacechat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres container: %v", err)
	}
	tb.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			tb.Errorf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("postgres connection string: %v", err)
	}
	if err := awaitConnect(ctx, dsn); err != nil {
		tb.Fatalf("postgres is not accepting connections: %v", err)
	}
	return Server{DSN: dsn}
}

// awaitConnect retries until a connection pings; the log line can precede
// the port mapping becoming reachable.
func awaitConnect(ctx context.Context, dsn string) error {
	var err error
	for deadline := time.Now().Add(20 * time.Second); time.Now().Before(deadline); time.Sleep(250 * time.Millisecond) {
		if err = ping(ctx, dsn); err == nil {
			return nil
		}
	}
	return err
}

func ping(ctx context.Context, dsn string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return conn.Ping(ctx)
}
