package testmongo

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/spacechat/internal/config"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// Server is a disposable MongoDB.
type Server struct {
	URI string
}

// Configure points cfg's datastore at the server.
func (s Server) Configure(cfg *config.Config) {
	cfg.DatastoreType = "mongo"
	cfg.DBURL = s.URI
}

// Start runs a MongoDB container for the lifetime of tb.
func Start(tb testing.TB) Server {
	tb.Helper()

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		tb.Fatalf("start mongodb container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate mongodb container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		tb.Fatalf("mongodb connection string: %v", err)
	}
	return Server{URI: uri}
}
