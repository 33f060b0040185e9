package bdd

import (
	"context"
	"testing"

	"github.com/chirino/spacechat/internal/plugin/store/postgres"
	"github.com/chirino/spacechat/internal/testutil/testpg"
	"github.com/chirino/spacechat/internal/testutil/testredis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestFeaturesPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container backed features in short mode")
	}
	prom := NewMockPrometheus(t)
	cfg := testConfig(prom)
	testpg.Start(t).Configure(&cfg)
	testredis.Start(t).Configure(&cfg)

	apiURL := startServer(t, &cfg)

	db, err := postgres.Open(cfg.DBURL)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(cfg.RedisURL)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	runFeatures(t, apiURL, &SQLTestDB{DB: db, Dialect: postgres.Dialect{}, FlushCache: func(ctx context.Context) error {
		return client.FlushAll(ctx).Err()
	}}, prom)
}
