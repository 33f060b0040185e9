package bdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/chirino/spacechat/internal/cmd/serve"
	"github.com/chirino/spacechat/internal/config"
	"github.com/chirino/spacechat/internal/plugin/store/sqlite"
	"github.com/chirino/spacechat/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

// testConfig is the server configuration every backend suite shares.
func testConfig(prom *MockPrometheus) config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.AdminUsers = "root"
	cfg.AuditorUsers = "root,auditor"
	cfg.PrometheusURL = prom.Server.URL
	cfg.ConsolidationInterval = 0
	cfg.Listener.Port = 0
	cfg.Listener.EnableTLS = false
	return cfg
}

// TestFeatures runs the features against SQLite with a miniredis backed
// unread cache and notify sink, so it needs no containers.
func TestFeatures(t *testing.T) {
	prom := NewMockPrometheus(t)
	redis := miniredis.RunT(t)

	cfg := testConfig(prom)
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(t.TempDir(), "spacechat.db")
	cfg.CacheType = "redis"
	cfg.NotifyType = "redis"
	cfg.RedisURL = "redis://" + redis.Addr()

	apiURL := startServer(t, &cfg)

	db, err := sqlite.Open(cfg.DBURL)
	require.NoError(t, err)
	testDB := &SQLTestDB{DB: db, Dialect: sqlite.Dialect{}, FlushCache: func(context.Context) error {
		redis.FlushAll()
		return nil
	}}

	runFeatures(t, apiURL, testDB, prom)
}

func startServer(t *testing.T, cfg *config.Config) string {
	t.Helper()
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), cfg))
	srv, err := serve.StartServer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		cancel()
	})
	return fmt.Sprintf("http://localhost:%d", srv.Running.Port)
}

func runFeatures(t *testing.T, apiURL string, db cucumber.TestDB, prom *MockPrometheus) {
	featureFiles, err := filepath.Glob(filepath.Join("testdata", "features", "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "no feature files found")

	opts := cucumber.DefaultOptions()
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.APIURL = apiURL
			suite.TestingT = t
			suite.DB = db
			suite.Extra["mockPrometheus"] = prom

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
