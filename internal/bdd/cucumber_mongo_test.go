package bdd

import (
	"context"
	"testing"

	"github.com/chirino/spacechat/internal/testutil/testmongo"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func TestFeaturesMongo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container backed features in short mode")
	}
	prom := NewMockPrometheus(t)

	cfg := testConfig(prom)
	testmongo.Start(t).Configure(&cfg)

	apiURL := startServer(t, &cfg)

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	runFeatures(t, apiURL, &MongoTestDB{Client: client}, prom)
}
