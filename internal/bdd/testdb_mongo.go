package bdd

import (
	"context"
	"fmt"

	mongostore "github.com/chirino/spacechat/internal/plugin/store/mongo"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/testutil/cucumber"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoTestDB implements cucumber.TestDB for MongoDB. SQL steps are skipped.
type MongoTestDB struct {
	Client *mongo.Client
}

var _ cucumber.TestDB = (*MongoTestDB)(nil)

var mongoCollections = []string{
	"tasks",
	"chat_message_reads",
	"chat_messages",
	"chat_participants",
	"space_chat_links",
	"chats",
	"spaces",
}

func (d *MongoTestDB) ClearAll(ctx context.Context) error {
	db := d.Client.Database(mongostore.DatabaseName)
	for _, name := range mongoCollections {
		if _, err := db.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("cleanup: failed to clear %s: %w", name, err)
		}
	}
	return nil
}

func (d *MongoTestDB) ExecSQL(context.Context, string) ([]map[string]interface{}, error) {
	return nil, nil
}

func (d *MongoTestDB) Store() registrystore.SpaceStore {
	return mongostore.New(d.Client, mongostore.DatabaseName)
}
