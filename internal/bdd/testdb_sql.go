package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/spacechat/internal/plugin/store/gormstore"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/testutil/cucumber"
	"gorm.io/gorm"
)

// SQLTestDB implements cucumber.TestDB for the gorm backed stores.
type SQLTestDB struct {
	DB      *gorm.DB
	Dialect gormstore.Dialect
	// FlushCache, when set, empties the unread cache along with the tables.
	FlushCache func(ctx context.Context) error
}

var _ cucumber.TestDB = (*SQLTestDB)(nil)

// Children before parents.
var sqlTables = []string{
	"tasks",
	"chat_message_reads",
	"chat_messages",
	"chat_participants",
	"space_chat_links",
	"chats",
	"space_parents",
	"spaces",
}

func (d *SQLTestDB) ClearAll(ctx context.Context) error {
	for _, table := range sqlTables {
		if err := d.DB.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
		}
	}
	if d.FlushCache != nil {
		return d.FlushCache(ctx)
	}
	return nil
}

func (d *SQLTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	rows := []map[string]interface{}{}
	if err := d.DB.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("SQL query failed: %w", err)
	}
	return rows, nil
}

func (d *SQLTestDB) Store() registrystore.SpaceStore {
	return gormstore.New(d.DB, d.Dialect)
}
