// Package sqlite registers a single-node SQLite backend. It backs local
// development and the engine's fast tests.
package sqlite

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/config"
	"github.com/chirino/spacechat/internal/model"
	"github.com/chirino/spacechat/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/spacechat/internal/registry/migrate"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed db/schema.sql
var schemaSQL string

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.SpaceStore, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(cfg.DBURL)
			if err != nil {
				return nil, err
			}
			return gormstore.New(db, Dialect{}), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// DSN adds the connection options the store relies on to a file path or URL.
func DSN(raw string) string {
	dsn := strings.TrimPrefix(raw, "sqlite://")
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "_busy_timeout") {
		dsn += sep + "_busy_timeout=5000"
		sep = "&"
	}
	if !strings.Contains(dsn, "_foreign_keys") {
		dsn += sep + "_foreign_keys=on"
	}
	return dsn
}

// Open connects to the database. SQLite allows a single writer, so the pool
// is pinned to one connection.
func Open(raw string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(DSN(raw)), &gorm.Config{
		NowFunc: model.Now,
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate applies the embedded schema to db.
func Migrate(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	return nil
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := Open(cfg.DBURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := Migrate(ctx, db); err != nil {
		return err
	}
	log.Info("SQLite schema migration complete")
	return nil
}

const claimLease = 5 * time.Minute

// Dialect is the SQLite flavour of gormstore.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) IsUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// ClaimReadyTasks claims inside one transaction; the single connection
// serializes claimers, so no row locking is needed.
func (Dialect) ClaimReadyTasks(ctx context.Context, db *gorm.DB, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := db.Transaction(func(tx *gorm.DB) error {
		now := model.Now()
		if err := tx.Where("retry_at <= ?", now).
			Order("retry_at, created_at").
			Limit(limit).
			Find(&tasks).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		ids := make([]interface{}, len(tasks))
		for i := range tasks {
			ids[i] = tasks[i].ID
			tasks[i].RetryAt = now.Add(claimLease)
		}
		return tx.Model(&model.Task{}).
			Where("id IN ?", ids).
			Update("retry_at", now.Add(claimLease)).Error
	})
	return tasks, err
}
