package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/cmd/serve"
	"github.com/chirino/spacechat/internal/config"
	registrymigrate "github.com/chirino/spacechat/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Store plugins register their migrators alongside their primary interface.
	_ "github.com/chirino/spacechat/internal/plugin/store/mongo"
	_ "github.com/chirino/spacechat/internal/plugin/store/postgres"
	_ "github.com/chirino/spacechat/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: serve.DatabaseFlags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// The sub-command exists to migrate, whatever --db-migrate-at-start says.
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "db", cfg.DatastoreType)
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
